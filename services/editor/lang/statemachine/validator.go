// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
)

// Validator implements lang.Validator.
type Validator struct {
	// Pace is slept between checks, observing cancellation while waiting.
	// Zero validates as fast as possible.
	Pace time.Duration
}

// NewValidator returns a validator that sleeps pace between checks.
func NewValidator(pace time.Duration) *Validator {
	return &Validator{Pace: pace}
}

// Validate reports syntax errors, duplicate declarations and assignments to
// undeclared signals.
func (v *Validator) Validate(ctx context.Context, res lang.Resource) ([]lang.Diagnostic, error) {
	m, ok := res.(*Model)
	if !ok || m == nil {
		return nil, fmt.Errorf("statemachine: unexpected resource type %T", res)
	}

	diags := append([]lang.Diagnostic(nil), m.SyntaxErrors...)

	declared := make(map[string]bool, len(m.Signals))
	for _, s := range m.Signals {
		if err := v.step(ctx); err != nil {
			return nil, err
		}
		if declared[s.Name] {
			diags = append(diags, symbolDiag(lang.SeverityError, s, fmt.Sprintf("duplicate signal %q", s.Name)))
		}
		declared[s.Name] = true
	}

	states := make(map[string]bool, len(m.States))
	for _, st := range m.States {
		if err := v.step(ctx); err != nil {
			return nil, err
		}
		if st.Name.Name != "" {
			if states[st.Name.Name] {
				diags = append(diags, symbolDiag(lang.SeverityError, st.Name, fmt.Sprintf("duplicate state %q", st.Name.Name)))
			}
			states[st.Name.Name] = true
		}
		if len(st.Assignments) == 0 && st.Closed {
			diags = append(diags, symbolDiag(lang.SeverityInfo, st.Name, fmt.Sprintf("state %q assigns no signals", st.Name.Name)))
		}
		for _, a := range st.Assignments {
			if !declared[a.Target.Name] {
				diags = append(diags, symbolDiag(lang.SeverityError, a.Target, fmt.Sprintf("undeclared signal %q", a.Target.Name)))
			}
			if a.Value.Name != "true" && a.Value.Name != "false" {
				diags = append(diags, symbolDiag(lang.SeverityWarning, a.Value, fmt.Sprintf("%q is not a boolean literal", a.Value.Name)))
			}
		}
	}
	return diags, nil
}

func (v *Validator) step(ctx context.Context) error {
	if v.Pace <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(v.Pace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func symbolDiag(sev lang.Severity, s Symbol, msg string) lang.Diagnostic {
	return lang.Diagnostic{Severity: sev, Message: msg, Offset: s.Offset, Length: len(s.Name)}
}
