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
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
)

// Proposals implements lang.ProposalEngine.
type Proposals struct{}

// NewProposals returns a proposal engine.
func NewProposals() *Proposals {
	return &Proposals{}
}

// Propose completes the word that ends at caretOffset. After `set` only
// declared signals are offered, after `signal` or `state` nothing is (a new
// name follows), otherwise keywords and all declared names.
func (p *Proposals) Propose(ctx context.Context, res lang.Resource, text string, caretOffset int) ([]lang.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if caretOffset < 0 || caretOffset > len(text) {
		return nil, fmt.Errorf("statemachine: caret %d outside text of length %d", caretOffset, len(text))
	}
	m, _ := res.(*Model)

	start := caretOffset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isWordRune(r) {
			break
		}
		start -= size
	}
	prefix := text[start:caretOffset]

	var candidates []string
	switch previousWord(m, start) {
	case "signal", "state":
		return nil, nil
	case "set":
		candidates = signalNames(m)
	default:
		candidates = append(candidates, Keywords...)
		candidates = append(candidates, signalNames(m)...)
		candidates = append(candidates, stateNames(m)...)
	}

	seen := make(map[string]bool, len(candidates))
	var out []lang.Proposal
	for _, c := range candidates {
		if seen[c] || c == prefix || !strings.HasPrefix(c, prefix) {
			continue
		}
		seen[c] = true
		out = append(out, lang.Proposal{
			Label:         c,
			Insert:        c,
			ReplaceOffset: start,
			ReplaceLength: len(prefix),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// previousWord returns the last word token that ends before offset.
func previousWord(m *Model, offset int) string {
	if m == nil {
		return ""
	}
	prev := ""
	for _, tok := range m.tokens {
		if tok.offset+len(tok.text) > offset {
			break
		}
		if tok.kind == tokenWord {
			prev = tok.text
		} else {
			prev = ""
		}
	}
	return prev
}

func signalNames(m *Model) []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Signals))
	for _, s := range m.Signals {
		names = append(names, s.Name)
	}
	return names
}

func stateNames(m *Model) []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.States))
	for _, st := range m.States {
		if st.Name.Name != "" {
			names = append(names, st.Name.Name)
		}
	}
	return names
}

// Engines returns the statemachine collaborators with the given validator pace.
func Engines(pace time.Duration) lang.Engines {
	return lang.Engines{
		Parser:    NewParser(),
		Validator: NewValidator(pace),
		Proposals: NewProposals(),
	}
}
