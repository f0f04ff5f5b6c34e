// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lang defines the collaborators the editor core calls into: the
// parser that builds a resource model from text, the validator that produces
// diagnostics for a model, and the proposal engine behind content assist.
//
// The core never looks inside a Resource. It only observes whether a
// collaborator succeeded, failed, or returned because its context was
// cancelled.
package lang

import (
	"context"
	"errors"
)

var (
	// ErrParse is wrapped by parsers that could not build any model.
	ErrParse = errors.New("parse failed")

	// ErrIncompleteEngines is returned when an Engines value lacks a collaborator.
	ErrIncompleteEngines = errors.New("parser, validator and proposal engine are required")
)

// Resource is the parsed model of one document revision.
type Resource any

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one validation finding. Offsets are byte offsets into the
// text the resource was parsed from.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Offset   int      `json:"offset"`
	Length   int      `json:"length"`
}

// Proposal is one content assist entry. Applying it replaces
// [ReplaceOffset, ReplaceOffset+ReplaceLength) with Insert.
type Proposal struct {
	Label         string `json:"label"`
	Insert        string `json:"insert"`
	ReplaceOffset int    `json:"replaceOffset"`
	ReplaceLength int    `json:"replaceLength"`
}

// Parser builds a Resource from document text.
//
// A parser may return a non-nil Resource together with an error; the core
// keeps the resource and reports the error as a degraded result.
type Parser interface {
	Parse(ctx context.Context, resourceID, text string) (Resource, error)
}

// Validator computes diagnostics for a resource.
//
// Implementations must observe ctx.Done() regularly (every few tens of
// milliseconds at most) and return ctx.Err() once it is closed.
type Validator interface {
	Validate(ctx context.Context, res Resource) ([]Diagnostic, error)
}

// ProposalEngine computes content assist proposals at a caret offset.
type ProposalEngine interface {
	Propose(ctx context.Context, res Resource, text string, caretOffset int) ([]Proposal, error)
}

// Engines bundles the collaborators for one language.
type Engines struct {
	Parser    Parser
	Validator Validator
	Proposals ProposalEngine
}

// Check returns ErrIncompleteEngines if any collaborator is missing.
func (e Engines) Check() error {
	if e.Parser == nil || e.Validator == nil || e.Proposals == nil {
		return ErrIncompleteEngines
	}
	return nil
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
