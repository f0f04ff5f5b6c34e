// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"github.com/AleutianAI/AleutianEdit/services/editor/conflict"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
)

// Result is the outcome of a dispatched request. It is one of
// *DocumentStateResult, *ContentResult, *ProposalResult, *ValidationResult
// or *ConflictResult.
type Result interface {
	isResult()
}

// DocumentStateResult reports the state after an update or save.
type DocumentStateResult struct {
	StateID string `json:"stateId"`
}

// ContentResult is the full text of a document.
type ContentResult struct {
	FullText string `json:"fullText"`
	StateID  string `json:"stateId"`
	Dirty    bool   `json:"dirty"`
}

// ProposalResult holds content assist entries. StateID is empty for
// stateless requests.
type ProposalResult struct {
	StateID  string          `json:"stateId,omitempty"`
	Entries  []lang.Proposal `json:"entries"`
	Degraded bool            `json:"degraded,omitempty"`
}

// ValidationResult holds diagnostics for a state.
type ValidationResult struct {
	StateID     string            `json:"stateId,omitempty"`
	Diagnostics []lang.Diagnostic `json:"issues"`
	Degraded    bool              `json:"degraded,omitempty"`
}

// ConflictResult reports a rejected request.
type ConflictResult struct {
	Conflict conflict.Reason `json:"conflict"`
}

func (*DocumentStateResult) isResult() {}
func (*ContentResult) isResult()       {}
func (*ProposalResult) isResult()      {}
func (*ValidationResult) isResult()    {}
func (*ConflictResult) isResult()      {}

// resultLabel names a result for metrics and spans.
func resultLabel(r Result) string {
	switch r.(type) {
	case *ConflictResult:
		return "conflict"
	case *ValidationResult:
		return "validation"
	case *ProposalResult:
		return "proposals"
	case *ContentResult:
		return "content"
	case *DocumentStateResult:
		return "state"
	default:
		return "none"
	}
}
