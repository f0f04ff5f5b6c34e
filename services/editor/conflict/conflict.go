// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conflict implements the optimistic concurrency check that runs
// before any request is allowed to touch a document.
package conflict

import (
	"github.com/AleutianAI/AleutianEdit/services/editor/classify"
	"github.com/AleutianAI/AleutianEdit/services/editor/document"
)

// Reason names why a request was rejected.
type Reason string

const (
	// ReasonInvalidStateID means the client's required state id does not
	// match the document (or the document is not tracked at all).
	ReasonInvalidStateID Reason = "invalidStateId"

	// ReasonCanceled means an explicit validation request was preempted by
	// a higher-priority request before it finished.
	ReasonCanceled Reason = "canceled"
)

// Decision is the outcome of Check.
type Decision struct {
	Conflict Reason
}

// Accepted reports whether the request may proceed.
func (d Decision) Accepted() bool {
	return d.Conflict == ""
}

// Accept is the decision for a request that may proceed.
var Accept = Decision{}

// StateReader is the part of a document the check needs.
type StateReader interface {
	StateID() string
}

var _ StateReader = (*document.Document)(nil)

// Check compares the request's required state with the document.
//
// Description:
//
//	A request without a required state is always accepted. A request with
//	one is accepted only if doc is tracked and its current state id equals
//	the required one. An untracked document (nil) never matches, and is not
//	loaded or parsed to find out.
//
// Inputs:
//
//	req - The classified request.
//	doc - The tracked document, or nil if the session has none.
//
// Outputs:
//
//	Decision - Accept, or a conflict with ReasonInvalidStateID.
//
// Thread Safety: Reads a single atomic value; safe for concurrent use.
func Check(req classify.ServiceRequest, doc StateReader) Decision {
	if !req.HasRequiredState() {
		return Accept
	}
	if isNil(doc) || doc.StateID() != req.RequiredStateID {
		return Decision{Conflict: ReasonInvalidStateID}
	}
	return Accept
}

func isNil(doc StateReader) bool {
	if doc == nil {
		return true
	}
	d, ok := doc.(*document.Document)
	return ok && d == nil
}
