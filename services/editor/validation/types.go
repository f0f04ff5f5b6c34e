// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation runs cancellable background validation of one document
// revision.
//
// A Task validates the snapshot it was started with. It can be cancelled at
// any time; cancellation is cooperative (the validator observes its
// context) and Wait returns only after the validator has returned. A task
// publishes its diagnostics only if it was not cancelled and the document is
// still at the validated state. The cancellation check and the publish step
// are serialized by the task, so a task that lost the race to Cancel never
// publishes.
package validation

import (
	"errors"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilValidator is returned when a task is started without a validator.
	ErrNilValidator = errors.New("validator must not be nil")

	// ErrNilSnapshot is returned when a task is started without a snapshot.
	ErrNilSnapshot = errors.New("snapshot must not be nil")
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// State is the lifecycle state of a task.
type State int32

const (
	// StateRunning indicates the validator is executing.
	StateRunning State = iota

	// StateCancelling indicates cancellation was signalled and the validator
	// has not returned yet.
	StateCancelling

	// StateCancelled indicates the validator returned after cancellation.
	StateCancelled

	// StateCompleted indicates the validator returned without cancellation.
	StateCompleted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateCompleted
}

// CancelKind indicates why a task was cancelled.
type CancelKind int

const (
	// CancelPreempted indicates a locking request needed the document.
	CancelPreempted CancelKind = iota

	// CancelSessionClosed indicates the owning session ended.
	CancelSessionClosed

	// CancelShutdown indicates the server is shutting down.
	CancelShutdown
)

// String returns the string representation of the cancel kind.
func (k CancelKind) String() string {
	switch k {
	case CancelPreempted:
		return "preempted"
	case CancelSessionClosed:
		return "session_closed"
	case CancelShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// CancelReason describes a cancellation.
type CancelReason struct {
	Kind CancelKind

	// By names the request kind that caused a preemption, if any.
	By string

	Timestamp time.Time
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// Result is what a finished task produced.
type Result struct {
	TaskID      string            `json:"taskId"`
	ResourceID  string            `json:"resource"`
	StateID     string            `json:"stateId"`
	Diagnostics []lang.Diagnostic `json:"diagnostics"`

	// Degraded is true when the revision could not be parsed or the
	// validator failed; Diagnostics is empty in that case.
	Degraded bool `json:"degraded"`
}

// Outcome describes how a terminated task ended.
type Outcome string

const (
	OutcomePublished  Outcome = "published"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeCancelled  Outcome = "cancelled"
)
