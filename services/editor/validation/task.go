// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
	"github.com/google/uuid"
)

// Config configures a task.
type Config struct {
	// Snapshot is the revision to validate. Required.
	Snapshot *document.Snapshot

	// Validator computes diagnostics. Required.
	Validator lang.Validator

	// StillCurrent reports whether the document is still at the given state
	// id. Nil means always current.
	StillCurrent func(stateID string) bool

	// Publish receives the result. Called at most once, with the task's
	// internal lock held; it must not call back into the task.
	Publish func(Result)

	// Logger is optional. Defaults to slog.Default().
	Logger *slog.Logger
}

// Task is one background validation.
//
// Thread Safety: Safe for concurrent use.
type Task struct {
	id         string
	resourceID string
	stateID    string
	started    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	reason  *CancelReason
	result  *Result
	outcome Outcome

	logger *slog.Logger
}

// Start launches a validation of cfg.Snapshot.
//
// Description:
//
//	Creates the task in StateRunning and runs the validator on its own
//	goroutine. The task's context derives from parent, so cancelling parent
//	also cancels the task.
//
// Inputs:
//
//	parent - Lifetime of the task, usually the scheduler's.
//	cfg - Task configuration.
//
// Outputs:
//
//	*Task - The running task.
//	error - ErrNilSnapshot or ErrNilValidator.
func Start(parent context.Context, cfg Config) (*Task, error) {
	if cfg.Snapshot == nil {
		return nil, ErrNilSnapshot
	}
	if cfg.Validator == nil {
		return nil, ErrNilValidator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		id:         uuid.NewString(),
		resourceID: cfg.Snapshot.ResourceID,
		stateID:    cfg.Snapshot.StateID,
		started:    time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateRunning,
	}
	t.logger = logger.With(
		slog.String("component", "validation"),
		slog.String("task_id", t.id),
		slog.String("resource", t.resourceID),
		slog.String("state_id", t.stateID),
	)

	tasksStarted.Inc()
	tasksRunning.Inc()
	go t.run(cfg)
	return t, nil
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// ResourceID returns the validated resource.
func (t *Task) ResourceID() string { return t.resourceID }

// StateID returns the validated state id.
func (t *Task) StateID() string { return t.stateID }

// Done is closed once the validator has returned and the task is terminal.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reason returns the cancellation reason, or nil if not cancelled.
func (t *Task) Reason() *CancelReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Result returns the published result, or nil if the task was cancelled,
// superseded or has not finished.
func (t *Task) Result() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome != OutcomePublished {
		return nil
	}
	return t.result
}

// Outcome returns how the task ended, or "" while it is running.
func (t *Task) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Cancel signals cancellation.
//
// Description:
//
//	Transitions Running to Cancelling and cancels the validator's context.
//	Idempotent: returns false if the task was already cancelling or
//	terminal, including when it already published.
//
// Thread Safety: Safe for concurrent use.
func (t *Task) Cancel(reason CancelReason) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return false
	}
	if reason.Timestamp.IsZero() {
		reason.Timestamp = time.Now()
	}
	t.state = StateCancelling
	t.reason = &reason
	t.cancel()

	t.logger.Debug("validation cancellation requested",
		slog.String("kind", reason.Kind.String()),
		slog.String("by", reason.By),
	)
	return true
}

// Wait blocks until the task is terminal or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAndWait cancels the task and waits for it to terminate. Any number
// of callers may do this concurrently; they all wait for the same
// termination.
func (t *Task) CancelAndWait(ctx context.Context, reason CancelReason) error {
	t.Cancel(reason)
	return t.Wait(ctx)
}

func (t *Task) run(cfg Config) {
	defer close(t.done)
	defer tasksRunning.Dec()
	defer t.cancel()

	snap := cfg.Snapshot
	result := Result{TaskID: t.id, ResourceID: t.resourceID, StateID: t.stateID}

	var err error
	if snap.Degraded() {
		result.Degraded = true
		t.logger.Warn("validating unparsable revision", slog.String("error", snap.ParseErr.Error()))
	} else {
		var diags []lang.Diagnostic
		diags, err = cfg.Validator.Validate(t.ctx, snap.Resource)
		result.Diagnostics = diags
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.started)
	if t.state == StateCancelling || t.ctx.Err() != nil {
		t.finish(StateCancelled, OutcomeCancelled, elapsed)
		return
	}

	if err != nil {
		t.logger.Error("validator failed", slog.String("error", err.Error()))
		result.Diagnostics = nil
		result.Degraded = true
	}
	if result.Diagnostics == nil {
		result.Diagnostics = []lang.Diagnostic{}
	}
	if result.Degraded {
		tasksDegraded.Inc()
	}
	t.result = &result

	if cfg.StillCurrent != nil && !cfg.StillCurrent(t.stateID) {
		t.finish(StateCompleted, OutcomeSuperseded, elapsed)
		return
	}
	if cfg.Publish != nil {
		cfg.Publish(result)
	}
	t.finish(StateCompleted, OutcomePublished, elapsed)
}

// finish records the terminal state. Caller holds t.mu.
func (t *Task) finish(state State, outcome Outcome, elapsed time.Duration) {
	t.state = state
	t.outcome = outcome
	tasksFinished.WithLabelValues(string(outcome)).Inc()
	taskDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	t.logger.Debug("validation finished",
		slog.String("outcome", string(outcome)),
		slog.Duration("elapsed", elapsed),
	)
}
