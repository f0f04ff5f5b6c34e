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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateValidator blocks until released or cancelled.
type gateValidator struct {
	entered chan struct{}
	release chan struct{}
	diags   []lang.Diagnostic
	err     error
}

func newGateValidator() *gateValidator {
	return &gateValidator{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gateValidator) Validate(ctx context.Context, _ lang.Resource) ([]lang.Diagnostic, error) {
	g.entered <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
		return g.diags, g.err
	}
}

type failParser struct{}

func (failParser) Parse(context.Context, string, string) (lang.Resource, error) {
	return nil, errors.New("unparsable")
}

func snapshot(t *testing.T) *document.Snapshot {
	t.Helper()
	doc, err := document.New(context.Background(), "a.sm", "input signal x", 0, statemachine.NewParser(), nil)
	require.NoError(t, err)
	return doc.Snapshot()
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))
}

func TestStart_RequiresInputs(t *testing.T) {
	_, err := Start(context.Background(), Config{Validator: newGateValidator()})
	assert.ErrorIs(t, err, ErrNilSnapshot)

	_, err = Start(context.Background(), Config{Snapshot: snapshot(t)})
	assert.ErrorIs(t, err, ErrNilValidator)
}

func TestTask_PublishesWhenCurrent(t *testing.T) {
	v := newGateValidator()
	v.diags = []lang.Diagnostic{{Severity: lang.SeverityWarning, Message: "w"}}
	snap := snapshot(t)

	var published []Result
	var mu sync.Mutex
	task, err := Start(context.Background(), Config{
		Snapshot:     snap,
		Validator:    v,
		StillCurrent: func(id string) bool { return id == snap.StateID },
		Publish: func(r Result) {
			mu.Lock()
			published = append(published, r)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	<-v.entered
	assert.Equal(t, StateRunning, task.State())
	close(v.release)
	waitDone(t, task)

	assert.Equal(t, StateCompleted, task.State())
	assert.Equal(t, OutcomePublished, task.Outcome())
	require.NotNil(t, task.Result())
	assert.Equal(t, snap.StateID, task.Result().StateID)
	assert.False(t, task.Result().Degraded)
	mu.Lock()
	assert.Len(t, published, 1)
	mu.Unlock()
	assert.False(t, task.Cancel(CancelReason{Kind: CancelPreempted}), "completed task is not cancellable")
}

func TestTask_CancelPreventsPublish(t *testing.T) {
	v := newGateValidator()
	var publishes atomic.Int32
	task, err := Start(context.Background(), Config{
		Snapshot:  snapshot(t),
		Validator: v,
		Publish:   func(Result) { publishes.Add(1) },
	})
	require.NoError(t, err)
	<-v.entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, task.CancelAndWait(ctx, CancelReason{Kind: CancelPreempted, By: "update"}))

	assert.Equal(t, StateCancelled, task.State())
	assert.Equal(t, OutcomeCancelled, task.Outcome())
	assert.Nil(t, task.Result())
	assert.Zero(t, publishes.Load())
	require.NotNil(t, task.Reason())
	assert.Equal(t, "update", task.Reason().By)
	assert.False(t, task.Reason().Timestamp.IsZero())
	assert.False(t, task.Cancel(CancelReason{}), "second cancel is a no-op")
}

func TestTask_ConcurrentCancelAndWait(t *testing.T) {
	v := newGateValidator()
	task, err := Start(context.Background(), Config{Snapshot: snapshot(t), Validator: v})
	require.NoError(t, err)
	<-v.entered

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			assert.NoError(t, task.CancelAndWait(ctx, CancelReason{Kind: CancelPreempted}))
			assert.True(t, task.State().IsTerminal())
		}()
	}
	wg.Wait()
	assert.Equal(t, StateCancelled, task.State())
}

func TestTask_SupersededIsNotPublished(t *testing.T) {
	v := newGateValidator()
	var publishes atomic.Int32
	task, err := Start(context.Background(), Config{
		Snapshot:     snapshot(t),
		Validator:    v,
		StillCurrent: func(string) bool { return false },
		Publish:      func(Result) { publishes.Add(1) },
	})
	require.NoError(t, err)
	<-v.entered
	close(v.release)
	waitDone(t, task)

	assert.Equal(t, StateCompleted, task.State())
	assert.Equal(t, OutcomeSuperseded, task.Outcome())
	assert.Nil(t, task.Result())
	assert.Zero(t, publishes.Load())
}

func TestTask_ValidatorFailureIsDegraded(t *testing.T) {
	v := newGateValidator()
	v.err = errors.New("validator exploded")
	task, err := Start(context.Background(), Config{Snapshot: snapshot(t), Validator: v})
	require.NoError(t, err)
	<-v.entered
	close(v.release)
	waitDone(t, task)

	require.NotNil(t, task.Result())
	assert.True(t, task.Result().Degraded)
	assert.Empty(t, task.Result().Diagnostics)
}

func TestTask_UnparsableRevisionSkipsValidator(t *testing.T) {
	doc, err := document.New(context.Background(), "a.sm", "???", 0, failParser{}, nil)
	require.NoError(t, err)
	v := newGateValidator()

	task, err := Start(context.Background(), Config{Snapshot: doc.Snapshot(), Validator: v})
	require.NoError(t, err)
	waitDone(t, task)

	assert.Empty(t, v.entered)
	require.NotNil(t, task.Result())
	assert.True(t, task.Result().Degraded)
}

func TestTask_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	v := newGateValidator()
	task, err := Start(parent, Config{Snapshot: snapshot(t), Validator: v})
	require.NoError(t, err)
	<-v.entered

	cancel()
	waitDone(t, task)
	assert.Equal(t, StateCancelled, task.State())
}

func TestWait_ContextExpires(t *testing.T) {
	v := newGateValidator()
	task, err := Start(context.Background(), Config{Snapshot: snapshot(t), Validator: v})
	require.NoError(t, err)
	defer func() {
		task.Cancel(CancelReason{Kind: CancelShutdown})
		waitDone(t, task)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.DeadlineExceeded)
}

func TestStateAndKindStrings(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "cancelling", StateCancelling.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.False(t, StateCancelling.IsTerminal())
	assert.True(t, StateCompleted.IsTerminal())
	assert.Equal(t, "preempted", CancelPreempted.String())
	assert.Equal(t, "session_closed", CancelSessionClosed.String())
	assert.Equal(t, "shutdown", CancelShutdown.String())
}
