// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "input signal x state foo end"

type failingParser struct{}

func (failingParser) Parse(context.Context, string, string) (lang.Resource, error) {
	return nil, errors.New("boom")
}

func newDoc(t *testing.T, text string) *Document {
	t.Helper()
	d, err := New(context.Background(), "test.sm", text, 1, statemachine.NewParser(), nil)
	require.NoError(t, err)
	return d
}

func TestComputeStateID(t *testing.T) {
	a := ComputeStateID(0, sample)
	assert.Len(t, a, 32)
	assert.Equal(t, a, ComputeStateID(0, sample))
	assert.NotEqual(t, a, ComputeStateID(1, sample))
	assert.NotEqual(t, a, ComputeStateID(0, sample+" "))
}

func TestNew_RequiresParser(t *testing.T) {
	_, err := New(context.Background(), "x", "", 0, nil, nil)
	assert.ErrorIs(t, err, ErrNilParser)
}

func TestApplyDelta_Replace(t *testing.T) {
	d := newDoc(t, sample)
	before := d.StateID()

	snap, err := d.ApplyDelta(context.Background(), Delta{Text: "bar", Offset: 21, ReplaceLength: 3})
	require.NoError(t, err)

	assert.Equal(t, "input signal x state bar end", snap.Text)
	assert.NotEqual(t, before, snap.StateID)
	assert.Equal(t, snap.StateID, d.StateID())
	assert.True(t, snap.Dirty)
	assert.False(t, snap.Degraded())
}

func TestApplyDelta_NoOpKeepsStateID(t *testing.T) {
	d := newDoc(t, sample)
	before := d.Snapshot()

	tests := []Delta{
		{Offset: 5},
		{Text: "foo", Offset: 21, ReplaceLength: 3},
	}
	for _, delta := range tests {
		snap, err := d.ApplyDelta(context.Background(), delta)
		require.NoError(t, err)
		assert.Equal(t, before.StateID, snap.StateID)
		assert.Same(t, before, d.Snapshot())
	}
}

func TestApplyDelta_RangeErrorLeavesDocumentUnchanged(t *testing.T) {
	d := newDoc(t, "héllo")
	before := d.Snapshot()

	tests := []struct {
		name  string
		delta Delta
	}{
		{"negative offset", Delta{Text: "a", Offset: -1}},
		{"negative length", Delta{Offset: 0, ReplaceLength: -1}},
		{"past end", Delta{Offset: 4, ReplaceLength: 5}},
		{"offset past end", Delta{Text: "a", Offset: 100}},
		{"splits rune", Delta{Text: "a", Offset: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.ApplyDelta(context.Background(), tt.delta)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRange)
			assert.Same(t, before, d.Snapshot())
		})
	}
}

func TestApplyDelta_AppendAtEnd(t *testing.T) {
	d := newDoc(t, "ab")
	snap, err := d.ApplyDelta(context.Background(), Delta{Text: "c", Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, "abc", snap.Text)
}

func TestApplyDelta_CancelledContextCommitsNothing(t *testing.T) {
	d := newDoc(t, sample)
	before := d.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.ApplyDelta(ctx, Delta{Text: "zzz", Offset: 0})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, before, d.Snapshot())
}

func TestApplyDelta_ParseErrorIsDegraded(t *testing.T) {
	d, err := New(context.Background(), "test.sm", "a", 0, failingParser{}, nil)
	require.NoError(t, err)

	snap, err := d.ApplyDelta(context.Background(), Delta{Text: "b", Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, "ab", snap.Text)
	assert.True(t, snap.Degraded())
	assert.Nil(t, snap.Resource)
}

func TestTouch(t *testing.T) {
	d := newDoc(t, sample)
	before := d.Snapshot()

	assert.False(t, d.Touch(1), "same stamp is our own write")
	assert.Equal(t, before.StateID, d.StateID())

	assert.True(t, d.Touch(1234))
	after := d.Snapshot()
	assert.NotEqual(t, before.StateID, after.StateID)
	assert.Equal(t, before.Text, after.Text)
	assert.Equal(t, uint64(1), after.Generation)
	assert.Equal(t, int64(1234), after.Stamp)
}

func TestMarkSavedAndReload(t *testing.T) {
	d := newDoc(t, sample)

	snap, err := d.ReplaceText(context.Background(), "input signal y")
	require.NoError(t, err)
	require.True(t, snap.Dirty)
	id := snap.StateID

	saved := d.MarkSaved(7)
	assert.False(t, saved.Dirty)
	assert.Equal(t, id, saved.StateID)
	assert.Equal(t, int64(7), saved.Stamp)

	reloaded, err := d.Reload(context.Background(), sample, 8)
	require.NoError(t, err)
	assert.Equal(t, sample, reloaded.Text)
	assert.False(t, reloaded.Dirty)

	edited, err := d.ApplyDelta(context.Background(), Delta{Text: "!", Offset: len(sample)})
	require.NoError(t, err)
	assert.True(t, edited.Dirty)
}

func TestPersist(t *testing.T) {
	d := newDoc(t, sample)
	_, err := d.ApplyDelta(context.Background(), Delta{Text: "bar", Offset: 21, ReplaceLength: 3})
	require.NoError(t, err)
	id := d.StateID()

	var written string
	snap, err := d.Persist(context.Background(), func(_ context.Context, text string) (int64, error) {
		written = text
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "input signal x state bar end", written)
	assert.Equal(t, id, snap.StateID)
	assert.False(t, snap.Dirty)
	assert.False(t, d.Touch(99), "own write is not an external modification")

	_, err = d.Persist(context.Background(), func(context.Context, string) (int64, error) {
		return 0, errors.New("disk full")
	})
	assert.Error(t, err)
	assert.Equal(t, int64(99), d.Snapshot().Stamp)
}

func TestSnapshot_ConsistentUnderConcurrentWrites(t *testing.T) {
	d := newDoc(t, "")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := d.ApplyDelta(context.Background(), Delta{Text: "a", Offset: 0})
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 200; i++ {
		snap := d.Snapshot()
		assert.Equal(t, ComputeStateID(snap.Generation, snap.Text), snap.StateID)
	}
	wg.Wait()
	assert.Len(t, d.Snapshot().Text, 200)
}
