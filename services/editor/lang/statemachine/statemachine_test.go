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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, text string) *Model {
	t.Helper()
	res, err := NewParser().Parse(context.Background(), "test.sm", text)
	require.NoError(t, err)
	m, ok := res.(*Model)
	require.True(t, ok)
	return m
}

func TestParser_WellFormed(t *testing.T) {
	m := parse(t, "input signal x state bar set x = true end")

	assert.Empty(t, m.SyntaxErrors)
	require.Len(t, m.Signals, 1)
	assert.Equal(t, "x", m.Signals[0].Name)
	assert.Equal(t, 13, m.Signals[0].Offset)
	require.Len(t, m.States, 1)
	assert.Equal(t, "bar", m.States[0].Name.Name)
	assert.True(t, m.States[0].Closed)
	require.Len(t, m.States[0].Assignments, 1)
	assert.Equal(t, "true", m.States[0].Assignments[0].Value.Name)
}

func TestParser_RecordsSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing value", "input signal x state bar set x =  end"},
		{"missing end", "input signal x state bar"},
		{"stray token", "input signal x ; state s end"},
		{"missing signal keyword", "input x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := parse(t, tt.text)
			assert.NotEmpty(t, m.SyntaxErrors)
		})
	}
}

func TestParser_InvalidUTF8(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), "bad.sm", "state \xff end")
	require.Error(t, err)
	assert.ErrorIs(t, err, lang.ErrParse)
}

func TestValidator_Diagnostics(t *testing.T) {
	m := parse(t, "input signal x input signal x state a set y = maybe end state a end")

	diags, err := NewValidator(0).Validate(context.Background(), m)
	require.NoError(t, err)

	var messages []string
	for _, d := range diags {
		messages = append(messages, d.Message)
	}
	assert.Contains(t, messages, `duplicate signal "x"`)
	assert.Contains(t, messages, `duplicate state "a"`)
	assert.Contains(t, messages, `undeclared signal "y"`)
	assert.Contains(t, messages, `"maybe" is not a boolean literal`)
	assert.True(t, lang.HasErrors(diags))
}

func TestValidator_ObservesCancellation(t *testing.T) {
	m := parse(t, "input signal x state a end state b end state c end")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := NewValidator(50*time.Millisecond).Validate(ctx, m)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("validator did not observe cancellation")
	}
}

func TestValidator_RejectsForeignResource(t *testing.T) {
	_, err := NewValidator(0).Validate(context.Background(), "not a model")
	assert.Error(t, err)
}

func TestProposals(t *testing.T) {
	text := "input signal xray state bar set x"
	m := parse(t, text)
	p := NewProposals()

	t.Run("after set offers signals", func(t *testing.T) {
		props, err := p.Propose(context.Background(), m, text, len(text))
		require.NoError(t, err)
		require.Len(t, props, 1)
		assert.Equal(t, "xray", props[0].Label)
		assert.Equal(t, len(text)-1, props[0].ReplaceOffset)
		assert.Equal(t, 1, props[0].ReplaceLength)
	})

	t.Run("keywords by prefix", func(t *testing.T) {
		props, err := p.Propose(context.Background(), m, text, 19)
		require.NoError(t, err)
		var labels []string
		for _, pr := range props {
			labels = append(labels, pr.Label)
		}
		assert.Equal(t, []string{"set", "signal", "state"}, labels)
	})

	t.Run("no proposals for new names", func(t *testing.T) {
		props, err := p.Propose(context.Background(), m, text, 13)
		require.NoError(t, err)
		assert.Empty(t, props)
	})

	t.Run("caret out of range", func(t *testing.T) {
		_, err := p.Propose(context.Background(), m, text, len(text)+1)
		assert.Error(t, err)
	})
}

func TestEngines_Complete(t *testing.T) {
	assert.NoError(t, Engines(0).Check())
	assert.ErrorIs(t, lang.Engines{}.Check(), lang.ErrIncompleteEngines)
}
