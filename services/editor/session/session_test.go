// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loader(calls *atomic.Int32) Loader {
	return func(ctx context.Context, resourceID string) (*document.Document, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return document.New(ctx, resourceID, "input signal x", 0, statemachine.NewParser(), nil)
	}
}

func TestSession_GetOrLoadSharesOneLoad(t *testing.T) {
	s := New("s1")
	var calls atomic.Int32

	var wg sync.WaitGroup
	docs := make([]*document.Document, 8)
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := s.GetOrLoad(context.Background(), "a.sm", loader(&calls))
			assert.NoError(t, err)
			docs[i] = doc
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, d := range docs {
		assert.Same(t, docs[0], d)
	}
	assert.Same(t, docs[0], s.Get("a.sm"))
	assert.Equal(t, []string{"a.sm"}, s.Resources())
}

func TestSession_LoadFailureTracksNothing(t *testing.T) {
	s := New("s1")
	boom := errors.New("boom")
	_, err := s.GetOrLoad(context.Background(), "a.sm", func(context.Context, string) (*document.Document, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s.Get("a.sm"))

	_, err = s.GetOrLoad(context.Background(), "a.sm", nil)
	assert.ErrorIs(t, err, ErrNilLoader)
}

func TestSession_PutRemove(t *testing.T) {
	s := New("s1")
	doc, err := document.New(context.Background(), "b.sm", "", 0, statemachine.NewParser(), nil)
	require.NoError(t, err)

	s.Put(doc)
	assert.Same(t, doc, s.Get("b.sm"))
	assert.Same(t, doc, s.Remove("b.sm"))
	assert.Nil(t, s.Get("b.sm"))
	assert.Nil(t, s.Remove("b.sm"))
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)

	s, created := r.GetOrCreate("")
	require.True(t, created)
	assert.NotEmpty(t, s.ID())

	again, created := r.GetOrCreate(s.ID())
	assert.False(t, created)
	assert.Same(t, s, again)

	named, created := r.GetOrCreate("client-7")
	assert.True(t, created)
	assert.Equal(t, "client-7", named.ID())
	assert.Equal(t, 2, r.Len())
	assert.Same(t, named, r.Get("client-7"))
}

func TestRegistry_SweepExpiresIdleSessions(t *testing.T) {
	r := NewRegistry(RegistryConfig{TTL: time.Minute}, nil)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	var expired []string
	r.OnExpire(func(s *Session) {
		assert.True(t, s.Ended(), "hooks see the session as ended")
		expired = append(expired, s.ID())
	})

	r.GetOrCreate("old")
	now = now.Add(45 * time.Second)
	r.GetOrCreate("fresh")
	now = now.Add(30 * time.Second)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, []string{"old"}, expired)
	assert.Nil(t, r.Get("old"))
	assert.NotNil(t, r.Get("fresh"))
}

func TestRegistry_End(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	var ended atomic.Int32
	r.OnExpire(func(*Session) { ended.Add(1) })

	s, _ := r.GetOrCreate("a")
	assert.False(t, s.Ended())
	assert.True(t, r.End("a"))
	assert.True(t, s.Ended())
	assert.False(t, r.End("a"))
	assert.Equal(t, int32(1), ended.Load())
	assert.Zero(t, r.Sweep(), "sweep is disabled without a TTL")
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	r := NewRegistry(RegistryConfig{TTL: time.Hour, SweepInterval: 5 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
