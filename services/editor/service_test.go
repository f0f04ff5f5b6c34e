// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package editor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang/statemachine"
	"github.com/AleutianAI/AleutianEdit/services/editor/persistence"
	"github.com/AleutianAI/AleutianEdit/services/editor/scheduler"
	"github.com/AleutianAI/AleutianEdit/services/editor/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(ServiceConfig{Engines: statemachine.Engines(0)})
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestService_ExternalModificationConflicts(t *testing.T) {
	var watcher *persistence.Watcher
	svc, store := newTestService(t, func(cfg *ServiceConfig) {
		fs := cfg.Store.(*persistence.FileStore)
		w, err := persistence.NewWatcher(fs, nil)
		require.NoError(t, err)
		watcher = w
		cfg.Watcher = w
	})
	require.NotNil(t, watcher)

	sess, _, err := svc.Session("watched")
	require.NoError(t, err)
	res, err := svc.Dispatch(context.Background(), sess, map[string]string{"serviceType": "load", "resource": testResource})
	require.NoError(t, err)
	s0 := res.(*scheduler.ContentResult).StateID

	// Our own save must not look like an external change.
	_, err = svc.Dispatch(context.Background(), sess, map[string]string{"serviceType": "save", "resource": testResource})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, s0, sess.Get(testResource).StateID())

	p, err := store.Path(testResource)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("input signal y end"), 0o644))

	require.Eventually(t, func() bool {
		return sess.Get(testResource).StateID() != s0
	}, 3*time.Second, 10*time.Millisecond)

	res, err = svc.Dispatch(context.Background(), sess, map[string]string{
		"serviceType": "update", "resource": testResource, "deltaText": "z", "deltaOffset": "0", "requiredStateId": s0,
	})
	require.NoError(t, err)
	assert.IsType(t, &scheduler.ConflictResult{}, res)
}

func TestService_EndSessionReleasesEverything(t *testing.T) {
	svc, _ := newTestService(t, nil)

	sess, created, err := svc.Session("")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, sess.ID())

	_, err = svc.Dispatch(context.Background(), sess, map[string]string{
		"serviceType": "update", "resource": testResource, "deltaText": "x", "deltaOffset": "0",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.LaneCount())

	sub, ok := svc.Hub().subscribe(sess.ID())
	require.True(t, ok)

	assert.True(t, svc.EndSession(sess.ID()))
	assert.Zero(t, svc.LaneCount())
	assert.Zero(t, svc.Hub().Subscribers(sess.ID()))
	select {
	case <-sub.done:
	default:
		t.Fatal("subscriber was not disconnected")
	}
	assert.False(t, svc.EndSession(sess.ID()))

	// A request that was in flight when the session ended gets no lane.
	_, err = svc.Dispatch(context.Background(), sess, map[string]string{
		"serviceType": "update", "resource": testResource, "deltaText": "y", "deltaOffset": "0",
	})
	assert.ErrorIs(t, err, scheduler.ErrSessionEnded)
	assert.Zero(t, svc.LaneCount())

	status, code := errorStatus(err)
	assert.Equal(t, 404, status)
	assert.Equal(t, "SESSION_NOT_FOUND", code)
}

func TestService_ClosedRejectsSessions(t *testing.T) {
	svc, _ := newTestService(t, nil)
	require.NoError(t, svc.Close(context.Background()))

	_, _, err := svc.Session("late")
	assert.ErrorIs(t, err, ErrServiceClosed)
	assert.NoError(t, svc.Close(context.Background()))
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil)
	sub, ok := hub.subscribe("s")
	require.True(t, ok)

	for i := 0; i < subscriberBuffer*2; i++ {
		hub.PublishDiagnostics("s", validation.Result{StateID: "x"})
	}
	assert.Len(t, sub.send, subscriberBuffer)

	hub.PublishDiagnostics("nobody", validation.Result{})

	hub.Close()
	_, ok = hub.subscribe("s")
	assert.False(t, ok)
}
