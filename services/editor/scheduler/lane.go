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
	"context"
	"sync"

	"github.com/AleutianAI/AleutianEdit/services/editor/validation"
)

// fifoLock is an exclusive lock granted in arrival order. Release hands
// the lock directly to the oldest waiter.
type fifoLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Acquire blocks until the lock is granted or ctx is done.
func (l *fifoLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Granted concurrently with cancellation; pass it on.
		l.Release()
		return ctx.Err()
	}
}

// Release hands the lock to the next waiter or frees it.
func (l *fifoLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next)
		return
	}
	l.held = false
}

// Waiting returns the number of queued acquirers.
func (l *fifoLock) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

type laneKey struct {
	session  string
	resource string
}

// lane serializes locking requests on one resource of one session and
// tracks the most recent validation task.
type lane struct {
	key  laneKey
	lock fifoLock

	mu   sync.Mutex
	task *validation.Task

	// stale is set when a task was cancelled before it published, so the
	// current state has no diagnostics yet.
	stale bool
}

func (ln *lane) currentTask() *validation.Task {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.task
}

func (ln *lane) hasRunningTask() bool {
	t := ln.currentTask()
	return t != nil && !t.State().IsTerminal()
}

func (ln *lane) setTask(t *validation.Task) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	ln.task = t
	ln.stale = false
}

func (ln *lane) markStale() {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	ln.stale = true
}

func (ln *lane) isStale() bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.stale
}

// cached returns the published result for stateID, if the last task has one.
func (ln *lane) cached(stateID string) *validation.Result {
	t := ln.currentTask()
	if t == nil {
		return nil
	}
	r := t.Result()
	if r == nil || r.StateID != stateID {
		return nil
	}
	return r
}
