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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RegistryConfig configures session expiry.
type RegistryConfig struct {
	// TTL is how long a session may stay idle. Zero disables expiry.
	TTL time.Duration

	// SweepInterval is how often Run looks for idle sessions.
	// Default: TTL/4, at least one second.
	SweepInterval time.Duration
}

// Registry hands out sessions by id.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	onExpire []func(*Session)
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 && cfg.TTL > 0 {
		cfg.SweepInterval = cfg.TTL / 4
		if cfg.SweepInterval < time.Second {
			cfg.SweepInterval = time.Second
		}
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "session_registry")),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// OnExpire registers fn to run for every session that is removed, whether
// by expiry or by End.
func (r *Registry) OnExpire(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = append(r.onExpire, fn)
}

// GetOrCreate returns the session with id, creating it if needed. An empty
// id creates a session with a fresh uuid.
//
// Outputs:
//
//	*Session - The session, touched at the current time.
//	bool - True if the session was created.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if id != "" {
		if s, ok := r.sessions[id]; ok {
			s.Touch(now)
			return s, false
		}
	} else {
		id = uuid.NewString()
	}

	s := New(id)
	s.Touch(now)
	r.sessions[id] = s
	r.logger.Debug("session created", slog.String("session_id", id))
	return s, true
}

// Get returns the session with id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// End removes a session and runs the expiry hooks. Returns false if the
// session did not exist.
func (r *Registry) End(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		s.End()
	}
	delete(r.sessions, id)
	hooks := append([]func(*Session){}, r.onExpire...)
	r.mu.Unlock()

	if !ok {
		return false
	}
	for _, fn := range hooks {
		fn(s)
	}
	return true
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (r *Registry) Sweep() int {
	if r.cfg.TTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.cfg.TTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			s.End()
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	hooks := append([]func(*Session){}, r.onExpire...)
	r.mu.Unlock()

	for _, s := range expired {
		r.logger.Info("session expired", slog.String("session_id", s.ID()))
		for _, fn := range hooks {
			fn(s)
		}
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done. With expiry disabled it only
// waits for ctx.
func (r *Registry) Run(ctx context.Context) error {
	if r.cfg.TTL <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}
