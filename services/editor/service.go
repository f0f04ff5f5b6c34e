// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package editor exposes document sessions over HTTP.
//
// Service owns the session registry, the scheduler and the diagnostics hub.
// Handlers translate HTTP requests into scheduler dispatches: request
// parameters come from the query string and form body, the session from the
// X-Editor-Session header. Published diagnostics are pushed to websocket
// subscribers of the session.
package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
	"github.com/AleutianAI/AleutianEdit/services/editor/persistence"
	"github.com/AleutianAI/AleutianEdit/services/editor/scheduler"
	"github.com/AleutianAI/AleutianEdit/services/editor/session"
	"golang.org/x/time/rate"
)

// ServiceVersion is the editor service version.
const ServiceVersion = "0.1.0"

// releaseTimeout bounds how long ending a session waits for its
// validations to stop.
const releaseTimeout = 5 * time.Second

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Engines are the language collaborators.
	Engines lang.Engines

	// Store backs load, save and revert.
	Store persistence.Store

	// Watcher is optional. When set, every loaded document follows
	// external modifications of its resource.
	Watcher *persistence.Watcher

	// Sessions configures session expiry.
	Sessions session.RegistryConfig

	// RateLimit is requests per second per session. Zero disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst size.
	RateBurst int

	// Logger is optional.
	Logger *slog.Logger
}

// Service is the editor backend.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	registry  *session.Registry
	scheduler *scheduler.Scheduler
	watcher   *persistence.Watcher
	hub       *Hub
	logger    *slog.Logger

	rateLimit rate.Limit
	rateBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	unwatch  map[string][]func()
	closed   bool
}

// NewService wires a scheduler, a session registry and a diagnostics hub.
//
// Outputs:
//
//	*Service - Call Run for session expiry and Close on shutdown.
//	error - ErrNilStore or lang.ErrIncompleteEngines.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		registry:  session.NewRegistry(cfg.Sessions, logger),
		watcher:   cfg.Watcher,
		hub:       NewHub(logger),
		logger:    logger.With(slog.String("component", "editor_service")),
		rateLimit: rate.Limit(cfg.RateLimit),
		rateBurst: cfg.RateBurst,
		limiters:  make(map[string]*rate.Limiter),
		unwatch:   make(map[string][]func()),
	}

	sched, err := scheduler.New(scheduler.Config{
		Engines:   cfg.Engines,
		Store:     cfg.Store,
		Publisher: s.hub,
		OnLoad:    s.onLoad,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	s.scheduler = sched
	s.registry.OnExpire(s.release)
	return s, nil
}

// Session returns the session with id, creating it when it does not exist.
// An empty id creates a session with a fresh id.
func (s *Service) Session(id string) (*session.Session, bool, error) {
	if s.isClosed() {
		return nil, false, ErrServiceClosed
	}
	sess, created := s.registry.GetOrCreate(id)
	return sess, created, nil
}

// Allow reports whether the session may issue another request now.
func (s *Service) Allow(sessionID string) bool {
	if s.rateLimit <= 0 {
		return true
	}
	s.mu.Lock()
	lim, ok := s.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[sessionID] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// Dispatch runs one request for a session. See scheduler.Scheduler.Dispatch.
func (s *Service) Dispatch(ctx context.Context, sess *session.Session, params map[string]string) (scheduler.Result, error) {
	return s.scheduler.Dispatch(ctx, sess, params)
}

// EndSession ends a session and cancels its background work. Returns false
// if the session does not exist.
func (s *Service) EndSession(id string) bool {
	return s.registry.End(id)
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	return s.registry.Len()
}

// LaneCount returns the number of scheduler lanes.
func (s *Service) LaneCount() int {
	return s.scheduler.LaneCount()
}

// Hub returns the diagnostics hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Run expires idle sessions until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.registry.Run(ctx)
}

// Close stops background validation, the watcher and the diagnostics hub.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unwatch := s.unwatch
	s.unwatch = make(map[string][]func())
	s.mu.Unlock()

	for _, fns := range unwatch {
		for _, fn := range fns {
			fn()
		}
	}
	s.hub.Close()
	err := s.scheduler.Close(ctx)
	if s.watcher != nil {
		if werr := s.watcher.Close(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// onLoad subscribes a freshly loaded document to external modifications.
func (s *Service) onLoad(sess *session.Session, doc *document.Document) {
	if s.watcher == nil {
		return
	}
	unwatch, err := s.watcher.Watch(doc.ResourceID(), func(ev persistence.ChangeEvent) {
		if doc.Touch(ev.Stamp) {
			s.logger.Info("resource changed outside the editor",
				slog.String("session_id", sess.ID()),
				slog.String("resource", ev.ResourceID),
				slog.String("change", ev.Type.String()),
			)
		}
	})
	if err != nil {
		s.logger.Warn("cannot watch resource",
			slog.String("resource", doc.ResourceID()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || sess.Ended() {
		unwatch()
		return
	}
	s.unwatch[sess.ID()] = append(s.unwatch[sess.ID()], unwatch)
}

// release runs when a session ends or expires.
func (s *Service) release(sess *session.Session) {
	id := sess.ID()

	s.mu.Lock()
	unwatch := s.unwatch[id]
	delete(s.unwatch, id)
	delete(s.limiters, id)
	s.mu.Unlock()

	for _, fn := range unwatch {
		fn()
	}
	s.hub.CloseSession(id)

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.scheduler.ReleaseSession(ctx, id); err != nil {
		s.logger.Warn("session validations did not stop in time",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("session released",
		slog.String("session_id", id),
		slog.Int("resources", len(sess.Resources())),
	)
}
