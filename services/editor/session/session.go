// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the per-client state the editor core works on.
//
// A Session maps resource ids to the documents the client has open. It is
// an explicit value owned by the transport; nothing in the core keeps
// process-wide document state. The Registry hands out sessions by id and
// expires idle ones.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"golang.org/x/sync/singleflight"
)

// ErrNilLoader is returned by GetOrLoad when no loader is given.
var ErrNilLoader = errors.New("loader must not be nil")

// Loader creates the document for a resource on first use.
type Loader func(ctx context.Context, resourceID string) (*document.Document, error)

// Session is one client's set of open documents.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	id string

	mu   sync.RWMutex
	docs map[string]*document.Document

	flight   singleflight.Group
	lastSeen atomic.Int64
	ended    atomic.Bool
}

// New creates an empty session.
func New(id string) *Session {
	s := &Session{id: id, docs: make(map[string]*document.Document)}
	s.Touch(time.Now())
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// End marks the session as ended. The registry calls it before running
// expiry hooks.
func (s *Session) End() {
	s.ended.Store(true)
}

// Ended reports whether End was called.
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Get returns the tracked document, or nil.
func (s *Session) Get(resourceID string) *document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[resourceID]
}

// Put tracks doc under its resource id, replacing any previous document.
func (s *Session) Put(doc *document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ResourceID()] = doc
}

// Remove stops tracking a resource. Returns the removed document, or nil.
func (s *Session) Remove(resourceID string) *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[resourceID]
	delete(s.docs, resourceID)
	return doc
}

// Resources returns the tracked resource ids, sorted.
func (s *Session) Resources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetOrLoad returns the tracked document or loads it.
//
// Description:
//
//	Concurrent first requests for the same resource share a single load,
//	so every caller ends up with the same *Document.
//
// Inputs:
//
//	ctx - Passed to the loader.
//	resourceID - The resource.
//	load - Creates the document. Not called if the resource is tracked.
//
// Outputs:
//
//	*document.Document - The tracked document.
//	error - The loader's error; nothing is tracked in that case.
func (s *Session) GetOrLoad(ctx context.Context, resourceID string, load Loader) (*document.Document, error) {
	if doc := s.Get(resourceID); doc != nil {
		return doc, nil
	}
	if load == nil {
		return nil, ErrNilLoader
	}

	v, err, _ := s.flight.Do(resourceID, func() (interface{}, error) {
		if doc := s.Get(resourceID); doc != nil {
			return doc, nil
		}
		doc, err := load(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		s.Put(doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*document.Document), nil
}
