// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler orders editor requests on shared documents.
//
// Every (session, resource) pair has a lane: a FIFO exclusive lock plus a
// reference to the most recent validation task. Dispatch classifies a
// request, rejects it if its required state is stale, and then:
//
//   - read-only requests read a snapshot without touching the lane;
//   - locking requests cancel any running validation and wait for it to
//     stop, acquire the lane, re-check the required state, execute, and
//     start a fresh validation if the document changed or a cancelled
//     validation never delivered its diagnostics;
//   - explicit validation requests reuse published diagnostics for the
//     current state, or join or start a task under the lane and wait for it
//     without holding the lane, so any locking request can preempt them;
//   - stateless requests work on a private document built from fullText.
//
// A rejected request never acquires a lane, cancels a task, loads a
// document or runs the parser.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/classify"
	"github.com/AleutianAI/AleutianEdit/services/editor/conflict"
	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
	"github.com/AleutianAI/AleutianEdit/services/editor/persistence"
	"github.com/AleutianAI/AleutianEdit/services/editor/session"
	"github.com/AleutianAI/AleutianEdit/services/editor/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrNilStore is returned when the scheduler is created without a store.
	ErrNilStore = errors.New("store must not be nil")

	// ErrNilSession is returned when Dispatch is called without a session.
	ErrNilSession = errors.New("session must not be nil")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scheduler is closed")

	// ErrSessionEnded is returned for requests of a session that ended
	// while they were in flight.
	ErrSessionEnded = errors.New("session ended")
)

// statelessResourceID names private documents built from fullText when the
// request carries no resource.
const statelessResourceID = "stateless"

// Publisher receives diagnostics published by background validation. It is
// called from the validation goroutine and must not block.
type Publisher interface {
	PublishDiagnostics(sessionID string, result validation.Result)
}

// Config configures a Scheduler.
type Config struct {
	// Engines are the language collaborators. All three are required.
	Engines lang.Engines

	// Store loads documents on first use and backs save and revert.
	Store persistence.Store

	// Publisher is optional.
	Publisher Publisher

	// OnLoad is called once for every document loaded into a session.
	OnLoad func(sess *session.Session, doc *document.Document)

	// Logger is optional. Defaults to slog.Default().
	Logger *slog.Logger
}

// Scheduler dispatches requests onto per-resource lanes.
//
// Thread Safety: Safe for concurrent use.
type Scheduler struct {
	engines   lang.Engines
	store     persistence.Store
	publisher Publisher
	onLoad    func(*session.Session, *document.Document)
	logger    *slog.Logger

	// ctx bounds the lifetime of every validation task.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	lanes  map[laneKey]*lane
	closed bool
}

// New creates a scheduler.
//
// Outputs:
//
//	*Scheduler - Ready to dispatch. Call Close when done.
//	error - lang.ErrIncompleteEngines or ErrNilStore.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Engines.Check(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engines:   cfg.Engines,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		onLoad:    cfg.OnLoad,
		logger:    logger.With(slog.String("component", "scheduler")),
		ctx:       ctx,
		cancel:    cancel,
		lanes:     make(map[laneKey]*lane),
	}, nil
}

// Dispatch runs one request for a session.
//
// Description:
//
//	Classifies params, checks the required state and runs the request
//	according to its class. Conflicts are results, not errors.
//
// Inputs:
//
//	ctx - Bounds the waits for preempted tasks and for the lane. Background
//	      validation started by the request outlives it.
//	sess - The client's session.
//	params - Raw request parameters (see classify.Param*).
//
// Outputs:
//
//	Result - The typed outcome.
//	error - Wraps classify.ErrBadRequest, document.ErrRange,
//	        persistence.ErrResourceNotFound, persistence.ErrInvalidResourceID,
//	        or ctx.Err().
//
// Thread Safety: Safe for concurrent use.
func (s *Scheduler) Dispatch(ctx context.Context, sess *session.Session, params map[string]string) (Result, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	req, err := classify.Classify(params)
	if err != nil {
		recordDispatch(ctx, classify.ServiceKind(params[classify.ParamServiceType]), "bad_request", 0)
		return nil, err
	}

	start := time.Now()
	ctx, span := startDispatchSpan(ctx, sess.ID(), req)
	defer span.End()

	res, err := s.dispatch(ctx, sess, req)

	label := "error"
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		label = resultLabel(res)
	}
	span.SetAttributes(attribute.String("editor.result", label))
	recordDispatch(ctx, req.Kind, label, time.Since(start))
	return res, err
}

func (s *Scheduler) dispatch(ctx context.Context, sess *session.Session, req classify.ServiceRequest) (Result, error) {
	if req.Class == classify.ClassStateless {
		return s.runStateless(ctx, req)
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	if d := conflict.Check(req, sess.Get(req.Resource)); !d.Accepted() {
		s.logger.Debug("request rejected",
			slog.String("service", string(req.Kind)),
			slog.String("resource", req.Resource),
			slog.String("conflict", string(d.Conflict)),
		)
		return &ConflictResult{Conflict: d.Conflict}, nil
	}

	doc, err := s.document(ctx, sess, req.Resource)
	if err != nil {
		return nil, err
	}

	switch req.Class {
	case classify.ClassReadOnly:
		snap := doc.Snapshot()
		return &ContentResult{FullText: snap.Text, StateID: snap.StateID, Dirty: snap.Dirty}, nil
	case classify.ClassLocking:
		return s.runLocking(ctx, sess, doc, req)
	case classify.ClassBackground:
		return s.runValidate(ctx, sess, doc, req)
	default:
		return nil, fmt.Errorf("%w: unhandled class %s", classify.ErrBadRequest, req.Class)
	}
}

// runLocking executes a request with exclusive access to the document.
func (s *Scheduler) runLocking(ctx context.Context, sess *session.Session, doc *document.Document, req classify.ServiceRequest) (Result, error) {
	ln, err := s.lane(sess, req.Resource)
	if err != nil {
		return nil, err
	}

	if d := conflict.Check(req, doc); !d.Accepted() {
		return &ConflictResult{Conflict: d.Conflict}, nil
	}
	if err := s.preempt(ctx, ln, req.Kind); err != nil {
		return nil, err
	}
	waitStart := time.Now()
	if err := ln.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer ln.lock.Release()
	recordLaneWait(ctx, time.Since(waitStart))

	// The document may have moved on while we queued. A request that is
	// now stale must not cancel the validation of the newer state.
	if d := conflict.Check(req, doc); !d.Accepted() {
		if ln.isStale() && !ln.hasRunningTask() {
			s.revalidate(ctx, sess, ln, doc)
		}
		return &ConflictResult{Conflict: d.Conflict}, nil
	}
	// A previous lane holder may have started a task while we queued.
	if err := s.preempt(ctx, ln, req.Kind); err != nil {
		return nil, err
	}

	before := doc.StateID()
	res, err := s.execute(ctx, doc, req)

	if doc.StateID() != before || ln.isStale() {
		s.revalidate(ctx, sess, ln, doc)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// revalidate starts a task for the current state. Caller holds the lane.
func (s *Scheduler) revalidate(ctx context.Context, sess *session.Session, ln *lane, doc *document.Document) {
	if _, err := s.startTask(ctx, sess, ln, doc); err != nil {
		s.logger.Warn("could not start validation",
			slog.String("resource", doc.ResourceID()),
			slog.String("error", err.Error()),
		)
	}
}

// runValidate serves an explicit validation request.
func (s *Scheduler) runValidate(ctx context.Context, sess *session.Session, doc *document.Document, req classify.ServiceRequest) (Result, error) {
	ln, err := s.lane(sess, req.Resource)
	if err != nil {
		return nil, err
	}
	if r := ln.cached(doc.StateID()); r != nil {
		return validationResult(r), nil
	}

	if err := ln.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	task, res, err := func() (*validation.Task, Result, error) {
		defer ln.lock.Release()

		if d := conflict.Check(req, doc); !d.Accepted() {
			return nil, &ConflictResult{Conflict: d.Conflict}, nil
		}
		stateID := doc.StateID()
		if r := ln.cached(stateID); r != nil {
			return nil, validationResult(r), nil
		}
		if t := ln.currentTask(); t != nil && t.StateID() == stateID && t.State() == validation.StateRunning {
			return t, nil, nil
		}
		t, err := s.startTask(ctx, sess, ln, doc)
		return t, nil, err
	}()
	if err != nil || res != nil {
		return res, err
	}

	// Wait without the lane so locking requests can preempt us.
	if err := task.Wait(ctx); err != nil {
		return nil, err
	}
	if r := task.Result(); r != nil {
		return validationResult(r), nil
	}
	return &ConflictResult{Conflict: conflict.ReasonCanceled}, nil
}

// runStateless serves assist and validate on a private document.
func (s *Scheduler) runStateless(ctx context.Context, req classify.ServiceRequest) (Result, error) {
	resourceID := req.Resource
	if resourceID == "" {
		resourceID = statelessResourceID
	}
	doc, err := document.New(ctx, resourceID, *req.FullText, 0, s.engines.Parser, s.logger)
	if err != nil {
		return nil, err
	}
	snap := doc.Snapshot()

	if req.Kind == classify.KindAssist {
		return s.propose(ctx, snap, *req.CaretOffset, false)
	}

	res := &ValidationResult{Diagnostics: []lang.Diagnostic{}}
	if snap.Degraded() {
		res.Degraded = true
		return res, nil
	}
	diags, err := s.engines.Validator.Validate(ctx, snap.Resource)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("stateless validation failed", slog.String("error", err.Error()))
		res.Degraded = true
		return res, nil
	}
	if diags != nil {
		res.Diagnostics = diags
	}
	return res, nil
}

// execute runs a locking request. Caller holds the lane.
func (s *Scheduler) execute(ctx context.Context, doc *document.Document, req classify.ServiceRequest) (Result, error) {
	switch req.Kind {
	case classify.KindUpdate:
		var snap *document.Snapshot
		var err error
		if req.FullText != nil {
			snap, err = doc.ReplaceText(ctx, *req.FullText)
		} else {
			snap, err = doc.ApplyDelta(ctx, req.Delta.ToDocument())
		}
		if err != nil {
			return nil, err
		}
		return &DocumentStateResult{StateID: snap.StateID}, nil

	case classify.KindAssist:
		if req.Delta != nil {
			if _, err := doc.ApplyDelta(ctx, req.Delta.ToDocument()); err != nil {
				return nil, err
			}
		}
		return s.propose(ctx, doc.Snapshot(), *req.CaretOffset, true)

	case classify.KindSave:
		snap, err := doc.Persist(ctx, func(ctx context.Context, text string) (int64, error) {
			return s.store.Save(ctx, doc.ResourceID(), text)
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("document saved", slog.String("resource", doc.ResourceID()), slog.Int64("stamp", snap.Stamp))
		return &DocumentStateResult{StateID: snap.StateID}, nil

	case classify.KindRevert:
		rec, err := s.store.Load(ctx, doc.ResourceID())
		if err != nil {
			return nil, err
		}
		snap, err := doc.Reload(ctx, rec.Text, rec.Stamp)
		if err != nil {
			return nil, err
		}
		return &ContentResult{FullText: snap.Text, StateID: snap.StateID, Dirty: snap.Dirty}, nil

	default:
		return nil, fmt.Errorf("%w: %s is not a locking service", classify.ErrBadRequest, req.Kind)
	}
}

func (s *Scheduler) propose(ctx context.Context, snap *document.Snapshot, caret int, withState bool) (*ProposalResult, error) {
	if caret > len(snap.Text) {
		return nil, fmt.Errorf("%w: caret %d exceeds text length %d", document.ErrRange, caret, len(snap.Text))
	}
	res := &ProposalResult{Entries: []lang.Proposal{}}
	if withState {
		res.StateID = snap.StateID
	}
	if snap.Degraded() {
		res.Degraded = true
		return res, nil
	}

	entries, err := s.engines.Proposals.Propose(ctx, snap.Resource, snap.Text, caret)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("proposal engine failed",
			slog.String("resource", snap.ResourceID),
			slog.String("error", err.Error()),
		)
		res.Degraded = true
		return res, nil
	}
	if entries != nil {
		res.Entries = entries
	}
	return res, nil
}

// preempt cancels the lane's running task and waits for it to stop.
// Concurrent callers share the same wait.
func (s *Scheduler) preempt(ctx context.Context, ln *lane, by classify.ServiceKind) error {
	t := ln.currentTask()
	if t == nil || t.State().IsTerminal() {
		return nil
	}
	if t.Cancel(validation.CancelReason{Kind: validation.CancelPreempted, By: string(by)}) {
		ln.markStale()
		recordPreemption(ctx, by)
		s.logger.Debug("validation preempted",
			slog.String("task_id", t.ID()),
			slog.String("resource", t.ResourceID()),
			slog.String("by", string(by)),
		)
	}
	return t.Wait(ctx)
}

// startTask starts validation of the current snapshot. Caller holds the
// lane. Any previous task has terminated before the new one starts.
func (s *Scheduler) startTask(ctx context.Context, sess *session.Session, ln *lane, doc *document.Document) (*validation.Task, error) {
	if prev := ln.currentTask(); prev != nil && !prev.State().IsTerminal() {
		reason := validation.CancelReason{Kind: validation.CancelPreempted, By: "revalidate"}
		if err := prev.CancelAndWait(ctx, reason); err != nil {
			return nil, err
		}
	}

	sessionID := sess.ID()
	t, err := validation.Start(s.ctx, validation.Config{
		Snapshot:     doc.Snapshot(),
		Validator:    s.engines.Validator,
		StillCurrent: func(stateID string) bool { return doc.StateID() == stateID },
		Publish: func(r validation.Result) {
			if s.publisher != nil {
				s.publisher.PublishDiagnostics(sessionID, r)
			}
		},
		Logger: s.logger,
	})
	if err != nil {
		return nil, err
	}
	ln.setTask(t)
	return t, nil
}

// document returns the session's document, loading it from the store on
// first use.
func (s *Scheduler) document(ctx context.Context, sess *session.Session, resourceID string) (*document.Document, error) {
	return sess.GetOrLoad(ctx, resourceID, func(ctx context.Context, id string) (*document.Document, error) {
		rec, err := s.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		doc, err := document.New(ctx, id, rec.Text, rec.Stamp, s.engines.Parser, s.logger)
		if err != nil {
			return nil, err
		}
		if s.onLoad != nil {
			s.onLoad(sess, doc)
		}
		return doc, nil
	})
}

// lane returns the lane of a resource, creating it on first use. Ended
// sessions get no new lanes; End happens before ReleaseSession takes mu, so
// a lane created here is either seen by ReleaseSession or never created.
func (s *Scheduler) lane(sess *session.Session, resourceID string) (*lane, error) {
	key := laneKey{session: sess.ID(), resource: resourceID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ln, ok := s.lanes[key]
	if !ok {
		if sess.Ended() {
			return nil, ErrSessionEnded
		}
		ln = &lane{key: key}
		s.lanes[key] = ln
	}
	return ln, nil
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ActiveTask returns the most recent validation task of a lane, or nil.
func (s *Scheduler) ActiveTask(sessionID, resourceID string) *validation.Task {
	s.mu.Lock()
	ln, ok := s.lanes[laneKey{session: sessionID, resource: resourceID}]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return ln.currentTask()
}

// LaneCount returns the number of lanes.
func (s *Scheduler) LaneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// ReleaseSession drops the session's lanes and cancels their tasks.
//
// Description:
//
//	Called when a session ends. Running tasks are cancelled with
//	CancelSessionClosed; ReleaseSession waits for them until ctx is done.
func (s *Scheduler) ReleaseSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	var released []*lane
	for key, ln := range s.lanes {
		if key.session == sessionID {
			released = append(released, ln)
			delete(s.lanes, key)
		}
	}
	s.mu.Unlock()

	return s.cancelAll(ctx, released, validation.CancelSessionClosed)
}

// Close cancels every task and refuses further stateful requests.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	all := make([]*lane, 0, len(s.lanes))
	for _, ln := range s.lanes {
		all = append(all, ln)
	}
	s.mu.Unlock()

	err := s.cancelAll(ctx, all, validation.CancelShutdown)
	s.cancel()
	return err
}

func (s *Scheduler) cancelAll(ctx context.Context, lanes []*lane, kind validation.CancelKind) error {
	var tasks []*validation.Task
	for _, ln := range lanes {
		if t := ln.currentTask(); t != nil && t.Cancel(validation.CancelReason{Kind: kind}) {
			tasks = append(tasks, t)
		}
	}
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func validationResult(r *validation.Result) *ValidationResult {
	return &ValidationResult{StateID: r.StateID, Diagnostics: r.Diagnostics, Degraded: r.Degraded}
}
