// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document holds the versioned, server-side state of one edited
// resource.
//
// A Document publishes immutable Snapshots through an atomic pointer.
// Readers call Snapshot() without locking and always see a consistent
// (text, resource, state id) triple. Writers are serialized by the Document
// itself; in the editor they are additionally ordered by the scheduler's
// per-resource lane.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianEdit/services/editor/lang"
)

// Delta replaces [Offset, Offset+ReplaceLength) with Text. Offsets are byte
// offsets into the current text.
type Delta struct {
	Text          string
	Offset        int
	ReplaceLength int
}

// Snapshot is one committed revision. Never modify a Snapshot obtained from
// a Document.
type Snapshot struct {
	ResourceID string
	Text       string
	Resource   lang.Resource

	// ParseErr is set when the parser failed on Text. The text is still
	// committed; results computed from this revision are degraded.
	ParseErr error

	StateID string

	// Generation counts external modifications of the backing resource.
	Generation uint64

	// Stamp is the storage modification stamp last seen for the resource.
	Stamp int64

	// Dirty is true when Text differs from the last loaded or saved text.
	Dirty bool
}

// Degraded reports whether the revision could not be parsed.
func (s *Snapshot) Degraded() bool {
	return s.ParseErr != nil
}

// Document is the versioned state of one resource.
//
// Thread Safety: Safe for concurrent use. Snapshot and StateID never block.
type Document struct {
	resourceID string
	parser     lang.Parser
	logger     *slog.Logger

	mu        sync.Mutex
	savedText string
	current   atomic.Pointer[Snapshot]
}

// New creates a document from loaded text.
//
// Description:
//
//	Parses text and publishes the first snapshot at generation 0. A parse
//	failure does not fail New; it is recorded on the snapshot.
//
// Inputs:
//
//	ctx - Context for the initial parse.
//	resourceID - Identifier of the backing resource.
//	text - Loaded text. Becomes the saved baseline.
//	stamp - Storage modification stamp of the loaded text.
//	parser - Parser used on every commit. Must not be nil.
//	logger - Optional. Defaults to slog.Default().
//
// Outputs:
//
//	*Document - The document.
//	error - ErrNilParser, or ctx.Err() if the parse was cancelled.
func New(ctx context.Context, resourceID, text string, stamp int64, parser lang.Parser, logger *slog.Logger) (*Document, error) {
	if parser == nil {
		return nil, ErrNilParser
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Document{
		resourceID: resourceID,
		parser:     parser,
		logger:     logger.With(slog.String("component", "document"), slog.String("resource", resourceID)),
		savedText:  text,
	}
	snap, err := d.build(ctx, text, 0, stamp)
	if err != nil {
		return nil, err
	}
	d.current.Store(snap)
	return d, nil
}

// ResourceID returns the identifier of the backing resource.
func (d *Document) ResourceID() string {
	return d.resourceID
}

// Snapshot returns the current revision.
func (d *Document) Snapshot() *Snapshot {
	return d.current.Load()
}

// StateID returns the state id of the current revision.
func (d *Document) StateID() string {
	return d.current.Load().StateID
}

// ApplyDelta splices a delta into the text and commits the result.
//
// Description:
//
//	Checks the delta against the current text, splices it, re-parses and
//	publishes the new revision. The state id is replaced only as the last
//	step. A delta that leaves the text unchanged commits nothing and keeps
//	the state id.
//
// Inputs:
//
//	ctx - Context for the parse. If cancelled, nothing is committed.
//	delta - The edit.
//
// Outputs:
//
//	*Snapshot - The committed (or unchanged) revision.
//	error - Wraps ErrRange for an invalid delta; the document is unchanged.
//
// Thread Safety: Safe for concurrent use; writers are serialized.
func (d *Document) ApplyDelta(ctx context.Context, delta Delta) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.current.Load()
	if err := checkRange(cur.Text, delta); err != nil {
		return nil, err
	}

	end := delta.Offset + delta.ReplaceLength
	text := cur.Text[:delta.Offset] + delta.Text + cur.Text[end:]
	return d.commit(ctx, cur, text)
}

// ReplaceText commits text as the whole new content.
func (d *Document) ReplaceText(ctx context.Context, text string) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.commit(ctx, d.current.Load(), text)
}

// Reload replaces the content with text read back from storage and makes it
// the saved baseline.
func (d *Document) Reload(ctx context.Context, text string, stamp int64) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.current.Load()
	snap, err := d.build(ctx, text, cur.Generation, stamp)
	if err != nil {
		return nil, err
	}
	d.savedText = text
	snap.Dirty = false
	d.current.Store(snap)
	return snap, nil
}

// Touch records an external modification of the backing resource.
//
// Description:
//
//	If stamp differs from the last known storage stamp the generation is
//	incremented and a new state id is published with the text unchanged, so
//	clients still holding the old id get a conflict. A stamp equal to the
//	current one (for example our own save) is ignored.
//
// Outputs:
//
//	bool - True if a new state id was published.
func (d *Document) Touch(stamp int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.current.Load()
	if cur.Stamp == stamp {
		return false
	}
	next := *cur
	next.Generation++
	next.Stamp = stamp
	next.StateID = ComputeStateID(next.Generation, next.Text)
	d.current.Store(&next)

	d.logger.Info("external modification detected",
		slog.Int64("stamp", stamp),
		slog.Uint64("generation", next.Generation),
	)
	return true
}

// MarkSaved records that the current text was written with the given stamp.
// The state id does not change.
func (d *Document) MarkSaved(stamp int64) *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.markSaved(stamp)
}

// Persist writes the current text through write and records the returned
// stamp as saved. Touch waits for the write to finish, so a change
// notification caused by our own write sees the recorded stamp and is
// ignored.
func (d *Document) Persist(ctx context.Context, write func(ctx context.Context, text string) (int64, error)) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stamp, err := write(ctx, d.current.Load().Text)
	if err != nil {
		return nil, err
	}
	return d.markSaved(stamp), nil
}

// markSaved publishes the current revision as saved. Caller holds d.mu.
func (d *Document) markSaved(stamp int64) *Snapshot {
	next := *d.current.Load()
	next.Stamp = stamp
	next.Dirty = false
	d.savedText = next.Text
	d.current.Store(&next)
	return &next
}

// commit publishes text on top of cur. Caller holds d.mu.
func (d *Document) commit(ctx context.Context, cur *Snapshot, text string) (*Snapshot, error) {
	if text == cur.Text {
		return cur, nil
	}
	snap, err := d.build(ctx, text, cur.Generation, cur.Stamp)
	if err != nil {
		return nil, err
	}
	snap.Dirty = text != d.savedText
	d.current.Store(snap)
	return snap, nil
}

func (d *Document) build(ctx context.Context, text string, generation uint64, stamp int64) (*Snapshot, error) {
	res, parseErr := d.parser.Parse(ctx, d.resourceID, text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if parseErr != nil {
		d.logger.Warn("parse failed, revision is degraded", slog.String("error", parseErr.Error()))
	}
	return &Snapshot{
		ResourceID: d.resourceID,
		Text:       text,
		Resource:   res,
		ParseErr:   parseErr,
		StateID:    ComputeStateID(generation, text),
		Generation: generation,
		Stamp:      stamp,
		Dirty:      text != d.savedText,
	}, nil
}

func checkRange(text string, delta Delta) error {
	end := delta.Offset + delta.ReplaceLength
	switch {
	case delta.Offset < 0 || delta.ReplaceLength < 0:
		return fmt.Errorf("%w: offset %d, replace length %d", ErrRange, delta.Offset, delta.ReplaceLength)
	case end > len(text) || end < delta.Offset:
		return fmt.Errorf("%w: [%d,%d) exceeds text length %d", ErrRange, delta.Offset, end, len(text))
	case !onRuneBoundary(text, delta.Offset) || !onRuneBoundary(text, end):
		return fmt.Errorf("%w: [%d,%d) splits a UTF-8 sequence", ErrRange, delta.Offset, end)
	}
	return nil
}

func onRuneBoundary(text string, offset int) bool {
	return offset == len(text) || utf8.RuneStart(text[offset])
}
