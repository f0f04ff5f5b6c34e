// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ChangeType is the kind of external change seen on a watched resource.
type ChangeType int

const (
	// ChangeWrite indicates the file content was written in place.
	ChangeWrite ChangeType = iota

	// ChangeCreate indicates the file was created or renamed into place.
	ChangeCreate

	// ChangeRemove indicates the file was deleted or renamed away.
	ChangeRemove
)

// String returns the string representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "write"
	case ChangeCreate:
		return "create"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ChangeEvent describes a change to a watched resource.
type ChangeEvent struct {
	ResourceID string
	Path       string
	Type       ChangeType

	// Stamp is the file's stamp after the change, or 0 if it is gone.
	Stamp int64
}

// Watcher reports modifications of FileStore resources made by other
// processes.
//
// Directories are watched rather than files because saves replace files by
// rename, which would drop a per-file watch.
//
// Thread Safety: Safe for concurrent use.
type Watcher struct {
	store  *FileStore
	fw     *fsnotify.Watcher
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[uint64]subscription // by absolute path
	dirs   map[string]int                     // watch refcount
	nextID uint64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type subscription struct {
	resourceID string
	cb         func(ChangeEvent)
}

// NewWatcher starts watching for the given store.
func NewWatcher(store *FileStore, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{
		store:  store,
		fw:     fw,
		logger: logger.With(slog.String("component", "watcher")),
		subs:   make(map[string]map[uint64]subscription),
		dirs:   make(map[string]int),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers cb for changes of resourceID.
//
// Description:
//
//	Starts watching the resource's directory if no other subscription
//	does. cb runs on the watcher goroutine and should not block.
//
// Outputs:
//
//	func() - Removes the subscription. Safe to call more than once.
//	error - Invalid resource id, or the directory cannot be watched.
func (w *Watcher) Watch(resourceID string, cb func(ChangeEvent)) (func(), error) {
	p, err := w.store.Path(resourceID)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(p)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirs[dir] == 0 {
		if err := w.fw.Add(dir); err != nil {
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++

	w.nextID++
	id := w.nextID
	if w.subs[p] == nil {
		w.subs[p] = make(map[uint64]subscription)
	}
	w.subs[p][id] = subscription{resourceID: resourceID, cb: cb}

	var once sync.Once
	return func() {
		once.Do(func() { w.unwatch(p, dir, id) })
	}, nil
}

func (w *Watcher) unwatch(p, dir string, id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.subs[p], id)
	if len(w.subs[p]) == 0 {
		delete(w.subs, p)
	}
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fw.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.logger.Debug("removing directory watch", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fw.Close()
		<-w.done
	})
	return w.closeErr
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	var change ChangeType
	switch {
	case event.Op&fsnotify.Create != 0:
		change = ChangeCreate
	case event.Op&fsnotify.Write != 0:
		change = ChangeWrite
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		change = ChangeRemove
	default:
		return
	}

	p, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	subs := make([]subscription, 0, len(w.subs[p]))
	for _, s := range w.subs[p] {
		subs = append(subs, s)
	}
	w.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	var stamp int64
	if change != ChangeRemove {
		info, err := os.Stat(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			change = ChangeRemove
		case err != nil:
			w.logger.Warn("stat after change", slog.String("path", p), slog.String("error", err.Error()))
			return
		default:
			stamp = info.ModTime().UnixNano()
		}
	}

	w.logger.Debug("external change", slog.String("path", p), slog.String("type", change.String()))
	for _, s := range subs {
		s.cb(ChangeEvent{ResourceID: s.resourceID, Path: p, Type: change, Stamp: stamp})
	}
}
