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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

const resourceKeyPrefix = "resource/"

// recordEncMode uses Core Deterministic Encoding so equal records always
// produce identical bytes.
var recordEncMode cbor.EncMode

func init() {
	var err error
	recordEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("persistence: CBOR encoder initialization failed: " + err.Error())
	}
}

// BadgerConfig configures an embedded BadgerDB store.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path     string
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval between value log collections. Zero disables collection,
	// which never runs for in-memory stores.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	// Default: 0.5.
	GCDiscardRatio float64

	// Logger receives BadgerDB's warnings and errors. Nil silences it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable settings without a path.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{SyncWrites: true, GCInterval: 5 * time.Minute, GCDiscardRatio: 0.5}
}

// InMemoryBadgerConfig returns settings for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore keeps resources in BadgerDB as CBOR-encoded Records. Stamps
// are strictly increasing per resource.
//
// Thread Safety: Safe for concurrent use; Save is one read-write transaction.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time

	stopGC    context.CancelFunc
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenBadgerStore opens (or creates) the database described by cfg.
//
// Outputs:
//
//	*BadgerStore - Call Close when done.
//	error - Missing path, directory creation or open failure.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts, err := badgerOptions(cfg)
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, now: time.Now}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		s.gcDone = make(chan struct{})
		go s.collectGarbage(ctx, cfg.GCInterval, ratio, cfg.Logger)
	}
	return s, nil
}

func badgerOptions(cfg BadgerConfig) (badger.Options, error) {
	if cfg.InMemory {
		opts := badger.DefaultOptions("").WithInMemory(true)
		return opts.WithLogger(badgerLog(cfg.Logger)), nil
	}
	if cfg.Path == "" {
		return badger.Options{}, errors.New("badger path is required unless in_memory")
	}
	if err := os.MkdirAll(cfg.Path, 0750); err != nil {
		return badger.Options{}, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
	}
	return badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLog(cfg.Logger)), nil
}

func (s *BadgerStore) collectGarbage(ctx context.Context, interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Keep rewriting while files qualify; ErrNoRewrite ends the round.
			for {
				err := s.db.RunValueLogGC(ratio)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
					logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Close stops garbage collection and closes the database. Safe to call
// more than once.
func (s *BadgerStore) Close() error {
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			s.stopGC()
			<-s.gcDone
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func resourceKey(cleaned string) []byte {
	return []byte(resourceKeyPrefix + cleaned)
}

// Load reads a resource.
func (s *BadgerStore) Load(ctx context.Context, resourceID string) (Record, error) {
	cleaned, err := CleanResourceID(resourceID)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	var rec Record
	err = s.db.View(func(txn *badger.Txn) error {
		var getErr error
		rec, getErr = getRecord(txn, cleaned)
		return getErr
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Save writes a resource and returns a stamp greater than any previous
// stamp of the same resource.
func (s *BadgerStore) Save(ctx context.Context, resourceID, text string) (int64, error) {
	cleaned, err := CleanResourceID(resourceID)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var stamp int64
	err = s.db.Update(func(txn *badger.Txn) error {
		stamp = s.now().UnixNano()
		prev, err := getRecord(txn, cleaned)
		switch {
		case err == nil:
			if stamp <= prev.Stamp {
				stamp = prev.Stamp + 1
			}
		case !errors.Is(err, ErrResourceNotFound):
			return err
		}

		data, err := recordEncMode.Marshal(Record{Text: text, Stamp: stamp})
		if err != nil {
			return fmt.Errorf("encode %s: %w", cleaned, err)
		}
		return txn.Set(resourceKey(cleaned), data)
	})
	if err != nil {
		return 0, err
	}
	return stamp, nil
}

func getRecord(txn *badger.Txn, cleaned string) (Record, error) {
	item, err := txn.Get(resourceKey(cleaned))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrResourceNotFound, cleaned)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", cleaned, err)
	}

	var rec Record
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &rec)
	})
	if err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", cleaned, err)
	}
	return rec, nil
}

// badgerLogger forwards BadgerDB's warnings and errors to slog. Its info
// and debug chatter goes to debug.
type badgerLogger struct {
	logger *slog.Logger
}

// badgerLog returns nil (silent) for a nil logger.
func badgerLog(logger *slog.Logger) badger.Logger {
	if logger == nil {
		return nil
	}
	return &badgerLogger{logger: logger.With(slog.String("component", "badger"))}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
