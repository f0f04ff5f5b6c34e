// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianEdit/services/editor/config"
	"github.com/AleutianAI/AleutianEdit/services/editor/persistence"
)

// backend is the configured store plus whatever must be closed with it.
type backend struct {
	store   persistence.Store
	watcher *persistence.Watcher
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackend opens the store selected by cfg.Backend.
func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Backend {
	case config.BackendFilesystem:
		fs, err := persistence.NewFileStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		b.store = fs
		if cfg.Watch {
			w, err := persistence.NewWatcher(fs, logger)
			if err != nil {
				return nil, err
			}
			b.watcher = w
			b.closers = append(b.closers, w.Close)
		}

	case config.BackendBadger:
		bcfg := persistence.DefaultBadgerConfig()
		bcfg.Path = cfg.Badger.Path
		bcfg.InMemory = cfg.Badger.InMemory
		bcfg.SyncWrites = cfg.Badger.SyncWrites
		bcfg.GCInterval = cfg.Badger.GCInterval
		bcfg.Logger = logger
		store, err := persistence.OpenBadgerStore(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		b.closers = append(b.closers, store.Close)
		b.store = store

	case config.BackendGCS:
		store, err := persistence.NewGCSStore(ctx, persistence.GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		b.store = store

	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}

	logger.Info("storage opened", slog.String("backend", cfg.Backend))
	return b, nil
}
