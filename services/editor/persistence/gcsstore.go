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
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage store.
type GCSConfig struct {
	Bucket string

	// Prefix is prepended to every object name, e.g. "workspaces/demo".
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// GCSStore keeps resources as objects in a bucket. The stamp is the object
// generation, which GCS changes on every overwrite.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a client and returns a store for cfg.Bucket.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return NewGCSStoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewGCSStoreWithClient wraps an existing client.
func NewGCSStoreWithClient(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName maps a resource id to its object name.
func (s *GCSStore) ObjectName(resourceID string) (string, error) {
	cleaned, err := CleanResourceID(resourceID)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return s.prefix + "/" + cleaned, nil
}

// Load reads a resource object.
func (s *GCSStore) Load(ctx context.Context, resourceID string) (Record, error) {
	name, err := s.ObjectName(resourceID)
	if err != nil {
		return Record{}, err
	}

	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("open gs://%s/%s: %w", s.bucket, name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return Record{}, fmt.Errorf("read gs://%s/%s: %w", s.bucket, name, err)
	}
	return Record{Text: string(data), Stamp: r.Attrs.Generation}, nil
}

// Save overwrites a resource object.
func (s *GCSStore) Save(ctx context.Context, resourceID, text string) (int64, error) {
	name, err := s.ObjectName(resourceID)
	if err != nil {
		return 0, err
	}

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.WriteString(w, text); err != nil {
		w.Close()
		return 0, fmt.Errorf("write gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close GCS writer for %s: %w", name, err)
	}
	return w.Attrs().Generation, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
