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
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps resources as files below a root directory. The stamp is
// the file's modification time in nanoseconds.
//
// Thread Safety: Safe for concurrent use. Writes are atomic renames.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at root, creating the directory.
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", abs, err)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute store root.
func (s *FileStore) Root() string {
	return s.root
}

// Path maps a resource id to its file path.
func (s *FileStore) Path(resourceID string) (string, error) {
	cleaned, err := CleanResourceID(resourceID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Load reads a resource.
func (s *FileStore) Load(ctx context.Context, resourceID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	p, err := s.Path(resourceID)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read %s: %w", resourceID, err)
	}
	stamp, err := fileStamp(p)
	if err != nil {
		return Record{}, err
	}
	return Record{Text: string(data), Stamp: stamp}, nil
}

// Save writes a resource through a temporary file and rename.
func (s *FileStore) Save(ctx context.Context, resourceID, text string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, err := s.Path(resourceID)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", resourceID, err)
	}

	tmp, err := os.CreateTemp(dir, ".edit-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file for %s: %w", resourceID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("write %s: %w", resourceID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close %s: %w", resourceID, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("rename %s: %w", resourceID, err)
	}
	return fileStamp(p)
}

func fileStamp(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.ModTime().UnixNano(), nil
}
