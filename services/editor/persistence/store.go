// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persistence reads and writes the text of editor resources.
//
// Three stores are provided: FileStore (a directory tree, optionally watched
// for external modification), BadgerStore (an embedded BadgerDB) and
// GCSStore (a Google Cloud Storage bucket). Every store returns a Stamp with
// each record; a stamp changes whenever the stored text is rewritten and is
// what the editor compares to detect external modifications.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrResourceNotFound is returned when a resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidResourceID is returned for empty, absolute or escaping ids.
	ErrInvalidResourceID = errors.New("invalid resource id")
)

// Record is the stored text of a resource and its modification stamp.
type Record struct {
	Text  string `cbor:"1,keyasint"`
	Stamp int64  `cbor:"2,keyasint"`
}

// Store loads and saves resources.
type Store interface {
	// Load returns the stored record. Wraps ErrResourceNotFound if absent.
	Load(ctx context.Context, resourceID string) (Record, error)

	// Save stores text and returns the new stamp.
	Save(ctx context.Context, resourceID, text string) (int64, error)
}

// CleanResourceID validates a resource id and returns its canonical
// slash-separated form.
//
// Description:
//
//	Resource ids are relative slash paths. Empty ids, absolute ids,
//	backslashes and ids that escape the root with ".." are rejected.
//
// Outputs:
//
//	string - The cleaned id.
//	error - Wraps ErrInvalidResourceID.
func CleanResourceID(resourceID string) (string, error) {
	if resourceID == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidResourceID)
	}
	if strings.HasPrefix(resourceID, "/") || strings.ContainsRune(resourceID, '\\') || strings.ContainsRune(resourceID, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceID, resourceID)
	}
	cleaned := path.Clean(resourceID)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the store root", ErrInvalidResourceID, resourceID)
	}
	return cleaned, nil
}
