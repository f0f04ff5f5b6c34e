// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package editor

import "errors"

// Sentinel errors for the editor service.
var (
	// ErrNilStore indicates the service was configured without a store.
	ErrNilStore = errors.New("store must not be nil")

	// ErrSessionRequired indicates a request needs the X-Editor-Session header.
	ErrSessionRequired = errors.New("session header required")

	// ErrSessionNotFound indicates the session does not exist or has expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRateLimited indicates the session exceeded its request rate.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrServiceClosed indicates the service is shutting down.
	ErrServiceClosed = errors.New("service is closed")
)
