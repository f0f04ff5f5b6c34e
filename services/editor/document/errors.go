// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import "errors"

var (
	// ErrRange is returned when a delta falls outside the document text or
	// splits a UTF-8 sequence. The document is left unchanged.
	ErrRange = errors.New("delta out of range")

	// ErrNilParser is returned when a document is created without a parser.
	ErrNilParser = errors.New("parser must not be nil")
)
