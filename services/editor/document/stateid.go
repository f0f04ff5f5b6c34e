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

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// stateDomainKey separates state ids from any other BLAKE3 use in the
// process. Padded to the 32 bytes a keyed hash requires.
var stateDomainKey = [32]byte{
	'a', 'l', 'e', 'u', 't', 'i', 'a', 'n', '.', 'e', 'd', 'i', 't', 'o', 'r', '.',
	's', 't', 'a', 't', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ComputeStateID derives the state id for a document revision.
//
// Description:
//
//	Hashes the external-modification generation followed by the text with a
//	keyed BLAKE3 hash and returns the first 16 bytes in hex. The same text at
//	the same generation always yields the same id, so a no-op edit keeps the
//	id while any text change or external modification produces a new one.
//
// Inputs:
//
//	generation - Count of external modifications seen for the resource.
//	text - The full document text.
//
// Outputs:
//
//	string - 32 hex characters.
func ComputeStateID(generation uint64, text string) string {
	h, err := blake3.NewKeyed(stateDomainKey[:])
	if err != nil {
		panic("document: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], generation)
	_, _ = h.Write(gen[:])
	_, _ = h.WriteString(text)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
