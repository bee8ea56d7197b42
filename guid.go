// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package silo

import (
	"crypto/sha1"

	"github.com/google/uuid"

	"github.com/silodev/silo/internal/format"
)

// deriveGUID hashes the builder's accumulated fingerprint string into 16
// bytes: SHA-1 over a zeroed 16-byte namespace followed by the UTF-8
// bytes of the fingerprint, truncated to 16 bytes.  The RFC 4122
// version/variant bits are deliberately NOT set -- readers treat the
// bytes as an opaque fingerprint, and rewriting them would invalidate
// every cached silo on disk.
func deriveGUID(fingerprint string) [format.GUIDSize]byte {
	var out [format.GUIDSize]byte
	if fingerprint == "" {
		return out
	}
	h := sha1.New()
	var ns [format.GUIDSize]byte
	h.Write(ns[:])
	h.Write(unsafeStringBytes(fingerprint))
	copy(out[:], h.Sum(nil))
	return out
}

// guidString renders the 16 bytes in canonical UUID form, matching the
// textual GUIDs stored alongside silos by other tooling.
func guidString(guid [format.GUIDSize]byte) string {
	return uuid.UUID(guid).String()
}
