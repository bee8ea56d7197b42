// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package strtab implements the silo string table: a packed buffer of
// NUL-terminated strings, each stored exactly once and addressed by the
// byte offset of its first character.
package strtab

import (
	"github.com/silodev/silo/internal/unsafestring"
)

// Table interns strings.  Offsets are assigned in first-insertion order
// and are stable for the lifetime of the table.
type Table struct {
	buf     []byte
	offsets map[string]uint32
}

func New() *Table {
	return &Table{
		offsets: make(map[string]uint32),
	}
}

// Add returns the offset of s in the table, appending it (plus a trailing
// NUL) on first sight.  The empty string is legal and is interned like
// any other.
func (t *Table) Add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.buf = append(t.buf, unsafestring.ToBytes(s)...)
	t.buf = append(t.buf, 0)
	t.offsets[s] = off
	return off
}

// Count returns the number of distinct strings interned so far.
func (t *Table) Count() uint32 {
	return uint32(len(t.offsets))
}

// Len returns the byte length of the packed table.
func (t *Table) Len() uint32 {
	return uint32(len(t.buf))
}

// Bytes returns the packed table.  The slice aliases the table's backing
// buffer and must not be mutated.
func (t *Table) Bytes() []byte {
	return t.buf
}
