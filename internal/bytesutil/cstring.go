// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bytesutil

import (
	"bytes"
)

// CString returns the NUL-terminated string starting at off in b, without
// the terminator.  ok is false when off is out of bounds or no terminator
// is found before the end of b.
//
// The returned slice aliases b, it is not a copy.
func CString(b []byte, off uint32) (s []byte, ok bool) {
	if off > uint32(len(b)) {
		return nil, false
	}
	rest := b[off:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return nil, false
	}
	return rest[:i], true
}
