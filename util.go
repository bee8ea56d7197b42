// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package silo

import (
	"os"
	"strings"

	"github.com/silodev/silo/internal/unsafestring"
)

func unsafeStringBytes(s string) []byte {
	return unsafestring.ToBytes(s)
}

type stringSet map[string]struct{}

func (set stringSet) Contains(s string) bool {
	_, ok := set[s]
	return ok
}

func (set stringSet) Add(s string) {
	set[s] = struct{}{}
}

// isAllWhitespace reports whether every byte of s is ASCII
// space/tab/newline/CR.
func isAllWhitespace(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}

// processLocales derives the accepted-locale list from the environment,
// most specific first: LANGUAGE (colon-separated), then the first of
// LC_ALL, LC_MESSAGES, LANG.  Each entry contributes the value with any
// charset suffix stripped plus the bare language code, and "C" is always
// accepted.
func processLocales() []string {
	var raw []string
	if v := os.Getenv("LANGUAGE"); v != "" {
		raw = append(raw, strings.Split(v, ":")...)
	}
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(name); v != "" {
			raw = append(raw, v)
			break
		}
	}

	seen := make(stringSet)
	var locales []string
	add := func(l string) {
		if l == "" || seen.Contains(l) {
			return
		}
		seen.Add(l)
		locales = append(locales, l)
	}
	for _, v := range raw {
		// en_US.UTF-8 -> en_US -> en
		if i := strings.IndexByte(v, '.'); i >= 0 {
			v = v[:i]
		}
		add(v)
		if i := strings.IndexByte(v, '_'); i >= 0 {
			add(v[:i])
		}
	}
	add("C")
	return locales
}
