// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"strings"
	"sync"
)

// TailBuffer is an io.Writer that retains only the last Limit bytes
// written. The tunnel supervisor attaches one to ssh's stderr: the
// process may run for hours and log keepalive chatter, but when it
// dies only the final output explains why.
//
// Safe for concurrent use; exec.Cmd writes from its own goroutine
// while the supervisor reads the tail after Wait returns.
type TailBuffer struct {
	// Limit is the maximum number of bytes retained. Zero means the
	// default of 4096.
	Limit int

	mu      sync.Mutex
	data    []byte
	dropped bool
}

const defaultTailLimit = 4096

func (b *TailBuffer) limit() int {
	if b.Limit > 0 {
		return b.Limit
	}
	return defaultTailLimit
}

// Write appends p, discarding the oldest bytes once the limit is
// exceeded. Always reports the full length as written.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.limit()
	if len(p) >= limit {
		b.data = append(b.data[:0], p[len(p)-limit:]...)
		b.dropped = b.dropped || len(p) > limit
		return len(p), nil
	}
	overflow := len(b.data) + len(p) - limit
	if overflow > 0 {
		b.data = b.data[overflow:]
		b.dropped = true
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// String returns the retained tail as text, trimmed of trailing
// whitespace. When earlier output was discarded, the text is prefixed
// with "..." so error messages make the truncation visible.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := strings.TrimRight(string(b.data), "\r\n\t ")
	if b.dropped {
		return "..." + text
	}
	return text
}
