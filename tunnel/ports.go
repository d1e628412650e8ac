// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator leases local forward ports for tunnel sessions. Ports
// advance monotonically and are never handed out twice within a
// process lifetime, so a new session can never collide with a prior
// session whose tunnel process is still tearing down its listener.
//
// The allocator is owned by the session registry and injected into
// sessions at construction — there is no package-level counter. Safe
// for concurrent use: sessions created in the same scheduling tick
// receive distinct ports.
type PortAllocator struct {
	mu   sync.Mutex
	next int
}

// NewPortAllocator creates an allocator whose first lease is base.
// base should sit in the unprivileged range, clear of the ports the
// OS hands to ordinary ephemeral sockets.
func NewPortAllocator(base int) *PortAllocator {
	return &PortAllocator{next: base}
}

// Next leases the next forward port. Ports that are currently bound by
// some other process are probed and skipped, so the tunnel process's
// own bind on the returned port is very unlikely to fail. Returns an
// error when the range above the base is exhausted.
func (a *PortAllocator) Next() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.next <= 65535 {
		port := a.next
		a.next++

		// Probe bindability. A failed probe means something else holds
		// the port; advance past it rather than handing the tunnel
		// process a doomed bind.
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		listener.Close()
		return port, nil
	}
	return 0, fmt.Errorf("forward-port range exhausted (no free port above %d)", 65535)
}
