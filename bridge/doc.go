// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge provides the local proxy: a loopback TCP listener
// that splices every accepted consumer connection onto the tunnel's
// forward port.
//
// Consumers that can open sockets (a desktop VNC viewer, a recording
// tool) point at the proxy's port and get a transparent byte pipe to
// the remote display server. Consumers that cannot open sockets use
// the message multiplexer in package mux instead; the two are
// interchangeable endpoints over the same tunnel.
//
// [Proxy] is the single type. Start binds the listener and begins
// accepting in a background goroutine; each connection is spliced
// bidirectionally with half-close propagation. A consumer connection
// that arrives while the forward port is not answering is closed
// immediately — the consumer's own retry logic handles it. Stop closes
// the listener and waits for in-flight connections to drain.
package bridge
