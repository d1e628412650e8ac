// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package session ties a tunnel to a transport strategy and manages
// the pair's lifecycle.
//
// A [Session] owns exactly one tunnel supervisor and one [Transport]
// for one remote host. Start establishes the tunnel, waits for
// readiness, and brings up the transport; Dispose tears everything
// down exactly once, from any lifecycle point, without leaking the
// tunnel process, listener sockets, or outbound connections. A tunnel
// that drops after readiness surfaces on Stopped exactly once, and
// the owner reacts by disposing.
//
// The [Registry] keys live sessions by hostname, owns the forward
// port allocator, and removes its mapping when a session's disposal
// notification fires — the only state shared with the rest of the
// system.
//
// The transport is chosen once at session creation by a
// [TransportFactory]: the local proxy when the consumer can reach
// localhost, the message multiplexer when it cannot. The decision is
// not re-evaluated for the life of the session.
package session
