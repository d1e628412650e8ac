// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package tunnel establishes and supervises the outbound ssh tunnel
// that exposes a device's remote-display server as a local TCP port.
//
// The package is organized around the connection-establishment flow:
//
//   - ports.go: forward-port allocator (monotonic, never reuses a port
//     within a process lifetime)
//   - ssh.go: tunnel process invocation and private key validation
//   - poller.go: readiness probing of the forward port
//   - supervisor.go: process lifecycle, the readiness race, and
//     post-ready exit detection
//
// The ssh process provides no "forward established" callback, so
// readiness is inferred from the forwarded service itself: the
// display server greets every connection on accept, and the first
// byte received through the forward port proves the tunnel is up.
// The supervisor races that probe against process exit — a tunnel
// process that terminates before readiness always means failure,
// because it is expected to block for the session's lifetime.
package tunnel
