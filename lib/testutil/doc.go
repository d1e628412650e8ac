// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Periscope packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts are
// used; everything interval-sensitive runs on lib/clock's FakeClock.
//
// [EchoListener] starts a loopback TCP listener that echoes every byte
// back, standing in for the remote-display service behind the tunnel's
// forward port. [FreePort] leases an OS-assigned port and releases it,
// for tests that need a port number that is currently unbound.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
