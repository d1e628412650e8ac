// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides child-process plumbing shared by the tunnel
// supervisor and the periscope binary entrypoint:
//
//   - Fatal error reporting to stderr when the structured logger may
//     not be initialized yet (pre-logger, in main()).
//   - Bounded capture of a child process's diagnostic output, so a
//     launch-failure error can carry the tail of ssh's stderr without
//     an unbounded buffer on a long-lived tunnel.
package process
