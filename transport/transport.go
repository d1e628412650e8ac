// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"

	"github.com/periscope-project/periscope/mux"
)

// ChannelListener accepts inbound consumer attachments and surfaces
// each one as a message channel for a multiplexer server.
type ChannelListener interface {
	// Accept blocks for the next consumer attachment. Returns an
	// error once the listener is closed.
	Accept() (mux.Channel, error)

	// Address returns the carrier-specific address consumers connect
	// to (e.g. "127.0.0.1:7520" for TCP, a peer name for WebRTC).
	Address() string

	// Close shuts down the listener. Channels already accepted stay
	// usable.
	Close() error
}

// ChannelDialer attaches to a relay and returns the consumer half of
// the message channel.
type ChannelDialer interface {
	DialChannel(ctx context.Context, address string) (mux.Channel, error)
}
