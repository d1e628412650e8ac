// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"

	"github.com/periscope-project/periscope/mux"
)

// Compile-time interface checks.
var (
	_ ChannelListener = (*TCPChannelListener)(nil)
	_ ChannelDialer   = (*TCPDialer)(nil)
)

// TCPChannelListener accepts consumer attachments over plain TCP,
// one newline-delimited JSON message stream per connection. This is
// the development and same-LAN carrier — it requires direct TCP
// reachability from consumer to relay.
type TCPChannelListener struct {
	listener net.Listener
}

// NewTCPChannelListener binds the given address (e.g. "127.0.0.1:0"
// for an ephemeral port).
func NewTCPChannelListener(address string) (*TCPChannelListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPChannelListener{listener: listener}, nil
}

// Accept blocks for the next consumer connection and wraps it as a
// message channel.
func (l *TCPChannelListener) Accept() (mux.Channel, error) {
	connection, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return mux.NewConnChannel(connection), nil
}

// Address returns the bound address in "host:port" format.
func (l *TCPChannelListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener.
func (l *TCPChannelListener) Close() error {
	return l.listener.Close()
}

// TCPDialer attaches to a relay's TCP listener.
type TCPDialer struct {
	// Timeout is the maximum time to wait for the TCP connection to
	// be established. Zero means no standalone timeout — only the
	// context deadline applies.
	Timeout time.Duration
}

// DialChannel opens a TCP connection to address (host:port) and wraps
// it as a message channel.
func (d *TCPDialer) DialChannel(ctx context.Context, address string) (mux.Channel, error) {
	connection, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return mux.NewConnChannel(connection), nil
}
