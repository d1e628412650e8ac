// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/periscope-project/periscope/bridge"
	"github.com/periscope-project/periscope/mux"
	"github.com/periscope-project/periscope/transport"
)

// Transport is the strategy by which consumers reach the tunnel's
// forward port. Implementations are constructed against a forward
// port, started once after the tunnel is ready, and closed exactly
// once on session disposal.
type Transport interface {
	// Start brings up the consumer-facing surface. Called only after
	// the tunnel reports ready.
	Start(ctx context.Context) error

	// Endpoint returns the coordinates a consumer attaches to: a
	// "host:port" address for the local proxy, a carrier address for
	// the multiplexer. Valid after Start.
	Endpoint() string

	// Close tears down the consumer-facing surface. Idempotent.
	Close()
}

// TransportFactory builds the chosen strategy for a session's forward
// port. The registry calls it once per session at creation.
type TransportFactory func(forwardPort int, logger *slog.Logger) Transport

// ProxyTransport adapts the local proxy to the strategy interface.
// The right choice when the consumer can open sockets to localhost.
type ProxyTransport struct {
	proxy     *bridge.Proxy
	closeOnce sync.Once
}

// NewProxyTransport builds the local-proxy strategy on an OS-assigned
// listen port.
func NewProxyTransport(forwardPort int, logger *slog.Logger) Transport {
	return &ProxyTransport{
		proxy: &bridge.Proxy{ForwardPort: forwardPort, Logger: logger},
	}
}

// NewProxyTransportOnPort builds the local-proxy strategy on a fixed
// listen port, for consumers configured with a stable address.
func NewProxyTransportOnPort(forwardPort, listenPort int, logger *slog.Logger) Transport {
	return &ProxyTransport{
		proxy: &bridge.Proxy{ForwardPort: forwardPort, ListenPort: listenPort, Logger: logger},
	}
}

func (t *ProxyTransport) Start(ctx context.Context) error {
	return t.proxy.Start(ctx)
}

func (t *ProxyTransport) Endpoint() string {
	return fmt.Sprintf("127.0.0.1:%d", t.proxy.Port())
}

func (t *ProxyTransport) Close() {
	t.closeOnce.Do(t.proxy.Stop)
}

// MuxTransport runs a multiplexer server behind a channel listener.
// The right choice when consumers cannot open sockets: they attach
// over the listener's carrier (TCP for development, WebSocket for
// browser-hosted viewers) and speak the multiplexer protocol.
//
// Each accepted channel gets its own multiplexer server; consumers
// are independent of each other.
type MuxTransport struct {
	forwardPort int
	listener    transport.ChannelListener
	logger      *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	servers   sync.WaitGroup
	closeOnce sync.Once
}

// NewMuxTransport builds the multiplexer strategy on the given
// carrier listener. The transport owns the listener.
func NewMuxTransport(forwardPort int, listener transport.ChannelListener, logger *slog.Logger) *MuxTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &MuxTransport{
		forwardPort: forwardPort,
		listener:    listener,
		logger:      logger,
	}
}

func (t *MuxTransport) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		for {
			channel, err := t.listener.Accept()
			if err != nil {
				t.servers.Wait()
				return
			}
			t.servers.Add(1)
			go func() {
				defer t.servers.Done()
				defer channel.Close()
				server := &mux.Server{
					ForwardPort: t.forwardPort,
					Channel:     channel,
					Logger:      t.logger,
				}
				server.Run(ctx)
			}()
		}
	}()

	t.logger.Info("multiplexer transport started",
		"address", t.listener.Address(),
		"forward_port", t.forwardPort,
	)
	return nil
}

func (t *MuxTransport) Endpoint() string {
	return t.listener.Address()
}

func (t *MuxTransport) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.listener.Close()
		if t.done != nil {
			<-t.done
		}
	})
}
