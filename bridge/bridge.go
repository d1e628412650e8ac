// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/periscope-project/periscope/lib/netutil"
)

// Proxy accepts consumer TCP connections on a loopback port and
// splices each one onto the tunnel's forward port.
type Proxy struct {
	// ForwardPort is the local port the tunnel forwards to the remote
	// display server. Required.
	ForwardPort int

	// ListenPort is the consumer-facing port. Zero asks the OS for an
	// ephemeral port; read it back with Port after Start.
	ListenPort int

	// DialTimeout bounds each splice's connection to the forward
	// port. Zero means 5s.
	DialTimeout time.Duration

	// Logger receives structured log output. If nil, slog.Default()
	// is used. Per-connection events are logged at Debug level;
	// errors and lifecycle events at Info/Error.
	Logger *slog.Logger

	listener    net.Listener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
}

func (p *Proxy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Proxy) dialTimeout() time.Duration {
	if p.DialTimeout > 0 {
		return p.DialTimeout
	}
	return 5 * time.Second
}

// Start binds the consumer listener and begins accepting connections
// in the background. It returns once the listener is bound, or an
// error if binding fails. The proxy runs until Stop is called or the
// context is cancelled.
//
// The forward port is not probed here: the caller starts the proxy
// only after the tunnel supervisor reports readiness, and a forward
// port that dies later surfaces per-connection.
func (p *Proxy) Start(ctx context.Context) error {
	if p.ForwardPort == 0 {
		return fmt.Errorf("proxy: ForwardPort is required")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p.ListenPort)))
	if err != nil {
		return fmt.Errorf("proxy: failed to listen on port %d: %w", p.ListenPort, err)
	}
	p.listener = listener

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.acceptLoop(ctx)
	}()

	p.logger().Info("local proxy started",
		"listen_port", p.Port(),
		"forward_port", p.ForwardPort,
	)
	return nil
}

// Port returns the consumer-facing port. Returns 0 if the proxy has
// not been started.
func (p *Proxy) Port() int {
	if p.listener == nil {
		return 0
	}
	return p.listener.Addr().(*net.TCPAddr).Port
}

// Stop shuts down the proxy, closing the listener and waiting for all
// in-flight connections to drain.
func (p *Proxy) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	if p.done != nil {
		<-p.done
	}
}

// Wait blocks until the proxy has stopped.
func (p *Proxy) Wait() {
	if p.done != nil {
		<-p.done
	}
}

// acceptLoop accepts consumer connections and splices them to the
// forward port. It waits for all in-flight connection goroutines to
// finish before returning, so that closing the done channel signals
// full quiescence.
func (p *Proxy) acceptLoop(ctx context.Context) {
	var connectionCount int64

	for {
		connection, err := p.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				p.connections.Wait()
				return
			default:
			}
			if netutil.IsExpectedCloseError(err) {
				p.connections.Wait()
				return
			}
			p.logger().Error("accept failed", "error", err)
			continue
		}

		connectionCount++
		connectionID := connectionCount
		p.connections.Add(1)
		go func() {
			defer p.connections.Done()
			p.handleConnection(connection, connectionID)
		}()
	}
}

func (p *Proxy) handleConnection(consumer net.Conn, connectionID int64) {
	logger := p.logger().With("connection_id", connectionID)
	logger.Debug("consumer connected", "remote_addr", consumer.RemoteAddr())

	forwardAddress := net.JoinHostPort("127.0.0.1", strconv.Itoa(p.ForwardPort))
	forward, err := net.DialTimeout("tcp", forwardAddress, p.dialTimeout())
	if err != nil {
		// The tunnel has gone away under us. Close the consumer and
		// let its retry logic deal with it; the session supervisor
		// notices the drop through its own watch.
		logger.Error("forward port unreachable", "error", err)
		consumer.Close()
		return
	}

	sent, received, spliceErr := netutil.Splice(consumer, forward)
	if spliceErr != nil {
		logger.Debug("splice error",
			"bytes_sent", sent,
			"bytes_received", received,
			"error", spliceErr,
		)
	}
	logger.Debug("consumer disconnected",
		"bytes_sent", sent,
		"bytes_received", received,
	)
}
