// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/pflag"

	"github.com/periscope-project/periscope/mux"
	"github.com/periscope-project/periscope/session"
	"github.com/periscope-project/periscope/transport"
	"github.com/periscope-project/periscope/tunnel"
)

// runRelay tunnels to a host and serves the message multiplexer. The
// carrier defaults to the relay's own stdio; --listen and --listen-ws
// serve TCP and WebSocket carriers instead, for consumers that attach
// over the network.
func runRelay(args []string) error {
	flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "config file path")
	listenTCP := flagSet.String("listen", "", "serve a TCP carrier on this address instead of stdio")
	listenWS := flagSet.String("listen-ws", "", "serve a WebSocket carrier on this address instead of stdio")
	verbose := flagSet.BoolP("verbose", "v", false, "per-connection debug logging")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("relay: expected exactly one host argument")
	}
	if *listenTCP != "" && *listenWS != "" {
		return fmt.Errorf("relay: --listen and --listen-ws are mutually exclusive")
	}
	hostname := flagSet.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(*verbose)

	allocator := tunnel.NewPortAllocator(cfg.Ports.Base)
	forwardPort, err := allocator.Next()
	if err != nil {
		return fmt.Errorf("leasing forward port: %w", err)
	}

	var sessionTransport session.Transport
	switch {
	case *listenTCP != "":
		listener, listenErr := transport.NewTCPChannelListener(*listenTCP)
		if listenErr != nil {
			return listenErr
		}
		sessionTransport = session.NewMuxTransport(forwardPort, listener, logger)
	case *listenWS != "":
		listener, listenErr := transport.NewWebSocketChannelListener(*listenWS)
		if listenErr != nil {
			return listenErr
		}
		sessionTransport = session.NewMuxTransport(forwardPort, listener, logger)
	default:
		sessionTransport = &stdioTransport{forwardPort: forwardPort, logger: logger}
	}

	s := session.New(tunnelConfig(cfg), hostname, forwardPort, sessionTransport, logger)

	ctx, stop := signalContext()
	defer stop()
	if err := s.Start(ctx); err != nil {
		return err
	}
	if *listenTCP != "" || *listenWS != "" {
		fmt.Printf("listening on %s\n", s.Endpoint())
	}

	return serveSession(ctx, s)
}

// stdioTransport runs one multiplexer server over the relay's stdin
// and stdout. The parent process is the single consumer; the ready
// event on stdout tells it the tunnel is up.
type stdioTransport struct {
	forwardPort int
	logger      *slog.Logger

	channel   mux.Channel
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (t *stdioTransport) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)
	t.channel = transport.NewStreamChannel(os.Stdin, os.Stdout)
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		server := &mux.Server{
			ForwardPort: t.forwardPort,
			Channel:     t.channel,
			Logger:      t.logger,
		}
		server.Run(ctx)
	}()
	return nil
}

func (t *stdioTransport) Endpoint() string { return "stdio" }

func (t *stdioTransport) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if t.channel != nil {
			t.channel.Close()
		}
		if t.done != nil {
			<-t.done
		}
	})
}
