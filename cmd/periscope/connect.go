// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/periscope-project/periscope/session"
	"github.com/periscope-project/periscope/tunnel"
)

// runConnect tunnels to a host and serves the local proxy until
// interrupted.
func runConnect(args []string) error {
	flagSet := pflag.NewFlagSet("connect", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "config file path")
	listenPort := flagSet.Int("port", 0, "local listen port (default: OS-assigned)")
	verbose := flagSet.BoolP("verbose", "v", false, "per-connection debug logging")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("connect: expected exactly one host argument")
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

	transport := session.NewProxyTransport(forwardPort, logger)
	if *listenPort != 0 {
		transport = session.NewProxyTransportOnPort(forwardPort, *listenPort, logger)
	}
	s := session.New(tunnelConfig(cfg), hostname, forwardPort, transport, logger)

	ctx, stop := signalContext()
	defer stop()
	if err := s.Start(ctx); err != nil {
		return err
	}

	// The printed address is the machine-readable handshake: a parent
	// process reads it to learn where to point the viewer.
	fmt.Printf("listening on %s\n", s.Endpoint())

	return serveSession(ctx, s)
}
