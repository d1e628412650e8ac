// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/periscope-project/periscope/lib/config"
	"github.com/periscope-project/periscope/session"
	"github.com/periscope-project/periscope/tunnel"
)

// loadConfig loads the config file from --config when given, else
// from PERISCOPE_CONFIG, else the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// tunnelConfig maps the file configuration onto the tunnel spawner.
func tunnelConfig(cfg *config.Config) tunnel.Config {
	return tunnel.Config{
		Binary:      cfg.SSH.Binary,
		User:        cfg.SSH.User,
		KeyPath:     cfg.SSH.KeyPath,
		ControlPort: cfg.SSH.ControlPort,
		DisplayPort: cfg.Display.Port,
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveSession blocks until the command is interrupted or the tunnel
// drops, then disposes the session. A tunnel drop is the error; an
// interrupt is a clean exit.
func serveSession(ctx context.Context, s *session.Session) error {
	defer func() {
		s.Dispose()
		<-s.Disposed()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.Stopped():
		return err
	}
}
