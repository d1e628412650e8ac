// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/periscope-project/periscope/tunnel"
)

// Session owns one tunnel and one transport for one remote host.
// Construct with New, establish with Start, tear down with Dispose.
type Session struct {
	id          string
	hostname    string
	forwardPort int

	supervisor *tunnel.Supervisor
	transport  Transport
	logger     *slog.Logger

	cancel context.CancelFunc

	disposeOnce sync.Once
	disposed    chan struct{}

	stopped chan error

	// Establishment coordination for registry-shared sessions: the
	// registry closes establishing once Start has returned, so a
	// second Create for the same hostname can wait for the first
	// instead of racing a duplicate tunnel.
	establishing chan struct{}
	establishErr error
}

// New creates a session for hostname. forwardPort must be leased from
// the registry's allocator; transport is the strategy chosen for this
// session's consumers. logger may be nil for slog.Default().
func New(config tunnel.Config, hostname string, forwardPort int, transport Transport, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger = logger.With("session_id", id, "hostname", hostname)
	return &Session{
		id:          id,
		hostname:    hostname,
		forwardPort: forwardPort,
		supervisor:  tunnel.NewSupervisor(config, hostname, forwardPort, nil, logger),
		transport:   transport,
		logger:      logger,
		disposed:    make(chan struct{}),
		stopped:     make(chan error, 1),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Hostname returns the remote host this session serves.
func (s *Session) Hostname() string { return s.hostname }

// ForwardPort returns the leased local forward port.
func (s *Session) ForwardPort() int { return s.forwardPort }

// Endpoint returns the transport's consumer coordinates. Valid after
// Start returns successfully.
func (s *Session) Endpoint() string { return s.transport.Endpoint() }

// State returns the tunnel supervisor's lifecycle state.
func (s *Session) State() tunnel.State { return s.supervisor.State() }

// Disposed is closed exactly once, when disposal completes. The
// registry watches it to drop its hostname mapping.
func (s *Session) Disposed() <-chan struct{} { return s.disposed }

// Stopped delivers at most one error: the tunnel dropping after the
// session was established. The owner reacts by calling Dispose.
func (s *Session) Stopped() <-chan error { return s.stopped }

// Start establishes the tunnel, waits for readiness, and brings up
// the transport. On any failure the session is disposed before
// returning, so a failed Start never leaks the process or listener.
// Cancelling ctx abandons the attempt the same way.
func (s *Session) Start(ctx context.Context) error {
	supervisorCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.supervisor.Start(supervisorCtx); err != nil {
		s.Dispose()
		return fmt.Errorf("starting tunnel for %s: %w", s.hostname, err)
	}

	select {
	case <-ctx.Done():
		s.Dispose()
		return ctx.Err()
	case outcome := <-s.supervisor.Outcome():
		if outcome.State != tunnel.StateReady {
			s.Dispose()
			return fmt.Errorf("tunnel for %s: %w", s.hostname, outcome.Err)
		}
	}

	// The transport outlives the establishment context; its lifetime
	// is bound to the session's own cancel, released by Dispose.
	if err := s.transport.Start(supervisorCtx); err != nil {
		s.Dispose()
		return fmt.Errorf("starting transport for %s: %w", s.hostname, err)
	}

	go s.watchTunnel()

	s.logger.Info("session established",
		"forward_port", s.forwardPort,
		"endpoint", s.transport.Endpoint(),
	)
	return nil
}

// watchTunnel forwards a post-ready tunnel drop to the owner, once.
func (s *Session) watchTunnel() {
	select {
	case <-s.disposed:
	case err := <-s.supervisor.Stopped():
		s.logger.Error("tunnel dropped", "error", err)
		s.stopped <- err
	}
}

// waitEstablished blocks until the registry finishes establishing
// this session. Sessions constructed directly are established by
// their own Start call and return immediately.
func (s *Session) waitEstablished(ctx context.Context) error {
	if s.establishing == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.establishing:
		return s.establishErr
	}
}

// Dispose cancels the tunnel, closes the transport, and fires the
// disposal notification. Safe to call at any lifecycle point;
// repeated calls are no-ops.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.transport.Close()
		close(s.disposed)
		s.logger.Info("session disposed")
	})
}
