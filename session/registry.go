// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/periscope-project/periscope/tunnel"
)

// Registry keys live sessions by hostname and owns the forward port
// allocator. Concurrent Create calls for different hosts proceed
// independently and always lease distinct forward ports; a second
// Create for a host with a live session returns the existing one.
type Registry struct {
	config    tunnel.Config
	allocator *tunnel.PortAllocator
	factory   TransportFactory
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry. portBase seeds the allocator (ports
// are leased monotonically upward from it); factory builds each
// session's transport strategy; logger may be nil for slog.Default().
func NewRegistry(config tunnel.Config, portBase int, factory TransportFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:    config,
		allocator: tunnel.NewPortAllocator(portBase),
		factory:   factory,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Create returns the live session for hostname, establishing a new
// one if none exists. Establishment happens outside the registry lock
// so concurrent creates for different hosts overlap; a placeholder in
// the map keeps a second create for the same host from racing a
// duplicate tunnel.
func (r *Registry) Create(ctx context.Context, hostname string) (*Session, error) {
	r.mu.Lock()
	if existing, ok := r.sessions[hostname]; ok {
		r.mu.Unlock()
		if err := existing.waitEstablished(ctx); err != nil {
			return nil, err
		}
		return existing, nil
	}

	forwardPort, err := r.allocator.Next()
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("leasing forward port for %s: %w", hostname, err)
	}

	session := New(r.config, hostname, forwardPort, r.factory(forwardPort, r.logger), r.logger)
	session.establishing = make(chan struct{})
	r.sessions[hostname] = session
	r.mu.Unlock()

	err = session.Start(ctx)
	session.establishErr = err
	close(session.establishing)

	if err != nil {
		r.remove(hostname, session)
		return nil, err
	}

	go func() {
		<-session.Disposed()
		r.remove(hostname, session)
	}()
	return session, nil
}

// Get returns the live session for hostname, or nil.
func (r *Registry) Get(hostname string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[hostname]
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// DisposeAll tears down every live session and waits for their
// disposal notifications.
func (r *Registry) DisposeAll() {
	for _, session := range r.Sessions() {
		session.Dispose()
		<-session.Disposed()
	}
}

// remove drops the mapping if it still points at this session.
func (r *Registry) remove(hostname string, session *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[hostname]; ok && current == session {
		delete(r.sessions, hostname)
	}
	r.mu.Unlock()
}
