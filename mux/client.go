// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// Client is the consumer-side endpoint: it turns logical identifiers
// back into byte streams. One Client serves many concurrent sockets
// over a single channel.
//
// Run must be started before Open; Open blocks until the server
// confirms or rejects the identifier.
type Client struct {
	// Channel is the carrier shared with the server. Required.
	Channel Channel

	// Logger receives structured log output. Nil means
	// slog.Default().
	Logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}

	mu      sync.Mutex
	pending map[int]chan Message
	sockets map[int]*Socket
	closed  bool
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready == nil {
		c.ready = make(chan struct{})
		c.pending = make(map[int]chan Message)
		c.sockets = make(map[int]*Socket)
	}
}

// Run demultiplexes inbound messages until the channel closes or the
// context is cancelled. All open sockets read EOF when Run returns.
func (c *Client) Run(ctx context.Context) {
	c.init()
	defer c.teardown()

	received := make(chan Message)
	go func() {
		defer close(received)
		for {
			message, err := c.Channel.Receive()
			if err != nil {
				return
			}
			select {
			case received <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-received:
			if !ok {
				return
			}
			c.dispatch(message)
		}
	}
}

// WaitReady blocks until the server's ready event arrives or ctx is
// cancelled.
func (c *Client) WaitReady(ctx context.Context) error {
	c.init()
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) dispatch(message Message) {
	if message.Type == TypeEvent {
		if message.Subtype == EventReady {
			c.readyOnce.Do(func() { close(c.ready) })
		}
		return
	}
	if message.Type != TypeSocket {
		c.logger().Debug("ignoring unknown message",
			"type", message.Type, "subtype", message.Subtype)
		return
	}

	switch message.Subtype {
	case SocketOpen, SocketError:
		c.mu.Lock()
		waiter := c.pending[message.SocketID]
		delete(c.pending, message.SocketID)
		c.mu.Unlock()
		if waiter != nil {
			waiter <- message
		}

	case SocketData:
		c.mu.Lock()
		socket := c.sockets[message.SocketID]
		c.mu.Unlock()
		if socket != nil {
			socket.deliver(message.Data)
		}

	case SocketClose:
		c.mu.Lock()
		socket := c.sockets[message.SocketID]
		delete(c.sockets, message.SocketID)
		c.mu.Unlock()
		if socket != nil {
			socket.remoteClosed()
		}

	default:
		c.logger().Debug("ignoring unknown socket message", "subtype", message.Subtype)
	}
}

// Open establishes the logical connection socketID and returns its
// byte stream. Fails if the identifier is already open on this client,
// if the server reports a connect failure, or if ctx expires first.
func (c *Client) Open(ctx context.Context, socketID int) (*Socket, error) {
	c.init()

	waiter := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, net.ErrClosed
	}
	if _, exists := c.sockets[socketID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("socket %d is already open", socketID)
	}
	if _, exists := c.pending[socketID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("socket %d open already in flight", socketID)
	}
	c.pending[socketID] = waiter
	c.mu.Unlock()

	if err := c.Channel.Send(OpenMessage(socketID)); err != nil {
		c.mu.Lock()
		delete(c.pending, socketID)
		c.mu.Unlock()
		return nil, fmt.Errorf("requesting socket %d: %w", socketID, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, socketID)
		c.mu.Unlock()
		return nil, ctx.Err()
	case reply := <-waiter:
		if reply.Subtype == SocketError {
			return nil, fmt.Errorf("opening socket %d: %s", socketID, reply.Reason)
		}
		socket := &Socket{
			id:      socketID,
			client:  c,
			inbound: make(chan []byte, 64),
			done:    make(chan struct{}),
		}
		c.mu.Lock()
		if c.closed {
			// Teardown ran between the confirmation and here. A
			// socket registered now would never hear remoteClosed,
			// leaving its reader blocked forever.
			c.mu.Unlock()
			return nil, net.ErrClosed
		}
		c.sockets[socketID] = socket
		c.mu.Unlock()
		return socket, nil
	}
}

// teardown fails pending opens and EOFs open sockets.
func (c *Client) teardown() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	sockets := c.sockets
	c.pending = make(map[int]chan Message)
	c.sockets = make(map[int]*Socket)
	c.mu.Unlock()

	for socketID, waiter := range pending {
		waiter <- ErrorMessage(socketID, "channel closed")
	}
	for _, socket := range sockets {
		socket.remoteClosed()
	}
}

// forget removes a socket mapping during a consumer-initiated close.
func (c *Client) forget(socketID int) {
	c.mu.Lock()
	delete(c.sockets, socketID)
	c.mu.Unlock()
}

// Socket is one logical connection's byte stream. Read and Write
// follow io semantics; Close tells the server to drop the outbound
// connection. Safe for one reader and one writer concurrently.
type Socket struct {
	id     int
	client *Client

	inbound chan []byte
	done    chan struct{}

	closeOnce sync.Once
	leftover  []byte
}

var _ io.ReadWriteCloser = (*Socket)(nil)

// ID returns the logical connection identifier.
func (s *Socket) ID() int { return s.id }

func (s *Socket) Read(buffer []byte) (int, error) {
	if len(s.leftover) > 0 {
		n := copy(buffer, s.leftover)
		s.leftover = s.leftover[n:]
		return n, nil
	}

	select {
	case payload := <-s.inbound:
		n := copy(buffer, payload)
		s.leftover = payload[n:]
		return n, nil
	case <-s.done:
		// Drain payloads delivered before the close.
		select {
		case payload := <-s.inbound:
			n := copy(buffer, payload)
			s.leftover = payload[n:]
			return n, nil
		default:
			return 0, io.EOF
		}
	}
}

func (s *Socket) Write(payload []byte) (int, error) {
	select {
	case <-s.done:
		return 0, net.ErrClosed
	default:
	}
	if err := s.client.Channel.Send(DataMessage(s.id, payload)); err != nil {
		return 0, fmt.Errorf("writing to socket %d: %w", s.id, err)
	}
	return len(payload), nil
}

// Close tears down the logical connection on both ends. Idempotent.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.forget(s.id)
		s.client.Channel.Send(CloseMessage(s.id))
	})
	return nil
}

// deliver queues an inbound payload in arrival order. Blocks when the
// consumer falls behind the buffer — backpressure on the dispatch
// loop — and drops only once the socket is closed.
func (s *Socket) deliver(payload []byte) {
	select {
	case s.inbound <- payload:
	case <-s.done:
	}
}

// remoteClosed marks the stream ended by the server side.
func (s *Socket) remoteClosed() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
