// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// Server is the multiplexer proper: it owns one outbound TCP
// connection to the tunnel's forward port per open logical identifier
// and copies bytes between those connections and the message channel.
//
// A duplicate open for an identifier that is already mapped closes the
// prior connection and opens a fresh one. The alternative — rejecting
// the second open — punishes a consumer that restarted without getting
// its close through; reopen is what such a consumer wants, and the
// mapping never holds two connections for one identifier either way.
//
// Data for an unmapped identifier is dropped silently: the consumer
// may legitimately have raced its own close. Close for an unmapped
// identifier is a no-op.
type Server struct {
	// ForwardPort is the local port the tunnel forwards. Required.
	ForwardPort int

	// Channel is the consumer-facing message carrier. Required. The
	// server does not own it; disposal stops using it without
	// closing it.
	Channel Channel

	// DialTimeout bounds each outbound connect. Zero means 5s.
	DialTimeout time.Duration

	// Logger receives structured log output. Nil means
	// slog.Default().
	Logger *slog.Logger

	mu       sync.Mutex
	sockets  map[int]*outbound
	disposed bool
}

// outbound is one logical identifier's connection to the forward
// port. done is closed when the connection's reader has finished, so
// a reopen can wait out every event of the displaced incarnation
// before confirming the new one.
type outbound struct {
	conn net.Conn
	done chan struct{}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) dialTimeout() time.Duration {
	if s.DialTimeout > 0 {
		return s.DialTimeout
	}
	return 5 * time.Second
}

// Run announces readiness and then serves the channel until it is
// closed, the context is cancelled, or Dispose is called. Always
// returns having disposed: every outbound connection is closed and the
// mapping cleared. The channel's close error is not surfaced — a gone
// consumer is normal teardown, not a server failure.
func (s *Server) Run(ctx context.Context) {
	s.mu.Lock()
	if s.sockets == nil {
		s.sockets = make(map[int]*outbound)
	}
	s.mu.Unlock()
	defer s.Dispose()

	s.emit(ReadyEvent())

	received := make(chan Message)
	go func() {
		defer close(received)
		for {
			message, err := s.Channel.Receive()
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
			s.dispatch(message)
		}
	}
}

// dispatch routes one inbound message. Unknown combinations are
// ignored.
func (s *Server) dispatch(message Message) {
	switch {
	case message.Type == TypeSocket && message.Subtype == SocketOpen:
		s.handleOpen(message.SocketID)
	case message.Type == TypeSocket && message.Subtype == SocketData:
		s.handleData(message.SocketID, message.Data)
	case message.Type == TypeSocket && message.Subtype == SocketClose:
		s.handleClose(message.SocketID)
	case message.Type == TypeEvent:
		// Presence announcements and future event subtypes: nothing
		// to do.
	default:
		s.logger().Debug("ignoring unknown message",
			"type", message.Type, "subtype", message.Subtype)
	}
}

func (s *Server) handleOpen(socketID int) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	prior := s.sockets[socketID]
	if prior != nil {
		// Close-then-reopen. Removing the mapping first keeps the
		// prior connection's reader from emitting a close event that
		// the consumer would attribute to the new connection.
		delete(s.sockets, socketID)
	}
	s.mu.Unlock()

	if prior != nil {
		// Wait for the displaced reader to finish before dialing:
		// once the new open is confirmed, every data event for this
		// identifier must belong to the new connection.
		prior.conn.Close()
		<-prior.done
		s.logger().Debug("reopening mapped socket", "socket_id", socketID)
	}

	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.ForwardPort))
	connection, err := net.DialTimeout("tcp", address, s.dialTimeout())
	if err != nil {
		s.logger().Error("outbound connect failed", "socket_id", socketID, "error", err)
		s.emit(ErrorMessage(socketID, err.Error()))
		return
	}
	socket := &outbound{conn: connection, done: make(chan struct{})}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		connection.Close()
		return
	}
	s.sockets[socketID] = socket
	s.mu.Unlock()

	s.emit(OpenMessage(socketID))
	s.logger().Debug("socket opened", "socket_id", socketID, "forward_port", s.ForwardPort)

	go s.readLoop(socketID, socket)
}

// readLoop copies bytes from the outbound connection back to the
// channel as data messages. When the connection ends for any reason, a
// close event is emitted — unless the mapping has already moved on
// (consumer close, reopen, disposal), in which case the consumer
// either asked for the teardown or must not hear about it.
func (s *Server) readLoop(socketID int, socket *outbound) {
	defer close(socket.done)

	buffer := make([]byte, 32*1024)
	for {
		n, err := socket.conn.Read(buffer)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buffer[:n])
			s.emit(DataMessage(socketID, payload))
		}
		if err != nil {
			break
		}
	}

	s.mu.Lock()
	owned := s.sockets[socketID] == socket
	if owned {
		delete(s.sockets, socketID)
	}
	disposed := s.disposed
	s.mu.Unlock()

	socket.conn.Close()
	if owned && !disposed {
		s.emit(CloseMessage(socketID))
		s.logger().Debug("socket closed by remote", "socket_id", socketID)
	}
}

func (s *Server) handleData(socketID int, payload []byte) {
	s.mu.Lock()
	socket := s.sockets[socketID]
	s.mu.Unlock()
	if socket == nil {
		// Consumer raced its own close; not an error.
		return
	}
	if _, err := socket.conn.Write(payload); err != nil {
		// The read loop observes the same failure and handles the
		// teardown; nothing to do here.
		s.logger().Debug("outbound write failed", "socket_id", socketID, "error", err)
	}
}

func (s *Server) handleClose(socketID int) {
	s.mu.Lock()
	socket := s.sockets[socketID]
	delete(s.sockets, socketID)
	s.mu.Unlock()
	if socket != nil {
		socket.conn.Close()
		s.logger().Debug("socket closed by consumer", "socket_id", socketID)
	}
}

// Dispose closes every outbound connection and stops all event
// emission. Idempotent.
func (s *Server) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	sockets := s.sockets
	s.sockets = make(map[int]*outbound)
	s.mu.Unlock()

	for _, socket := range sockets {
		socket.conn.Close()
	}
	s.logger().Debug("multiplexer disposed", "open_sockets", len(sockets))
}

// emit sends unless disposal has begun.
func (s *Server) emit(message Message) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return
	}
	if err := s.Channel.Send(message); err != nil {
		s.logger().Debug("channel send failed", "error", err)
	}
}
