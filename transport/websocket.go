// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/periscope-project/periscope/mux"
)

// Compile-time interface check.
var _ mux.Channel = (*WebSocketChannel)(nil)

// websocketWriteTimeout bounds each frame write so a stalled consumer
// cannot wedge the relay's send path indefinitely.
const websocketWriteTimeout = 30 * time.Second

// WebSocketChannel carries messages as one JSON document per text
// frame. Frame boundaries replace the newline delimiting used on raw
// connections; both endpoints otherwise speak the same schema.
type WebSocketChannel struct {
	conn *websocket.Conn

	// gorilla/websocket permits at most one concurrent writer.
	sendMu sync.Mutex
}

// NewWebSocketChannel wraps an established WebSocket connection. The
// channel owns the connection: Close closes it.
func NewWebSocketChannel(conn *websocket.Conn) *WebSocketChannel {
	return &WebSocketChannel{conn: conn}
}

// Send writes one message as a text frame. Safe for concurrent use.
func (c *WebSocketChannel) Send(message mux.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
	if err := c.conn.WriteJSON(message); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Receive reads the next message. Single reader only. Non-text frames
// that decode as JSON are accepted; a close frame surfaces as an
// error.
func (c *WebSocketChannel) Receive() (mux.Message, error) {
	var message mux.Message
	if err := c.conn.ReadJSON(&message); err != nil {
		return mux.Message{}, err
	}
	return message, nil
}

// Close sends a close frame and closes the connection.
func (c *WebSocketChannel) Close() error {
	c.sendMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.sendMu.Unlock()
	return c.conn.Close()
}

// WebSocketServer upgrades HTTP requests and hands each resulting
// channel to Attach. Mount it on any mux-capable http.Server route.
type WebSocketServer struct {
	// Attach is called once per consumer, on the consumer's own
	// goroutine, and owns the channel's lifetime. Required.
	Attach func(mux.Channel)

	// Upgrader customizes the WebSocket handshake. The zero value
	// accepts any origin, which is correct for the loopback-only
	// relay listener; override CheckOrigin when exposing beyond
	// localhost.
	Upgrader websocket.Upgrader
}

// ServeHTTP implements http.Handler.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := s.Upgrader
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}
	s.Attach(NewWebSocketChannel(conn))
}

// Compile-time interface check.
var _ ChannelListener = (*WebSocketChannelListener)(nil)

// WebSocketChannelListener serves the WebSocket carrier on a TCP
// address and yields one channel per upgraded consumer.
type WebSocketChannelListener struct {
	listener net.Listener
	server   *http.Server
	inbound  chan mux.Channel

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketChannelListener binds address and starts serving
// WebSocket upgrades on it.
func NewWebSocketChannelListener(address string) (*WebSocketChannelListener, error) {
	tcpListener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	listener := &WebSocketChannelListener{
		listener: tcpListener,
		inbound:  make(chan mux.Channel),
		closed:   make(chan struct{}),
	}
	listener.server = &http.Server{Handler: &WebSocketServer{
		Attach: func(channel mux.Channel) {
			select {
			case listener.inbound <- channel:
			case <-listener.closed:
				channel.Close()
			}
		},
	}}
	go listener.server.Serve(tcpListener)
	return listener, nil
}

// Accept returns the next upgraded consumer channel.
func (l *WebSocketChannelListener) Accept() (mux.Channel, error) {
	select {
	case channel := <-l.inbound:
		return channel, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Address returns the bound listen address.
func (l *WebSocketChannelListener) Address() string {
	return l.listener.Addr().String()
}

// Close stops the HTTP server and unblocks Accept. Channels already
// handed out stay open.
func (l *WebSocketChannelListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.server.Close()
	})
	return err
}

// DialWebSocket attaches to a relay's WebSocket endpoint (ws:// or
// wss:// URL).
func DialWebSocket(ctx context.Context, url string) (*WebSocketChannel, error) {
	conn, response, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dialing %s: %w (HTTP %d)", url, err, response.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewWebSocketChannel(conn), nil
}
