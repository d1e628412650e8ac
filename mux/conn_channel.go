// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// ConnChannel carries messages as newline-delimited JSON over any
// net.Conn: a TCP connection, a Unix socket, a WebRTC data channel
// wrapped as a conn. One JSON document per line, no framing beyond
// that.
type ConnChannel struct {
	conn net.Conn

	sendMu  sync.Mutex
	encoder *json.Encoder

	decoder *json.Decoder
}

// NewConnChannel wraps conn as a Channel. The channel owns the conn:
// Close closes it.
func NewConnChannel(conn net.Conn) *ConnChannel {
	return &ConnChannel{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(bufio.NewReader(conn)),
	}
}

// Send writes one message. Safe for concurrent use; each message is
// encoded and written atomically with respect to other Sends.
func (c *ConnChannel) Send(message Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.encoder.Encode(message); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Receive reads the next message. Single reader only.
func (c *ConnChannel) Receive() (Message, error) {
	var message Message
	if err := c.decoder.Decode(&message); err != nil {
		return Message{}, err
	}
	return message, nil
}

// Close closes the underlying connection, unblocking a pending
// Receive.
func (c *ConnChannel) Close() error {
	return c.conn.Close()
}
