// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/periscope-project/periscope/mux"
)

// Compile-time interface check.
var _ mux.Channel = (*StreamChannel)(nil)

// StreamChannel carries messages as newline-delimited JSON over any
// reader/writer pair. The relay uses it to speak the multiplexer
// protocol over its own stdin and stdout, where no socket exists.
type StreamChannel struct {
	reader io.Reader
	writer io.Writer

	sendMu  sync.Mutex
	encoder *json.Encoder

	decoder *json.Decoder
}

// NewStreamChannel wraps reader and writer as a Channel. Close closes
// whichever of the two implement io.Closer.
func NewStreamChannel(reader io.Reader, writer io.Writer) *StreamChannel {
	return &StreamChannel{
		reader:  reader,
		writer:  writer,
		encoder: json.NewEncoder(writer),
		decoder: json.NewDecoder(bufio.NewReader(reader)),
	}
}

// Send writes one message. Safe for concurrent use.
func (c *StreamChannel) Send(message mux.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.encoder.Encode(message); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Receive reads the next message. Single reader only.
func (c *StreamChannel) Receive() (mux.Message, error) {
	var message mux.Message
	if err := c.decoder.Decode(&message); err != nil {
		return mux.Message{}, err
	}
	return message, nil
}

// Close closes the underlying streams, unblocking a pending Receive
// when the reader supports it.
func (c *StreamChannel) Close() error {
	var firstErr error
	if closer, ok := c.reader.(io.Closer); ok {
		firstErr = closer.Close()
	}
	if closer, ok := c.writer.(io.Closer); ok {
		if err := closer.Close(); firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
