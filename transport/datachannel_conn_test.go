// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

func TestDataChannelConn_ReadWrite(t *testing.T) {
	// io.Pipe stands in for a detached data channel — both provide a
	// synchronous stream-oriented ReadWriteCloser.
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	clientStream := &pipeReadWriteCloser{Reader: clientReader, Writer: clientWriter}
	serverStream := &pipeReadWriteCloser{Reader: serverReader, Writer: serverWriter}

	clientConn := NewDataChannelConn(clientStream, "viewer/mux-1", "relay/mux-1")
	serverConn := NewDataChannelConn(serverStream, "relay/mux-1", "viewer/mux-1")
	defer clientConn.Close()
	defer serverConn.Close()

	message := []byte("hello from viewer")
	go func() {
		if _, err := clientConn.Write(message); err != nil {
			t.Errorf("Write error: %v", err)
		}
	}()

	buffer := make([]byte, 256)
	bytesRead, err := serverConn.Read(buffer)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if string(buffer[:bytesRead]) != "hello from viewer" {
		t.Errorf("read = %q, want %q", string(buffer[:bytesRead]), "hello from viewer")
	}
}

func TestDataChannelConn_Addresses(t *testing.T) {
	stream := &pipeReadWriteCloser{Reader: io.NopCloser(nil).(io.Reader), Writer: io.Discard}
	conn := NewDataChannelConn(stream, "local/mux-1", "remote/mux-1")

	if conn.LocalAddr().Network() != "webrtc" {
		t.Errorf("LocalAddr().Network() = %q, want webrtc", conn.LocalAddr().Network())
	}
	if conn.LocalAddr().String() != "local/mux-1" {
		t.Errorf("LocalAddr().String() = %q", conn.LocalAddr().String())
	}
	if conn.RemoteAddr().String() != "remote/mux-1" {
		t.Errorf("RemoteAddr().String() = %q", conn.RemoteAddr().String())
	}
	var _ net.Conn = conn
	conn.Close()
}

func TestDataChannelConn_DeadlineClosesStream(t *testing.T) {
	reader, writer := io.Pipe()
	stream := &pipeReadWriteCloser{Reader: reader, Writer: writer}
	conn := NewDataChannelConn(stream, "local", "remote")

	// A deadline in the past fires immediately.
	conn.SetReadDeadline(time.Now().Add(-1 * time.Second))

	buffer := make([]byte, 10)
	_, err := conn.Read(buffer)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Read error = %v, want os.ErrDeadlineExceeded", err)
	}
}

func TestDataChannelConn_ClearDeadline(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	clientStream := &pipeReadWriteCloser{Reader: clientReader, Writer: clientWriter}
	serverStream := &pipeReadWriteCloser{Reader: serverReader, Writer: serverWriter}

	clientConn := NewDataChannelConn(clientStream, "viewer", "relay")
	serverConn := NewDataChannelConn(serverStream, "relay", "viewer")
	defer clientConn.Close()
	defer serverConn.Close()

	// Set and then clear a deadline; the clear must prevent it from
	// firing.
	clientConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	clientConn.SetReadDeadline(time.Time{})

	time.Sleep(100 * time.Millisecond)

	message := []byte("still alive")
	go func() {
		serverConn.Write(message)
	}()

	buffer := make([]byte, 256)
	bytesRead, err := clientConn.Read(buffer)
	if err != nil {
		t.Fatalf("Read error after clearing deadline: %v", err)
	}
	if string(buffer[:bytesRead]) != "still alive" {
		t.Errorf("read = %q, want %q", string(buffer[:bytesRead]), "still alive")
	}
}

func TestDataChannelConn_CloseStopsTimers(t *testing.T) {
	reader, writer := io.Pipe()
	stream := &pipeReadWriteCloser{Reader: reader, Writer: writer}
	conn := NewDataChannelConn(stream, "local", "remote")

	conn.SetDeadline(time.Now().Add(1 * time.Hour))
	conn.Close()

	if _, err := reader.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected error after Close")
	}
}

// pipeReadWriteCloser combines separate io.Reader and io.Writer into
// an io.ReadWriteCloser. Closing closes the reader (if closable) and
// writer (if closable).
type pipeReadWriteCloser struct {
	io.Reader
	io.Writer
	closed bool
}

func (p *pipeReadWriteCloser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var firstError error
	if closer, ok := p.Reader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			firstError = err
		}
	}
	if closer, ok := p.Writer.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
