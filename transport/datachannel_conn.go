// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// DataChannelConn adapts a detached pion data channel to net.Conn so
// the JSON-lines channel codec can sit on top of it unchanged. The
// detached stream is stream-oriented (SCTP reassembles messages), so
// reads and writes behave like TCP.
//
// The detached stream has no native deadline support. Deadlines are
// emulated the way net.Pipe does it: a timer that, on firing, closes
// the stream so blocked I/O returns. A fired deadline therefore
// breaks the conn permanently, and I/O after expiry reports
// os.ErrDeadlineExceeded per the net.Conn contract.
type DataChannelConn struct {
	stream io.ReadWriteCloser
	local  dataChannelAddr
	remote dataChannelAddr

	mu         sync.Mutex
	readTimer  *time.Timer
	writeTimer *time.Timer
	expired    bool
}

// Compile-time interface check.
var _ net.Conn = (*DataChannelConn)(nil)

// NewDataChannelConn wraps a detached data channel stream. The labels
// name the two endpoints and surface through LocalAddr/RemoteAddr and
// the log lines built from them.
func NewDataChannelConn(stream io.ReadWriteCloser, localLabel, remoteLabel string) *DataChannelConn {
	return &DataChannelConn{
		stream: stream,
		local:  dataChannelAddr{label: localLabel},
		remote: dataChannelAddr{label: remoteLabel},
	}
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) {
	n, err := c.stream.Read(buffer)
	if err != nil && c.hasExpired() {
		return n, os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	n, err := c.stream.Write(buffer)
	if err != nil && c.hasExpired() {
		return n, os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	stopTimer(&c.readTimer)
	stopTimer(&c.writeTimer)
	c.mu.Unlock()
	return c.stream.Close()
}

func (c *DataChannelConn) LocalAddr() net.Addr  { return &c.local }
func (c *DataChannelConn) RemoteAddr() net.Addr { return &c.remote }

// SetDeadline sets both directions. A zero value clears them.
func (c *DataChannelConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.readTimer, deadline)
	c.armLocked(&c.writeTimer, deadline)
	return nil
}

// SetReadDeadline bounds pending and future reads. A zero value
// clears the bound.
func (c *DataChannelConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.readTimer, deadline)
	return nil
}

// SetWriteDeadline bounds pending and future writes. A zero value
// clears the bound.
func (c *DataChannelConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(&c.writeTimer, deadline)
	return nil
}

// armLocked replaces one direction's expiry timer. A zero deadline
// leaves the direction unbounded; a deadline already in the past
// expires the conn on the spot.
func (c *DataChannelConn) armLocked(timer **time.Timer, deadline time.Time) {
	stopTimer(timer)
	if deadline.IsZero() || c.expired {
		return
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		c.expireLocked()
		return
	}
	*timer = time.AfterFunc(remaining, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.expireLocked()
	})
}

// expireLocked marks the conn dead and closes the stream so blocked
// I/O returns.
func (c *DataChannelConn) expireLocked() {
	if c.expired {
		return
	}
	c.expired = true
	c.stream.Close()
}

func (c *DataChannelConn) hasExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func stopTimer(timer **time.Timer) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
}

// dataChannelAddr is the synthetic address of a data channel
// endpoint.
type dataChannelAddr struct {
	label string
}

func (a *dataChannelAddr) Network() string { return "webrtc" }
func (a *dataChannelAddr) String() string  { return a.label }
