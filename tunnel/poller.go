// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jpillora/backoff"

	"github.com/periscope-project/periscope/lib/clock"
)

// Poller repeatedly probes a local forward port until the forwarded
// service answers. A probe succeeds when the connection delivers at
// least one byte — the display server greets on accept, so a byte
// received proves the whole path through the tunnel is live. A
// connection that is accepted but closes without data means the local
// listener exists but the remote side is not forwarding yet; that
// probe fails and is retried.
//
// The loop is unbounded: only context cancellation stops it short of
// success. Failed attempts are paced by a backoff starting at
// Interval so a dead port is not hammered.
type Poller struct {
	// Interval is the minimum wait between probe attempts.
	// Zero means 200ms.
	Interval time.Duration

	// MaxInterval caps the backoff between attempts. Zero means 1s.
	MaxInterval time.Duration

	// DialTimeout bounds each connection attempt. Zero means 1s.
	DialTimeout time.Duration

	// ReadTimeout bounds the wait for the service's greeting byte on
	// a connected probe. Zero means 1s.
	ReadTimeout time.Duration

	// Clock paces the inter-attempt waits. Nil means the real clock.
	// Socket deadlines always use wall-clock time — a fake clock
	// governs only the waits between attempts.
	Clock clock.Clock

	// Logger receives per-attempt events at Debug level. Nil means
	// slog.Default().
	Logger *slog.Logger
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return 200 * time.Millisecond
}

func (p *Poller) maxInterval() time.Duration {
	if p.MaxInterval > 0 {
		return p.MaxInterval
	}
	return time.Second
}

func (p *Poller) dialTimeout() time.Duration {
	if p.DialTimeout > 0 {
		return p.DialTimeout
	}
	return time.Second
}

func (p *Poller) readTimeout() time.Duration {
	if p.ReadTimeout > 0 {
		return p.ReadTimeout
	}
	return time.Second
}

func (p *Poller) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real()
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Poll probes 127.0.0.1:port until the forwarded service answers or
// ctx is cancelled. Returns nil on readiness and ctx.Err() on
// cancellation. Cancellation is the caller abandoning the wait, not a
// failure — no probe error ever escapes this function.
func (p *Poller) Poll(ctx context.Context, port int) error {
	address := fmt.Sprintf("127.0.0.1:%d", port)
	pacing := &backoff.Backoff{
		Min:    p.interval(),
		Max:    p.maxInterval(),
		Factor: 1.5,
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p.probe(address) {
			p.logger().Debug("forward port ready", "address", address, "attempt", attempt)
			return nil
		}

		wait := pacing.Duration()
		p.logger().Debug("forward port not ready", "address", address, "attempt", attempt, "next_attempt_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock().After(wait):
		}
	}
}

// probe makes one connection attempt and reports whether the service
// answered with at least one byte.
func (p *Poller) probe(address string) bool {
	connection, err := net.DialTimeout("tcp", address, p.dialTimeout())
	if err != nil {
		return false
	}
	defer connection.Close()

	connection.SetReadDeadline(time.Now().Add(p.readTimeout()))
	buffer := make([]byte, 1)
	n, _ := connection.Read(buffer)
	return n > 0
}
