// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"io"
	"net"
	"sync"
)

// Channel is a bidirectional, ordered message carrier between the two
// multiplexer endpoints. Send is safe for concurrent use; Receive must
// be called from a single goroutine. Close releases the carrier and
// unblocks a pending Receive with io.EOF (own close) or the carrier's
// error (peer close).
type Channel interface {
	Send(Message) error
	Receive() (Message, error)
	Close() error
}

// Pipe returns two connected in-memory channel halves. Messages sent
// on one half are received on the other, in order. Closing either half
// ends both directions. Intended for tests and for wiring a server and
// client living in the same process.
func Pipe() (Channel, Channel) {
	shared := &pipeShared{done: make(chan struct{})}
	aToB := make(chan Message, 64)
	bToA := make(chan Message, 64)
	a := &pipeHalf{shared: shared, out: aToB, in: bToA}
	b := &pipeHalf{shared: shared, out: bToA, in: aToB}
	return a, b
}

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type pipeHalf struct {
	shared *pipeShared
	out    chan<- Message
	in     <-chan Message
}

func (p *pipeHalf) Send(message Message) error {
	select {
	case <-p.shared.done:
		return net.ErrClosed
	default:
	}
	select {
	case p.out <- message:
		return nil
	case <-p.shared.done:
		return net.ErrClosed
	}
}

func (p *pipeHalf) Receive() (Message, error) {
	// Drain buffered messages before honoring close, so a close
	// cannot swallow messages already in flight.
	select {
	case message := <-p.in:
		return message, nil
	default:
	}
	select {
	case message := <-p.in:
		return message, nil
	case <-p.shared.done:
		return Message{}, io.EOF
	}
}

func (p *pipeHalf) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}
