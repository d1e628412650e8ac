// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the byte-splicing primitives shared by the
// local proxy and the message multiplexer: bidirectional copying
// between two connections, and classification of the errors that
// normal connection teardown produces.
package netutil

import (
	"io"
	"net"
)

// spliceResult holds the outcome of one direction of a bidirectional copy.
type spliceResult struct {
	bytesCopied int64
	err         error
}

// Splice copies bytes bidirectionally between a consumer-facing
// connection and a forward-port connection until either side closes.
// Both connections are closed before returning, so the surviving copy
// goroutine is always unblocked.
//
// Returns the bytes copied consumer→forward and forward→consumer, and
// the error from whichever direction terminated first. Normal
// connection closure (EOF, peer disconnect, broken pipe, connection
// reset) is reported as a nil error: full-close teardown routinely
// surfaces ECONNRESET or EPIPE on the surviving side, and those are
// not failures.
func Splice(consumer, forward net.Conn) (sent, received int64, err error) {
	sentResults := make(chan spliceResult, 1)
	receivedResults := make(chan spliceResult, 1)
	firstDone := make(chan spliceResult, 2)

	go func() {
		bytesCopied, copyErr := io.Copy(forward, consumer)
		result := spliceResult{bytesCopied: bytesCopied, err: copyErr}
		firstDone <- result
		sentResults <- result
	}()

	go func() {
		bytesCopied, copyErr := io.Copy(consumer, forward)
		result := spliceResult{bytesCopied: bytesCopied, err: copyErr}
		firstDone <- result
		receivedResults <- result
	}()

	// Wait for one direction to finish, then close both connections to
	// unblock the other direction's blocked Read or Write.
	first := <-firstDone
	consumer.Close()
	forward.Close()

	sentResult := <-sentResults
	receivedResult := <-receivedResults

	if first.err != nil && !IsExpectedCloseError(first.err) {
		return sentResult.bytesCopied, receivedResult.bytesCopied, first.err
	}
	return sentResult.bytesCopied, receivedResult.bytesCopied, nil
}
