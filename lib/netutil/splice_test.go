// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
)

// connPair returns two connected TCP connections on the loopback
// interface. Both sides are closed when the test completes.
func connPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		connection, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		accepted <- connection
	}()

	dialed, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-accepted

	t.Cleanup(func() {
		dialed.Close()
		server.Close()
	})
	return dialed, server
}

func TestSplice_ForwardsBothDirections(t *testing.T) {
	// Consumer pair: the test writes on consumerFar, Splice reads from
	// consumerNear. Forward pair: Splice writes to forwardNear, the
	// test reads from forwardFar.
	consumerFar, consumerNear := connPair(t)
	forwardNear, forwardFar := connPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		Splice(consumerNear, forwardNear)
	}()

	if _, err := consumerFar.Write([]byte("to-device")); err != nil {
		t.Fatalf("write consumer side: %v", err)
	}
	buffer := make([]byte, 16)
	n, err := forwardFar.Read(buffer)
	if err != nil {
		t.Fatalf("read forward side: %v", err)
	}
	if got := string(buffer[:n]); got != "to-device" {
		t.Fatalf("forward side received %q, want %q", got, "to-device")
	}

	if _, err := forwardFar.Write([]byte("from-device")); err != nil {
		t.Fatalf("write forward side: %v", err)
	}
	n, err = consumerFar.Read(buffer)
	if err != nil {
		t.Fatalf("read consumer side: %v", err)
	}
	if got := string(buffer[:n]); got != "from-device" {
		t.Fatalf("consumer side received %q, want %q", got, "from-device")
	}

	// Closing one far end terminates the splice and closes the other
	// near connection, which propagates to the other far end.
	consumerFar.Close()
	<-done
	if _, err := forwardFar.Read(buffer); err == nil {
		t.Fatal("forward side still open after consumer close")
	}
}

func TestSplice_ReportsByteCounts(t *testing.T) {
	consumerFar, consumerNear := connPair(t)
	forwardNear, forwardFar := connPair(t)

	type outcome struct {
		sent, received int64
		err            error
	}
	results := make(chan outcome, 1)
	go func() {
		sent, received, err := Splice(consumerNear, forwardNear)
		results <- outcome{sent, received, err}
	}()

	// Drain the forward side so writes complete.
	go io.Copy(io.Discard, forwardFar)

	payload := make([]byte, 4096)
	if _, err := consumerFar.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := forwardFar.Write(payload[:100]); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Read the 100 bytes headed back to the consumer before closing.
	if _, err := io.ReadFull(consumerFar, make([]byte, 100)); err != nil {
		t.Fatalf("read: %v", err)
	}
	consumerFar.Close()

	result := <-results
	if result.err != nil {
		t.Fatalf("splice error: %v", result.err)
	}
	if result.sent != 4096 {
		t.Errorf("sent = %d, want 4096", result.sent)
	}
	if result.received != 100 {
		t.Errorf("received = %d, want 100", result.received)
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"EOF", io.EOF, true},
		{"closed connection", net.ErrClosed, true},
		{"broken pipe", syscall.EPIPE, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"wrapped reset", &net.OpError{Op: "write", Err: syscall.ECONNRESET}, true},
		{"refused", syscall.ECONNREFUSED, false},
		{"other", errors.New("disk on fire"), false},
	}
	for _, tc := range cases {
		if got := IsExpectedCloseError(tc.err); got != tc.want {
			t.Errorf("%s: IsExpectedCloseError = %v, want %v", tc.name, got, tc.want)
		}
	}
}
