// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"net"
	"testing"
)

// EchoListener starts a TCP listener on the loopback interface that
// echoes every received byte back on the same connection. It stands in
// for the remote-display service that the tunnel's forward port
// exposes. Returns the bound port. The listener is closed when the
// test completes.
func EchoListener(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			connection, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				defer connection.Close()
				io.Copy(connection, connection)
			}()
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port
}

// GreetingListener starts a TCP listener that writes greeting to every
// accepted connection and then echoes. Remote-display servers announce
// themselves on connect ("RFB 003.008\n"); the readiness poller's
// byte-received signal depends on that behavior, so tests that exercise
// readiness use this listener rather than a silent EchoListener.
func GreetingListener(t *testing.T, greeting string) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("greeting listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			connection, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				defer connection.Close()
				if _, writeErr := connection.Write([]byte(greeting)); writeErr != nil {
					return
				}
				io.Copy(connection, connection)
			}()
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port
}

// FreePort leases an OS-assigned TCP port and immediately releases it.
// The returned port is very likely (not guaranteed) to remain unbound
// for the next few milliseconds; use it for tests that need a port
// number where nothing is listening yet.
func FreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}
