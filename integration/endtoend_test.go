// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration exercises the full stack: a stub tunnel
// process, the session lifecycle, and a consumer attached through
// each transport strategy.
package integration

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/periscope-project/periscope/mux"
	"github.com/periscope-project/periscope/session"
	"github.com/periscope-project/periscope/transport"
	"github.com/periscope-project/periscope/tunnel"

	"github.com/periscope-project/periscope/lib/testutil"
)

// stubTunnelBinary writes a shell script standing in for ssh: it
// stays alive until terminated, like a healthy tunnel process.
func stubTunnelBinary(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ssh-stub")
	script := "#!/bin/sh\ntrap 'exit 0' TERM\nsleep 60 &\nwait $!\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing stub: %v", err)
	}
	return path
}

// echoService binds an echo server to port, standing in for the
// display server the tunnel would forward to. Returns a counter of
// total bytes echoed, for silent-drop assertions.
func echoService(t *testing.T, port int) *atomic.Int64 {
	t.Helper()

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("echo service on %d: %v", port, err)
	}
	t.Cleanup(func() { listener.Close() })

	var echoed atomic.Int64
	go func() {
		for {
			connection, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				defer connection.Close()
				buffer := make([]byte, 4096)
				for {
					n, readErr := connection.Read(buffer)
					if n > 0 {
						echoed.Add(int64(n))
						if _, writeErr := connection.Write(buffer[:n]); writeErr != nil {
							return
						}
					}
					if readErr != nil {
						return
					}
				}
			}()
		}
	}()
	return &echoed
}

func tunnelConfig(binary string) tunnel.Config {
	return tunnel.Config{
		Binary:      binary,
		User:        "root",
		ControlPort: 22,
		DisplayPort: 5900,
	}
}

// TestMultiplexerEndToEnd drives the whole relay path: tunnel comes
// up, the probe succeeds, a consumer attaches over a TCP carrier,
// opens identifier 7, and echoes "ping" through the multiplexer.
// After close(7), further data for 7 is silently dropped.
func TestMultiplexerEndToEnd(t *testing.T) {
	forwardPort := testutil.FreePort(t)
	echoed := echoService(t, forwardPort)

	carrier, err := transport.NewTCPChannelListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("carrier listener: %v", err)
	}
	s := session.New(tunnelConfig(stubTunnelBinary(t)), "device-a", forwardPort,
		session.NewMuxTransport(forwardPort, carrier, nil), nil)
	t.Cleanup(s.Dispose)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The probe must succeed against the already-listening echo
	// service well inside its first retry windows.
	establishStart := time.Now()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if elapsed := time.Since(establishStart); elapsed > 2*time.Second {
		t.Fatalf("establishment took %v", elapsed)
	}

	dialer := &transport.TCPDialer{}
	channel, err := dialer.DialChannel(ctx, s.Endpoint())
	if err != nil {
		t.Fatalf("attaching to %s: %v", s.Endpoint(), err)
	}
	defer channel.Close()

	// The consumer speaks the raw message protocol, the shape a
	// non-Go viewer would produce.
	if err := channel.Send(mux.OpenMessage(7)); err != nil {
		t.Fatalf("open: %v", err)
	}
	awaitMessage := func(what string) mux.Message {
		t.Helper()
		type result struct {
			message mux.Message
			err     error
		}
		results := make(chan result, 1)
		go func() {
			message, receiveErr := channel.Receive()
			results <- result{message, receiveErr}
		}()
		received := testutil.RequireReceive(t, results, 10*time.Second, what)
		if received.err != nil {
			t.Fatalf("%s: %v", what, received.err)
		}
		return received.message
	}

	// First message on a fresh channel is the ready event, then the
	// open confirmation.
	ready := awaitMessage("ready event")
	if ready.Type != mux.TypeEvent || ready.Subtype != mux.EventReady {
		t.Fatalf("first message = %+v, want ready event", ready)
	}
	opened := awaitMessage("open confirmation")
	if opened.Subtype != mux.SocketOpen || opened.SocketID != 7 {
		t.Fatalf("open confirmation = %+v", opened)
	}

	if err := channel.Send(mux.DataMessage(7, []byte("ping"))); err != nil {
		t.Fatalf("data: %v", err)
	}
	echo := awaitMessage("echoed data")
	if echo.Subtype != mux.SocketData || echo.SocketID != 7 || string(echo.Data) != "ping" {
		t.Fatalf("echo = %+v", echo)
	}

	if err := channel.Send(mux.CloseMessage(7)); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Data for a closed identifier is dropped without an error or
	// event: nothing further reaches the echo service.
	if err := channel.Send(mux.DataMessage(7, []byte("after close"))); err != nil {
		t.Fatalf("post-close data: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if echoed.Load() > int64(len("ping")) {
			t.Fatalf("echo service saw %d bytes after close", echoed.Load())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestLocalProxyEndToEnd drives the connect path: tunnel up, proxy
// bound, a plain TCP consumer spliced through to the echo service.
func TestLocalProxyEndToEnd(t *testing.T) {
	forwardPort := testutil.FreePort(t)
	echoService(t, forwardPort)

	s := session.New(tunnelConfig(stubTunnelBinary(t)), "device-b", forwardPort,
		session.NewProxyTransport(forwardPort, nil), nil)
	t.Cleanup(s.Dispose)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	connection, err := net.DialTimeout("tcp", s.Endpoint(), 5*time.Second)
	if err != nil {
		t.Fatalf("dialing proxy: %v", err)
	}
	defer connection.Close()

	connection.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := connection.Write([]byte("framebuffer update")); err != nil {
		t.Fatalf("write: %v", err)
	}
	echo := make([]byte, len("framebuffer update"))
	if _, err := io.ReadFull(connection, echo); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(echo) != "framebuffer update" {
		t.Fatalf("echo = %q", echo)
	}
}

// TestConcurrentSessionsLeaseDistinctPorts covers two hosts brought
// up in the same instant through a shared registry.
func TestConcurrentSessionsLeaseDistinctPorts(t *testing.T) {
	registry := session.NewRegistry(tunnelConfig(stubTunnelBinary(t)),
		testutil.FreePort(t), session.NewProxyTransport, nil)
	t.Cleanup(registry.DisposeAll)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type result struct {
		session *session.Session
		err     error
	}
	results := make(chan result, 2)
	for _, hostname := range []string{"device-a", "device-b"} {
		hostname := hostname
		go func() {
			created, err := registry.Create(ctx, hostname)
			results <- result{created, err}
		}()
	}

	// Each create needs its echo service up before the probe can
	// succeed; the leased port is only visible once the placeholder
	// session appears.
	for _, hostname := range []string{"device-a", "device-b"} {
		deadline := time.Now().Add(10 * time.Second)
		for registry.Get(hostname) == nil {
			if time.Now().After(deadline) {
				t.Fatalf("placeholder for %s never appeared", hostname)
			}
			time.Sleep(10 * time.Millisecond)
		}
		echoService(t, registry.Get(hostname).ForwardPort())
	}

	first := testutil.RequireReceive(t, results, 30*time.Second, "first session")
	second := testutil.RequireReceive(t, results, 30*time.Second, "second session")
	if first.err != nil || second.err != nil {
		t.Fatalf("create errors: %v, %v", first.err, second.err)
	}
	if first.session.ForwardPort() == second.session.ForwardPort() {
		t.Fatalf("both sessions leased forward port %d", first.session.ForwardPort())
	}
}
