// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/periscope-project/periscope/lib/testutil"
)

// startProxy starts a proxy targeting forwardPort on an ephemeral
// listen port and registers cleanup.
func startProxy(t *testing.T, forwardPort int) *Proxy {
	t.Helper()

	proxy := &Proxy{ForwardPort: forwardPort}
	if err := proxy.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(proxy.Stop)
	return proxy
}

func dialProxy(t *testing.T, proxy *Proxy) net.Conn {
	t.Helper()

	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(proxy.Port()))
	connection, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		t.Fatalf("dialing proxy: %v", err)
	}
	t.Cleanup(func() { connection.Close() })
	return connection
}

func TestStart_MissingForwardPort(t *testing.T) {
	proxy := &Proxy{}
	if err := proxy.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing ForwardPort")
	}
}

func TestProxy_EchoRoundTrip(t *testing.T) {
	forwardPort := testutil.EchoListener(t)
	proxy := startProxy(t, forwardPort)

	connection := dialProxy(t, proxy)
	payload := []byte("framebuffer update request")
	if _, err := connection.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	response := make([]byte, len(payload))
	connection.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(connection, response); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(response, payload) {
		t.Fatalf("echoed %q, want %q", response, payload)
	}
}

func TestProxy_ServerGreetingReachesConsumer(t *testing.T) {
	forwardPort := testutil.GreetingListener(t, "RFB 003.008\n")
	proxy := startProxy(t, forwardPort)

	connection := dialProxy(t, proxy)

	greeting := make([]byte, 12)
	connection.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(connection, greeting); err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if string(greeting) != "RFB 003.008\n" {
		t.Fatalf("greeting = %q", greeting)
	}
}

func TestProxy_ConcurrentConsumers(t *testing.T) {
	forwardPort := testutil.EchoListener(t)
	proxy := startProxy(t, forwardPort)

	const consumers = 8
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			address := net.JoinHostPort("127.0.0.1", strconv.Itoa(proxy.Port()))
			connection, err := net.DialTimeout("tcp", address, 5*time.Second)
			if err != nil {
				t.Errorf("consumer %d: dial: %v", id, err)
				return
			}
			defer connection.Close()

			payload := bytes.Repeat([]byte{byte('a' + id)}, 512)
			if _, writeErr := connection.Write(payload); writeErr != nil {
				t.Errorf("consumer %d: write: %v", id, writeErr)
				return
			}
			response := make([]byte, len(payload))
			connection.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, readErr := io.ReadFull(connection, response); readErr != nil {
				t.Errorf("consumer %d: read: %v", id, readErr)
				return
			}
			if !bytes.Equal(response, payload) {
				t.Errorf("consumer %d: payload corrupted", id)
			}
		}(i)
	}
	wg.Wait()
}

func TestProxy_DeadForwardPortClosesConsumer(t *testing.T) {
	// Nothing listens on the forward port: the tunnel died after the
	// proxy started. The consumer connection must be closed promptly
	// rather than held open.
	proxy := &Proxy{
		ForwardPort: testutil.FreePort(t),
		DialTimeout: 500 * time.Millisecond,
	}
	if err := proxy.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(proxy.Stop)

	connection := dialProxy(t, proxy)
	connection.SetReadDeadline(time.Now().Add(5 * time.Second))
	buffer := make([]byte, 1)
	if _, err := connection.Read(buffer); err == nil {
		t.Fatal("expected consumer connection to be closed")
	}
}

func TestProxy_StopDrainsConnections(t *testing.T) {
	forwardPort := testutil.EchoListener(t)

	proxy := &Proxy{ForwardPort: forwardPort}
	if err := proxy.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	connection := dialProxy(t, proxy)
	if _, err := connection.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	response := make([]byte, 4)
	connection.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(connection, response); err != nil {
		t.Fatalf("read: %v", err)
	}
	connection.Close()

	done := make(chan struct{})
	go func() {
		proxy.Stop()
		close(done)
	}()
	testutil.RequireClosed(t, done, 5*time.Second, "Stop did not return")

	// The listener is gone: new consumers are refused.
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(proxy.Port()))
	if c, err := net.DialTimeout("tcp", address, time.Second); err == nil {
		c.Close()
		t.Fatal("proxy still accepting after Stop")
	}
}

func TestProxy_EphemeralPortAssigned(t *testing.T) {
	proxy := startProxy(t, testutil.EchoListener(t))
	if proxy.Port() == 0 {
		t.Fatal("Port returned 0 after Start")
	}
}
