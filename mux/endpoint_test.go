// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/periscope-project/periscope/lib/testutil"
)

// startEndpoints wires a Server and Client over an in-memory pipe and
// returns the ready client.
func startEndpoints(t *testing.T, forwardPort int) *Client {
	t.Helper()

	serverHalf, clientHalf := Pipe()
	server := &Server{ForwardPort: forwardPort, Channel: serverHalf, DialTimeout: time.Second}
	client := &Client{Channel: clientHalf}

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	clientDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		server.Run(ctx)
	}()
	go func() {
		defer close(clientDone)
		client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		clientHalf.Close()
		testutil.RequireClosed(t, serverDone, 5*time.Second, "server did not stop")
		testutil.RequireClosed(t, clientDone, 5*time.Second, "client did not stop")
	})

	readyCtx, readyCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readyCancel()
	if err := client.WaitReady(readyCtx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	return client
}

func TestEndpoints_EchoThroughSocket(t *testing.T) {
	client := startEndpoints(t, testutil.EchoListener(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	socket, err := client.Open(ctx, 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := socket.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	response := make([]byte, 4)
	if _, err := io.ReadFull(socket, response); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(response) != "ping" {
		t.Fatalf("response = %q, want ping", response)
	}

	if err := socket.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent.
	if err := socket.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEndpoints_OpenFailsWhenForwardPortDead(t *testing.T) {
	client := startEndpoints(t, testutil.FreePort(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Open(ctx, 1); err == nil {
		t.Fatal("expected open to fail against a dead forward port")
	}
}

func TestEndpoints_DuplicateOpenRejectedLocally(t *testing.T) {
	client := startEndpoints(t, testutil.EchoListener(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	socket, err := client.Open(ctx, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer socket.Close()

	if _, err := client.Open(ctx, 3); err == nil {
		t.Fatal("expected duplicate open to fail while 3 is held")
	}
}

func TestEndpoints_IdentifierReuseAfterClose(t *testing.T) {
	client := startEndpoints(t, testutil.EchoListener(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := client.Open(ctx, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first.Close()

	second, err := client.Open(ctx, 3)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	defer second.Close()

	if _, err := second.Write([]byte("again")); err != nil {
		t.Fatalf("Write on reused identifier: %v", err)
	}
	response := make([]byte, 5)
	if _, err := io.ReadFull(second, response); err != nil {
		t.Fatalf("Read on reused identifier: %v", err)
	}
	if string(response) != "again" {
		t.Fatalf("response = %q", response)
	}
}

func TestEndpoints_ConcurrentSocketsAreIndependent(t *testing.T) {
	client := startEndpoints(t, testutil.EchoListener(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const socketCount = 5
	var wg sync.WaitGroup
	for i := 0; i < socketCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			socket, err := client.Open(ctx, id)
			if err != nil {
				t.Errorf("socket %d: Open: %v", id, err)
				return
			}
			defer socket.Close()

			payload := bytes.Repeat([]byte{byte('A' + id)}, 256)
			if _, writeErr := socket.Write(payload); writeErr != nil {
				t.Errorf("socket %d: Write: %v", id, writeErr)
				return
			}
			response := make([]byte, len(payload))
			if _, readErr := io.ReadFull(socket, response); readErr != nil {
				t.Errorf("socket %d: Read: %v", id, readErr)
				return
			}
			if !bytes.Equal(response, payload) {
				t.Errorf("socket %d: payload crossed streams", id)
			}
		}(i)
	}
	wg.Wait()
}

func TestEndpoints_RemoteCloseEOFsReader(t *testing.T) {
	closeRequests := make(chan struct{}, 1)
	forwardPort := closableListener(t, closeRequests)

	client := startEndpoints(t, forwardPort)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	socket, err := client.Open(ctx, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	closeRequests <- struct{}{}

	buffer := make([]byte, 1)
	if _, err := socket.Read(buffer); err != io.EOF {
		t.Fatalf("Read after remote close = %v, want io.EOF", err)
	}
}

// closableListener accepts one connection at a time and closes it when
// a request arrives on closeRequests.
func closableListener(t *testing.T, closeRequests <-chan struct{}) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			connection, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				<-closeRequests
				connection.Close()
			}()
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

func TestClient_OpenConfirmedDuringTeardown(t *testing.T) {
	clientHalf, serverHalf := Pipe()
	defer serverHalf.Close()

	client := &Client{Channel: clientHalf}
	client.init()

	type openResult struct {
		socket *Socket
		err    error
	}
	results := make(chan openResult, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		socket, err := client.Open(ctx, 3)
		results <- openResult{socket, err}
	}()

	// Wait for the open request to register its reply waiter.
	deadline := time.Now().Add(5 * time.Second)
	for {
		client.mu.Lock()
		_, waiting := client.pending[3]
		client.mu.Unlock()
		if waiting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("open request never registered")
		}
		time.Sleep(time.Millisecond)
	}

	// Confirm the open and immediately tear the client down, racing
	// teardown against the confirmation landing in Open.
	client.dispatch(OpenMessage(3))
	client.teardown()

	result := testutil.RequireReceive(t, results, 5*time.Second, "open result")
	if result.err != nil {
		// Teardown won: the open is refused outright.
		if !errors.Is(result.err, net.ErrClosed) {
			t.Fatalf("open error = %v, want net.ErrClosed", result.err)
		}
		return
	}

	// The confirmation won: the socket must still have been ended by
	// the teardown — a read returns EOF instead of blocking forever.
	readErrs := make(chan error, 1)
	go func() {
		_, readErr := result.socket.Read(make([]byte, 1))
		readErrs <- readErr
	}()
	readErr := testutil.RequireReceive(t, readErrs, 5*time.Second, "read after teardown")
	if readErr != io.EOF {
		t.Fatalf("read error = %v, want io.EOF", readErr)
	}
}
