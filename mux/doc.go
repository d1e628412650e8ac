// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package mux multiplexes logical socket streams over one bidirectional
// message channel.
//
// Consumers that cannot open sockets (a viewer running inside a
// sandbox, a page with only a message port to its host) still need a
// byte stream to the remote display server. The multiplexer gives them
// one: the consumer side speaks JSON messages tagged with a small
// integer socketId, and the server side holds one real outbound TCP
// connection to the tunnel's forward port per open identifier, copying
// bytes between the two worlds.
//
// [Message] is the wire schema. [Channel] abstracts the carrier: an
// in-memory pipe for tests, JSON lines over any net.Conn, or a
// WebSocket (package transport). [Server] is the multiplexer proper;
// [Client] is the consumer-side endpoint that turns logical
// identifiers back into io.ReadWriteCloser streams.
//
// Per-identifier message order is preserved end to end: the channel
// delivers in order, the server writes each identifier's payloads
// sequentially, and the client buffers inbound payloads in arrival
// order. No ordering holds across different identifiers.
package mux
