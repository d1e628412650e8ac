// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides carriers for the multiplexer's message
// channel.
//
// The multiplexer in package mux is carrier-agnostic: both endpoints
// speak through the mux.Channel interface. This package supplies the
// real carriers that connect a consumer to a relay across process and
// machine boundaries:
//
//   - TCP: newline-delimited JSON over a plain TCP connection. The
//     development and same-LAN carrier — it requires the consumer to
//     be able to open a socket to the relay, which sandboxed
//     consumers cannot. See [ChannelListener] and [TCPDialer].
//   - WebSocket: one JSON document per text frame. The carrier for
//     browser-hosted viewers, which get WebSocket but not raw
//     sockets. See [WebSocketServer] and [DialWebSocket].
//   - WebRTC data channel: for consumers separated from the relay by
//     NAT. A detached pion data channel is wrapped as a net.Conn
//     ([DataChannelConn]) and carries the same JSON lines as TCP.
//     See [PeerTransport].
//
// WebRTC signaling is abstracted behind the [Signaler] interface,
// which publishes and polls SDP offers and answers in vanilla ICE
// mode (all candidates gathered before signaling). [MemorySignaler]
// provides the in-process implementation used by tests and by
// same-process wiring. When both peers attempt to connect
// simultaneously, the peer whose name is lexicographically smaller
// becomes the offerer and the other drops its redundant attempt.
//
// All carriers deliver messages in order, which the multiplexer's
// per-identifier ordering guarantee depends on.
package transport
