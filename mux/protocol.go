// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package mux

// Message is one record on the multiplexer channel. It is a tagged
// union: Type selects the family, Subtype the operation. Socket-scoped
// messages carry SocketID; data messages carry Data (base64 on the
// wire, handled by encoding/json); error messages carry Reason.
//
// Unknown Type/Subtype combinations are ignored by both endpoints, so
// the protocol can grow without breaking older peers.
type Message struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	SocketID int    `json:"socketId,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Message types.
const (
	// TypeEvent is a session-scoped control message.
	TypeEvent = "event"

	// TypeSocket is a message scoped to one logical connection.
	TypeSocket = "socket"
)

// Event subtypes.
const (
	// EventReady is sent by the server once it is accepting socket
	// messages. Consumers wait for it before the first open.
	EventReady = "ready"

	// EventConnect and EventDisconnect are consumer presence
	// announcements. The server tolerates and ignores them; they
	// exist for channel carriers that want to log attachment.
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Socket subtypes.
const (
	// SocketOpen requests (consumer to server) or confirms (server to
	// consumer) a new logical connection.
	SocketOpen = "open"

	// SocketData carries a payload for an open logical connection.
	SocketData = "data"

	// SocketClose tears down a logical connection. Idempotent in both
	// directions.
	SocketClose = "close"

	// SocketError reports a failed open, server to consumer only.
	// The identifier is free for reuse afterwards.
	SocketError = "error"
)

// ReadyEvent builds the server's ready announcement.
func ReadyEvent() Message {
	return Message{Type: TypeEvent, Subtype: EventReady}
}

// OpenMessage builds an open for the given identifier.
func OpenMessage(socketID int) Message {
	return Message{Type: TypeSocket, Subtype: SocketOpen, SocketID: socketID}
}

// DataMessage builds a data message for the given identifier.
func DataMessage(socketID int, payload []byte) Message {
	return Message{Type: TypeSocket, Subtype: SocketData, SocketID: socketID, Data: payload}
}

// CloseMessage builds a close for the given identifier.
func CloseMessage(socketID int) Message {
	return Message{Type: TypeSocket, Subtype: SocketClose, SocketID: socketID}
}

// ErrorMessage builds a failed-open report for the given identifier.
func ErrorMessage(socketID int, reason string) Message {
	return Message{Type: TypeSocket, Subtype: SocketError, SocketID: socketID, Reason: reason}
}
