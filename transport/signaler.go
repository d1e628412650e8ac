// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
)

// Signaler abstracts the mechanism for exchanging WebRTC session
// descriptions between a consumer and a relay. Deployments bring
// their own rendezvous (a shared HTTP endpoint, a message bus); tests
// and same-process wiring use [MemorySignaler].
//
// The signaling model is vanilla ICE: all ICE candidates are gathered
// before the SDP is published, so connection establishment requires
// exactly one signaling round-trip (offer then answer).
type Signaler interface {
	// PublishOffer publishes a complete SDP offer directed at a
	// target peer. name is the offerer's peer name, targetName the
	// intended recipient. The implementation stores the SDP under the
	// key "<name>|<targetName>" where the target can find it.
	PublishOffer(ctx context.Context, name, targetName, sdp string) error

	// PublishAnswer publishes a complete SDP answer in response to a
	// previously received offer. The key matches the offer:
	// "<offererName>|<name>".
	PublishAnswer(ctx context.Context, offererName, name, sdp string) error

	// PollOffers returns all pending offers directed at this peer,
	// newer than what was last returned.
	PollOffers(ctx context.Context, name string) ([]SignalMessage, error)

	// PollAnswers returns all pending answers to offers originated by
	// this peer, newer than what was last returned.
	PollAnswers(ctx context.Context, name string) ([]SignalMessage, error)
}

// SignalMessage represents a signaling message (offer or answer).
type SignalMessage struct {
	// PeerName identifies the other party. For received offers this
	// is the offerer; for received answers, the answerer.
	PeerName string

	// SDP is the complete Session Description Protocol string with
	// all ICE candidates embedded.
	SDP string

	// Timestamp is the ISO 8601 creation time of the signal.
	Timestamp string
}

// signalingSeparator separates the offerer and target names in a
// signaling key. Peer names must not contain it.
const signalingSeparator = "|"

// signalKeyMatcher reports whether a signaling key concerns the given
// peer, returning the other party's name when it does.
type signalKeyMatcher func(key, name string) (peer string, ok bool)

// matchOfferKey matches keys "<offerer>|<name>": offers directed at
// this peer.
func matchOfferKey(key, name string) (string, bool) {
	offerer, target, found := strings.Cut(key, signalingSeparator)
	if !found || target != name {
		return "", false
	}
	return offerer, true
}

// matchAnswerKey matches keys "<name>|<answerer>": answers to offers
// this peer originated.
func matchAnswerKey(key, name string) (string, bool) {
	offerer, answerer, found := strings.Cut(key, signalingSeparator)
	if !found || offerer != name {
		return "", false
	}
	return answerer, true
}
