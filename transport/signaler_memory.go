// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. Offers and answers are
// exchanged through an internal map, so two PeerTransport instances
// sharing one MemorySignaler can establish PeerConnections without
// any network rendezvous. Used by tests and by deployments where the
// consumer and relay live in the same process.
type MemorySignaler struct {
	mu       sync.Mutex
	offers   map[string]SignalMessage // key: "offerer|target"
	answers  map[string]SignalMessage // key: "offerer|target"
	lastSeen map[string]time.Time     // tracks per-consumer poll state
}

// NewMemorySignaler creates a new in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:   make(map[string]SignalMessage),
		answers:  make(map[string]SignalMessage),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, name, targetName, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := name + signalingSeparator + targetName
	s.offers[key] = SignalMessage{
		PeerName:  name,
		SDP:       sdp,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offererName, name, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := offererName + signalingSeparator + name
	s.answers[key] = SignalMessage{
		PeerName:  name,
		SDP:       sdp,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, name string) ([]SignalMessage, error) {
	return s.pollSignals(name, s.offers, "offers", matchOfferKey)
}

func (s *MemorySignaler) PollAnswers(_ context.Context, name string) ([]SignalMessage, error) {
	return s.pollSignals(name, s.answers, "answers", matchAnswerKey)
}

// pollSignals iterates a signal store and returns messages whose keys
// match the given matcher, filtering out already-seen timestamps.
func (s *MemorySignaler) pollSignals(name string, store map[string]SignalMessage, storeLabel string, match signalKeyMatcher) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []SignalMessage

	for key, message := range store {
		if _, ok := match(key, name); !ok {
			continue
		}

		timestamp, err := time.Parse(time.RFC3339Nano, message.Timestamp)
		if err != nil {
			continue
		}

		seenKey := storeLabel + ":" + name + ":" + key
		if last, ok := s.lastSeen[seenKey]; ok && !timestamp.After(last) {
			continue
		}
		s.lastSeen[seenKey] = timestamp

		messages = append(messages, message)
	}

	return messages, nil
}
