// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/periscope-project/periscope/mux"
)

// Compile-time interface checks.
var (
	_ ChannelListener = (*PeerTransport)(nil)
	_ ChannelDialer   = (*PeerTransport)(nil)
)

// signalingPollInterval is how often the transport polls for inbound
// signaling offers from peers.
const signalingPollInterval = 2 * time.Second

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// answerPollInterval is how often the dialer polls for an SDP answer
// after publishing an offer.
const answerPollInterval = 500 * time.Millisecond

// answerTimeout is the maximum time to wait for an SDP answer before
// giving up.
const answerTimeout = 30 * time.Second

// dataChannelOpenTimeout bounds the wait for a created data channel to
// reach the open state.
const dataChannelOpenTimeout = 10 * time.Second

// PeerTransport carries multiplexer channels over WebRTC data
// channels. It implements both ChannelListener and ChannelDialer
// because both directions share the same pool of PeerConnections: the
// relay serves, the consumer dials, and each DialChannel call opens a
// fresh ordered data channel on the pair's PeerConnection.
//
// Signaling uses the Signaler interface. Connection establishment
// uses vanilla ICE: all candidates are gathered before the SDP is
// published, so signaling requires exactly one round-trip.
type PeerTransport struct {
	signaler Signaler
	name     string
	logger   *slog.Logger

	// iceConfig is protected separately because deployments with
	// time-limited TURN credentials refresh it periodically.
	configMu  sync.RWMutex
	iceConfig ICEConfig

	// peers maps peer name to peerState.
	mu    sync.Mutex
	peers map[string]*peerState

	// inbound carries channels opened by remote peers. Accept reads
	// from it.
	inbound chan mux.Channel

	// ready is closed when Serve has started the signaling poller.
	ready     chan struct{}
	readyOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once

	// channelCounter generates unique data channel labels.
	channelCounter atomic.Uint64
}

// peerState tracks the PeerConnection to a single remote peer.
// Protected by PeerTransport.mu — callers must hold the lock when
// accessing the peers map and when reading or modifying peerState
// fields.
type peerState struct {
	connection  *webrtc.PeerConnection
	name        string
	established chan struct{} // closed when ICE reaches Connected/Completed
}

// NewPeerTransport creates a WebRTC transport. name identifies this
// endpoint in signaling (e.g. "relay" or "viewer-3"); it must not
// contain "|". logger may be nil for slog.Default().
func NewPeerTransport(signaler Signaler, name string, iceConfig ICEConfig, logger *slog.Logger) *PeerTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerTransport{
		signaler:  signaler,
		name:      name,
		iceConfig: iceConfig,
		logger:    logger.With("peer_transport", name),
		peers:     make(map[string]*peerState),
		inbound:   make(chan mux.Channel, 16),
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// Serve polls for inbound signaling offers and surfaces incoming data
// channels through Accept. Blocks until ctx is cancelled or Close is
// called.
func (t *PeerTransport) Serve(ctx context.Context) error {
	t.readyOnce.Do(func() { close(t.ready) })

	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.closed:
			return nil
		case <-ticker.C:
			t.processInboundOffers(ctx)
		}
	}
}

// Ready returns a channel that is closed once Serve has started the
// signaling poller.
func (t *PeerTransport) Ready() <-chan struct{} {
	return t.ready
}

// Accept blocks for the next inbound channel from any peer.
func (t *PeerTransport) Accept() (mux.Channel, error) {
	select {
	case channel := <-t.inbound:
		return channel, nil
	case <-t.closed:
		return nil, net.ErrClosed
	}
}

// Address returns this endpoint's peer name; remote peers dial it.
func (t *PeerTransport) Address() string {
	return t.name
}

// Close shuts down all PeerConnections and stops the signaling
// poller.
func (t *PeerTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	for name, peer := range t.peers {
		peer.connection.Close()
		delete(t.peers, name)
	}
	return nil
}

// UpdateICEConfig replaces the ICE configuration for new
// PeerConnections. Existing PeerConnections keep their current
// configuration.
func (t *PeerTransport) UpdateICEConfig(config ICEConfig) {
	t.configMu.Lock()
	defer t.configMu.Unlock()
	t.iceConfig = config
}

// DialChannel opens a data channel to the peer named by address and
// wraps it as a message channel. If no PeerConnection exists to that
// peer, one is established by publishing an SDP offer and waiting for
// the answer.
func (t *PeerTransport) DialChannel(ctx context.Context, address string) (mux.Channel, error) {
	select {
	case <-t.closed:
		return nil, net.ErrClosed
	default:
	}

	peer, err := t.getOrCreatePeer(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("establishing peer connection to %s: %w", address, err)
	}

	select {
	case <-peer.established:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, net.ErrClosed
	}

	conn, err := t.openDataChannel(peer)
	if err != nil {
		return nil, err
	}
	return mux.NewConnChannel(conn), nil
}

// getOrCreatePeer returns the peerState for the given peer name,
// creating and signaling a new PeerConnection if necessary. If
// another goroutine is already establishing a connection to this
// peer, callers wait for that attempt rather than starting a parallel
// one.
func (t *PeerTransport) getOrCreatePeer(ctx context.Context, peerName string) (*peerState, error) {
	t.mu.Lock()

	if peer, ok := t.peers[peerName]; ok {
		state := peer.connection.ICEConnectionState()
		if state != webrtc.ICEConnectionStateFailed &&
			state != webrtc.ICEConnectionStateClosed {
			t.mu.Unlock()
			return peer, nil
		}
		// Connection is dead. Tear down and re-establish.
		peer.connection.Close()
		delete(t.peers, peerName)
	}

	// Create the PeerConnection and store it before releasing the
	// lock, so concurrent callers find this entry and wait on
	// peer.established instead of starting duplicate signaling.
	pc, err := t.newPeerConnection()
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &peerState{
		connection:  pc,
		name:        peerName,
		established: make(chan struct{}),
	}
	t.peers[peerName] = peer
	t.mu.Unlock()

	// Run signaling outside the lock. On failure, clean up the map
	// entry so the next caller retries.
	if err := t.establishOutbound(ctx, peer); err != nil {
		t.mu.Lock()
		if current, ok := t.peers[peerName]; ok && current == peer {
			delete(t.peers, peerName)
		}
		t.mu.Unlock()
		pc.Close()
		return nil, err
	}

	return peer, nil
}

// establishOutbound performs SDP signaling for a PeerConnection that
// is already stored in the peers map. On success the peer.established
// channel is closed by the ICE state handler.
func (t *PeerTransport) establishOutbound(ctx context.Context, peer *peerState) error {
	peerName := peer.name
	pc := peer.connection

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.handleInboundDataChannel(dc, peerName)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.handleICEStateChange(peerName, peer, state)
	})

	// A trigger data channel forces pion to include a data channel
	// section in the SDP offer; neither side sends data on it.
	if _, err := pc.CreateDataChannel("init", nil); err != nil {
		return fmt.Errorf("creating init data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	completeSDP := pc.LocalDescription().SDP
	if err := t.signaler.PublishOffer(ctx, t.name, peerName, completeSDP); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	t.logger.Info("WebRTC offer published", "peer", peerName)

	answerSDP, err := t.waitForAnswer(ctx, peerName)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", peerName, err)
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	t.logger.Info("WebRTC outbound connection established", "peer", peerName)
	return nil
}

// waitForAnswer polls the signaler for an SDP answer from the
// specified peer.
func (t *PeerTransport) waitForAnswer(ctx context.Context, peerName string) (string, error) {
	deadline := time.After(answerTimeout)
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.closed:
			return "", net.ErrClosed
		case <-ticker.C:
			answers, err := t.signaler.PollAnswers(ctx, t.name)
			if err != nil {
				t.logger.Warn("polling for SDP answer failed", "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.PeerName == peerName {
					return answer.SDP, nil
				}
			}
		}
	}
}

// processInboundOffers checks for new SDP offers and answers them.
func (t *PeerTransport) processInboundOffers(ctx context.Context) {
	offers, err := t.signaler.PollOffers(ctx, t.name)
	if err != nil {
		t.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		t.mu.Lock()
		existing, hasExisting := t.peers[offer.PeerName]
		t.mu.Unlock()

		if hasExisting {
			state := existing.connection.ICEConnectionState()
			if state != webrtc.ICEConnectionStateFailed &&
				state != webrtc.ICEConnectionStateClosed {
				// Signaling race: both sides offered at once. The
				// lexicographically smaller name is the canonical
				// offerer; the other side's attempt is torn down.
				if offer.PeerName > t.name {
					continue
				}
				t.mu.Lock()
				existing.connection.Close()
				delete(t.peers, offer.PeerName)
				t.mu.Unlock()
			} else {
				t.mu.Lock()
				existing.connection.Close()
				delete(t.peers, offer.PeerName)
				t.mu.Unlock()
			}
		}

		if err := t.answerOffer(ctx, offer); err != nil {
			t.logger.Error("answering WebRTC offer failed",
				"peer", offer.PeerName,
				"error", err,
			)
		}
	}
}

// answerOffer creates a PeerConnection in response to an incoming SDP
// offer.
func (t *PeerTransport) answerOffer(ctx context.Context, offer SignalMessage) error {
	pc, err := t.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &peerState{
		connection:  pc,
		name:        offer.PeerName,
		established: make(chan struct{}),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.handleInboundDataChannel(dc, offer.PeerName)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.handleICEStateChange(offer.PeerName, peer, state)
	})

	remoteOffer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		pc.Close()
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	completeSDP := pc.LocalDescription().SDP
	if err := t.signaler.PublishAnswer(ctx, offer.PeerName, t.name, completeSDP); err != nil {
		pc.Close()
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	t.mu.Lock()
	t.peers[offer.PeerName] = peer
	t.mu.Unlock()

	t.logger.Info("WebRTC inbound connection answered", "peer", offer.PeerName)
	return nil
}

// handleInboundDataChannel wraps an incoming data channel as a
// message channel and queues it for Accept.
func (t *PeerTransport) handleInboundDataChannel(dc *webrtc.DataChannel, peerName string) {
	// The "init" channel is the SDP trigger from establishOutbound;
	// neither side sends data on it. Accepting it would park a reader
	// goroutine forever and can provoke SCTP lock contention when
	// multiple streams on one association have concurrent blocked
	// reads, so it is discarded on open.
	if dc.Label() == "init" {
		dc.OnOpen(func() {
			dc.Close()
		})
		return
	}

	dc.OnOpen(func() {
		t.logger.Debug("inbound data channel opened",
			"peer", peerName,
			"label", dc.Label(),
		)
		rawChannel, err := dc.Detach()
		if err != nil {
			t.logger.Error("detaching inbound data channel failed",
				"peer", peerName,
				"label", dc.Label(),
				"error", err,
			)
			return
		}

		conn := NewDataChannelConn(
			rawChannel,
			t.name+"/"+dc.Label(),
			peerName+"/"+dc.Label(),
		)

		select {
		case t.inbound <- mux.NewConnChannel(conn):
		case <-t.closed:
			conn.Close()
		}
	})
}

// handleICEStateChange monitors PeerConnection state and manages the
// established signal.
func (t *PeerTransport) handleICEStateChange(peerName string, peer *peerState, state webrtc.ICEConnectionState) {
	t.logger.Info("ICE state change", "peer", peerName, "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		select {
		case <-peer.established:
		default:
			close(peer.established)
		}

	case webrtc.ICEConnectionStateFailed:
		t.logger.Warn("WebRTC connection failed, will re-establish on next dial",
			"peer", peerName,
		)
		// Left in the peers map: getOrCreatePeer checks the state and
		// re-establishes on the next dial.

	case webrtc.ICEConnectionStateClosed:
		t.mu.Lock()
		if current, ok := t.peers[peerName]; ok && current == peer {
			delete(t.peers, peerName)
		}
		t.mu.Unlock()
	}
}

// openDataChannel creates a new ordered, reliable data channel on the
// peer's PeerConnection and returns it as a net.Conn.
func (t *PeerTransport) openDataChannel(peer *peerState) (net.Conn, error) {
	counter := t.channelCounter.Add(1)
	label := fmt.Sprintf("mux-%d", counter)

	ordered := true
	dc, err := peer.connection.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}

	openChan := make(chan struct{})
	dc.OnOpen(func() {
		close(openChan)
	})

	select {
	case <-openChan:
	case <-time.After(dataChannelOpenTimeout):
		dc.Close()
		return nil, fmt.Errorf("data channel %s did not open within %s", label, dataChannelOpenTimeout)
	case <-t.closed:
		dc.Close()
		return nil, net.ErrClosed
	}

	rawChannel, err := dc.Detach()
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("detaching data channel %s: %w", label, err)
	}

	return NewDataChannelConn(
		rawChannel,
		t.name+"/"+label,
		peer.name+"/"+label,
	), nil
}

// newPeerConnection creates a pion PeerConnection with the current
// ICE config. The SettingEngine enables data channel detach (required
// for stream-oriented access) and loopback ICE candidates (required
// for same-machine use and test environments).
func (t *PeerTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	t.configMu.RLock()
	config := webrtc.Configuration{
		ICEServers: t.iceConfig.Servers,
	}
	t.configMu.RUnlock()

	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}
