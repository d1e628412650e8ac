// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC
// PeerConnections. The zero value gathers only host candidates (no
// STUN, no TURN) — sufficient for same-machine and same-LAN use,
// which is where the relay and its consumers usually sit.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in
	// sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromServers builds a config from STUN/TURN URIs with a
// shared credential. Empty uris returns the host-candidates-only
// config.
func ICEConfigFromServers(uris []string, username, password string) ICEConfig {
	if len(uris) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       uris,
				Username:   username,
				Credential: password,
			},
		},
	}
}
