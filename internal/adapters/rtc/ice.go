// Package rtc builds the ICE server set peers use to reach each other.
package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is used when nothing is configured.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// ICEServers validates urls and turns them into ICE servers. TURN entries get
// the credentials; STUN entries never carry them.
func ICEServers(urls []string, username, credential string) ([]webrtc.ICEServer, error) {
	if len(urls) == 0 {
		return DefaultICEServers(), nil
	}
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, raw := range urls {
		u, err := stun.ParseURI(raw)
		if err != nil {
			return nil, fmt.Errorf("ice server %q: %w", raw, err)
		}
		s := webrtc.ICEServer{URLs: []string{raw}}
		if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
			if username == "" {
				return nil, fmt.Errorf("ice server %q: turn needs a username", raw)
			}
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// Payload renders servers the way RTCPeerConnection expects its iceServers.
func Payload(servers []webrtc.ICEServer) ([]byte, error) {
	b, err := json.Marshal(servers)
	if err != nil {
		return nil, fmt.Errorf("marshal ice servers: %w", err)
	}
	return b, nil
}
