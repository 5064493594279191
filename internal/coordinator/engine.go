package coordinator

import (
	"context"

	"github.com/mossy-p/roomcall/internal/models"
)

// Track is a local media track owned by the engine.
type Track interface {
	ID() string
	Kind() string // "audio" or "video"
	SetEnabled(enabled bool)
}

// ConnectionState is the peer connection state reported by the engine.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	}
	return "unknown"
}

// Listener receives engine notifications for one peer connection. Calls may
// arrive on any goroutine.
type Listener interface {
	OnICECandidate(c models.ICECandidate)
	OnRemoteStream()
	OnConnectionStateChange(s ConnectionState)
}

// PeerConnection is the engine's handle for one remote peer. SDP and
// candidates are opaque to the coordinator.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetLocalDescription(ctx context.Context, desc models.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc models.SessionDescription) error
	AddICECandidate(c models.ICECandidate) error
	AddTrack(t Track) error
	Close() error
}

// Engine is the media engine behind the coordinator.
type Engine interface {
	NewPeerConnection(peerID string, l Listener) (PeerConnection, error)
	LocalTracks(ctx context.Context) ([]Track, error)
}

// Signaler sends envelopes to the relay.
type Signaler interface {
	Send(env models.Envelope) error
}
