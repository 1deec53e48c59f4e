package mesh

import (
	"context"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

//go:generate mockgen -destination=mock_interfaces_test.go -package=mesh github.com/dkeye/voicemesh/internal/mesh Signaler,Microphone

// Signaler delivers outbound envelopes over the messaging channel.
// Send must not block on the network.
type Signaler interface {
	Send(env core.Envelope) error
}

// PeerConnection is the slice of a WebRTC peer connection the mesh needs.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalAudio sends track to the peer.
	AddLocalAudio(track webrtc.TrackLocal) error
	// AddReceiveOnlyAudio makes an offer carry an audio section without a local track.
	AddReceiveOnlyAudio() error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// Close releases the connection and drops every registered handler.
	Close() error
}

type ConnectionFactory interface {
	NewConnection(peer domain.ParticipantID) (PeerConnection, error)
}

// RemoteTrack is an inbound audio track; *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Microphone acquires the local capture device.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture is one acquired capture stream.
type Capture interface {
	Track() webrtc.TrackLocal
	// SetEnabled gates frames; a disabled capture emits nothing from the next frame on.
	SetEnabled(enabled bool)
	Close() error
}

// Renderer plays back one remote participant.
type Renderer interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

type RendererFactory interface {
	NewRenderer(peer domain.ParticipantID) (Renderer, error)
}
