package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const (
	opusPayloadType = 111
	opusFmtp        = "minptime=10;useinbandfec=1"
)

// OpusCapability is the only codec the mesh negotiates.
var OpusCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: opusFmtp,
}

type Options struct {
	ICEServers []string
	// DisconnectedWait and FailedWait tune how fast a dead path is reported.
	DisconnectedWait time.Duration
	FailedWait       time.Duration
}

// Factory builds audio-only peer connections sharing one pion API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func Configuration(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: OpusCapability,
		PayloadType:        opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.DisconnectedWait > 0 && opts.FailedWait > 0 {
		se.SetICETimeouts(opts.DisconnectedWait, opts.FailedWait, 2*time.Second)
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: Configuration(opts.ICEServers),
	}, nil
}

func (f *Factory) NewConnection(peer domain.ParticipantID) (mesh.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, peer), nil
}
