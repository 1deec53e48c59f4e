package mesh

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// speakingWindow is how recent the last packet must be for a peer to count as speaking.
const speakingWindow = 300 * time.Millisecond

// AudioHandle describes one rendered remote stream for UI indicators.
type AudioHandle struct {
	Peer       domain.ParticipantID `json:"peer"`
	TrackID    string               `json:"track_id"`
	Packets    uint64               `json:"packets"`
	LastPacket time.Time            `json:"last_packet,omitzero"`
	Speaking   bool                 `json:"speaking"`
}

type playbackState int32

const (
	playbackOk playbackState = iota
	playbackStopped
)

// playback is one read loop from a remote track into a renderer.
type playback struct {
	track   RemoteTrack
	state   atomic.Int32
	packets atomic.Uint64
	last    atomic.Int64
}

func (p *playback) stopped() bool { return playbackState(p.state.Load()) == playbackStopped }
func (p *playback) stop()         { p.state.Store(int32(playbackStopped)) }

type output struct {
	renderer Renderer
	play     *playback
}

// Sink renders each remote participant's audio through exactly one Renderer.
type Sink struct {
	factory RendererFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	outputs map[domain.ParticipantID]*output
	wg      conc.WaitGroup
}

func NewSink(factory RendererFactory, logger zerolog.Logger) *Sink {
	return &Sink{
		factory: factory,
		logger:  logger.With().Str("module", "sink").Logger(),
		outputs: make(map[domain.ParticipantID]*output),
	}
}

// Attach starts rendering track for peer. The peer's renderer is created once
// and reused; a different track replaces the previous read loop.
func (s *Sink) Attach(peer domain.ParticipantID, track RemoteTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.outputs[peer]
	if ok && out.play != nil && out.play.track == track && !out.play.stopped() {
		return nil
	}
	if !ok {
		r, err := s.factory.NewRenderer(peer)
		if err != nil {
			return err
		}
		out = &output{renderer: r}
		s.outputs[peer] = out
	}
	if out.play != nil {
		s.logger.Info().Str("peer", string(peer)).Str("track_id", out.play.track.ID()).Msg("replacing remote track")
		out.play.stop()
	}
	play := &playback{track: track}
	out.play = play
	renderer := out.renderer
	logger := s.logger.With().Str("peer", string(peer)).Str("track_id", track.ID()).Logger()
	logger.Info().Msg("starting playback")
	s.wg.Go(func() { play.loop(renderer, &logger) })
	return nil
}

func (p *playback) loop(r Renderer, logger *zerolog.Logger) {
	for {
		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			if !p.stopped() {
				logger.Debug().Err(err).Msg("remote track ended")
			}
			p.stop()
			return
		}
		if p.stopped() {
			return
		}
		p.deliver(r, pkt, logger)
		if p.stopped() {
			return
		}
	}
}

func (p *playback) deliver(r Renderer, pkt *rtp.Packet, logger *zerolog.Logger) {
	p.packets.Add(1)
	p.last.Store(time.Now().UnixNano())
	if err := r.WriteRTP(pkt); err != nil {
		if p.stopped() {
			// Detached while the packet was in flight; the renderer is gone.
			logger.Debug().Err(err).Msg("packet after playback stopped")
			return
		}
		logger.Error().Err(err).Msg("render RTP error, stopping playback")
		p.stop()
	}
}

// Detach stops the peer's playback and closes its renderer.
func (s *Sink) Detach(peer domain.ParticipantID) {
	s.mu.Lock()
	out, ok := s.outputs[peer]
	delete(s.outputs, peer)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.release(peer, out)
}

func (s *Sink) release(peer domain.ParticipantID, out *output) {
	if out.play != nil {
		out.play.stop()
	}
	if err := out.renderer.Close(); err != nil {
		s.logger.Warn().Err(err).Str("peer", string(peer)).Msg("close renderer")
	}
}

// DetachAll detaches every peer and waits for all read loops to return.
// Callers close the underlying connections first so blocked reads end.
func (s *Sink) DetachAll() {
	s.mu.Lock()
	outputs := s.outputs
	s.outputs = make(map[domain.ParticipantID]*output)
	s.mu.Unlock()
	for peer, out := range outputs {
		s.release(peer, out)
	}
	s.wg.Wait()
}

// Handles returns the rendered streams ordered by peer.
func (s *Sink) Handles() []AudioHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]AudioHandle, 0, len(s.outputs))
	for peer, o := range s.outputs {
		h := AudioHandle{Peer: peer}
		if o.play != nil {
			h.TrackID = o.play.track.ID()
			h.Packets = o.play.packets.Load()
			if ns := o.play.last.Load(); ns != 0 {
				h.LastPacket = time.Unix(0, ns)
				h.Speaking = now.Sub(h.LastPacket) < speakingWindow
			}
		}
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b AudioHandle) int { return cmp.Compare(a.Peer, b.Peer) })
	return out
}

func (s *Sink) Has(peer domain.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.outputs[peer]
	return ok
}
