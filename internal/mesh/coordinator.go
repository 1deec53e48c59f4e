package mesh

import (
	"context"
	"errors"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned by Coordinator methods once Run has returned.
var ErrStopped = errors.New("mesh coordinator stopped")

const (
	DefaultMaxRetries = 1
	eventQueueSize    = 256
)

type Options struct {
	Self        domain.ParticipantID
	Signaler    Signaler
	Connections ConnectionFactory
	Microphone  Microphone
	Renderers   RendererFactory
	// MaxRetries bounds fresh negotiations after a connection fails.
	// Zero means DefaultMaxRetries, negative disables retries.
	MaxRetries int
}

// Coordinator keeps one PeerLink per other participant of the joined channel.
// All state changes run on the goroutine executing Run, one event at a time.
type Coordinator struct {
	self       domain.ParticipantID
	signaler   Signaler
	conns      ConnectionFactory
	mic        Microphone
	media      *LocalMedia
	sink       *Sink
	maxRetries int
	logger     zerolog.Logger
	notices    notifier

	events chan func()
	done   chan struct{}

	// Owned by the event loop.
	runCtx      context.Context
	joined      bool
	channel     domain.ChannelName
	epoch       uint64
	registry    *Registry
	retries     map[domain.ParticipantID]int
	cancelMedia context.CancelFunc
}

func New(opts Options) *Coordinator {
	retries := opts.MaxRetries
	switch {
	case retries == 0:
		retries = DefaultMaxRetries
	case retries < 0:
		retries = 0
	}
	logger := log.With().Str("module", "mesh").Str("self", string(opts.Self)).Logger()
	return &Coordinator{
		self:       opts.Self,
		signaler:   opts.Signaler,
		conns:      opts.Connections,
		mic:        opts.Microphone,
		media:      NewLocalMedia(),
		sink:       NewSink(opts.Renderers, logger),
		maxRetries: retries,
		logger:     logger,
		events:     make(chan func(), eventQueueSize),
		done:       make(chan struct{}),
		runCtx:     context.Background(),
	}
}

// Run processes events until ctx is done, then tears the mesh down.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)
	defer c.leave("stopped")

	c.logger.Info().Msg("mesh coordinator started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.events:
			fn()
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (c *Coordinator) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case c.events <- func() { fn(); close(ran) }:
	case <-c.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// post queues fn without waiting. Used from connection callbacks.
func (c *Coordinator) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// ChannelJoined starts a new membership. Members already present are
// expected to send offers; the local side only answers them.
func (c *Coordinator) ChannelJoined(ch domain.ChannelName, members []domain.ParticipantID) error {
	return c.do(func() { c.join(ch, members) })
}

func (c *Coordinator) ChannelLeft() error {
	return c.do(func() { c.leave("channel left") })
}

func (c *Coordinator) PeerJoined(peer domain.ParticipantID) error {
	return c.do(func() {
		if !c.joined || peer == c.self {
			return
		}
		delete(c.retries, peer)
		c.startCaller(peer)
	})
}

func (c *Coordinator) PeerLeft(peer domain.ParticipantID) error {
	return c.do(func() {
		if !c.joined {
			return
		}
		delete(c.retries, peer)
		c.teardown(peer, "peer left")
	})
}

// Deliver applies an inbound negotiation envelope.
func (c *Coordinator) Deliver(env core.Envelope) error {
	return c.do(func() { c.deliver(env) })
}

// DeliveryFailed tears down the link to a peer the messaging layer could not reach.
func (c *Coordinator) DeliveryFailed(peer domain.ParticipantID) error {
	return c.do(func() {
		if c.joined {
			c.teardown(peer, "signaling undeliverable")
		}
	})
}

// Peers returns a snapshot of the current links ordered by peer.
func (c *Coordinator) Peers() []PeerInfo {
	var out []PeerInfo
	if err := c.do(func() {
		out = []PeerInfo{}
		if c.registry == nil {
			return
		}
		for _, l := range c.registry.List() {
			out = append(out, l.info())
		}
	}); err != nil {
		return nil
	}
	return out
}

// Channel reports the joined channel.
func (c *Coordinator) Channel() (domain.ChannelName, bool) {
	var (
		ch     domain.ChannelName
		joined bool
	)
	_ = c.do(func() { ch, joined = c.channel, c.joined })
	return ch, joined
}

// ToggleMute flips the mute flag and returns the new state. Without a
// capture it does nothing and returns false.
func (c *Coordinator) ToggleMute() bool { return c.media.ToggleMute() }

func (c *Coordinator) SetMuted(muted bool) bool { return c.media.SetMuted(muted) }

func (c *Coordinator) Muted() bool { return c.media.Muted() }

// ReceiveOnly reports whether the current membership runs without capture.
func (c *Coordinator) ReceiveOnly() bool { return c.media.settled() && !c.media.Available() }

// Handles lists the remote streams being rendered.
func (c *Coordinator) Handles() []AudioHandle { return c.sink.Handles() }

// Subscribe registers fn for notices. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func(Notice)) (unsubscribe func()) {
	return c.notices.subscribe(fn)
}

func (c *Coordinator) join(ch domain.ChannelName, members []domain.ParticipantID) {
	if c.joined {
		c.leave("rejoin")
	}
	c.joined = true
	c.channel = ch
	c.epoch++
	c.registry = NewRegistry()
	c.retries = make(map[domain.ParticipantID]int)
	c.logger.Info().Str("channel", string(ch)).Int("members", len(members)).Msg("joined channel")

	c.media.begin()
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelMedia = cancel
	epoch := c.epoch
	go func() {
		capture, err := c.mic.Open(ctx)
		c.post(func() { c.mediaSettled(epoch, capture, err) })
	}()
}

func (c *Coordinator) mediaSettled(epoch uint64, capture Capture, err error) {
	if epoch != c.epoch || !c.joined {
		if capture != nil {
			_ = capture.Close()
		}
		return
	}
	if err != nil {
		if capture != nil {
			_ = capture.Close()
		}
		c.media.receiveOnly()
		c.logger.Warn().Err(err).Msg("capture unavailable, continuing receive-only")
		c.notices.emit(Notice{Kind: NoticeReceiveOnly, Err: err.Error()})
	} else {
		c.media.attach(capture)
		c.logger.Info().Msg("capture ready")
	}

	for _, link := range c.registry.List() {
		if link.phase != PhaseIdle {
			continue
		}
		switch {
		case link.pendingOffer != nil:
			c.answer(link, *link.pendingOffer)
		case link.role == RoleCaller:
			c.offer(link)
		}
	}
}

func (c *Coordinator) leave(reason string) {
	if !c.joined {
		return
	}
	c.epoch++
	if c.cancelMedia != nil {
		c.cancelMedia()
		c.cancelMedia = nil
	}
	closed := c.registry.CloseAll()
	c.sink.DetachAll()
	if err := c.media.Release(); err != nil {
		c.logger.Warn().Err(err).Msg("release capture")
	}
	c.logger.Info().Str("channel", string(c.channel)).Str("reason", reason).Int("links", len(closed)).Msg("left channel")
	c.registry = nil
	c.retries = nil
	c.joined = false
	c.channel = ""
}

func (c *Coordinator) buildLink(peer domain.ParticipantID, role Role) (*PeerLink, error) {
	conn, err := c.conns.NewConnection(peer)
	if err != nil {
		return nil, err
	}
	link := newPeerLink(peer, role, conn, c.logger)
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.post(func() { c.localCandidate(link, ci) })
	})
	conn.OnTrack(func(t RemoteTrack) {
		c.post(func() { c.remoteTrack(link, t) })
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.post(func() { c.connectionState(link, s) })
	})
	return link, nil
}

// isCurrent reports whether link is still the open registry entry for its peer.
func (c *Coordinator) isCurrent(link *PeerLink) bool {
	if c.registry == nil || link.Closed() {
		return false
	}
	cur, ok := c.registry.Get(link.peer)
	return ok && cur == link
}

func (c *Coordinator) startCaller(peer domain.ParticipantID) {
	link, created, err := c.registry.GetOrCreate(peer, func() (*PeerLink, error) {
		return c.buildLink(peer, RoleCaller)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("peer", string(peer)).Msg("create connection")
		return
	}
	if !created {
		return
	}
	if c.media.settled() {
		c.offer(link)
	}
}

func (c *Coordinator) offer(link *PeerLink) {
	sdp, err := link.startOffer(c.media.Track())
	if err != nil {
		link.logger.Warn().Err(err).Msg("start offer")
		c.teardown(link.peer, "offer failed")
		return
	}
	if err := c.send(core.EnvelopeOffer, link.peer, sdp); err != nil {
		link.logger.Warn().Err(err).Msg("send offer")
		c.teardown(link.peer, "signaling failed")
		return
	}
	link.logger.Debug().Str("phase", link.phase.String()).Msg("offer sent")
}

func (c *Coordinator) answer(link *PeerLink, offer webrtc.SessionDescription) {
	sdp, err := link.acceptOffer(offer, c.media.Track())
	if err != nil {
		link.logger.Warn().Err(err).Msg("accept offer")
		c.teardown(link.peer, "answer failed")
		return
	}
	if err := c.send(core.EnvelopeAnswer, link.peer, sdp); err != nil {
		link.logger.Warn().Err(err).Msg("send answer")
		c.teardown(link.peer, "signaling failed")
		return
	}
	link.answerSent()
	link.logger.Debug().Str("phase", link.phase.String()).Msg("answer sent")
}

func (c *Coordinator) send(t core.EnvelopeType, to domain.ParticipantID, payload any) error {
	env, err := core.NewEnvelope(t, c.self, to, payload)
	if err != nil {
		return err
	}
	return c.signaler.Send(env)
}

func (c *Coordinator) deliver(env core.Envelope) {
	if !c.joined {
		return
	}
	if env.From == "" || env.From == c.self || (env.To != "" && env.To != c.self) {
		c.logger.Debug().Str("from", string(env.From)).Str("to", string(env.To)).Msg("envelope not addressed to us")
		return
	}
	switch env.Type {
	case core.EnvelopeOffer:
		var sdp webrtc.SessionDescription
		if err := env.Decode(&sdp); err != nil {
			c.logger.Warn().Err(err).Msg("drop offer")
			return
		}
		c.onOffer(env.From, sdp)
	case core.EnvelopeAnswer:
		var sdp webrtc.SessionDescription
		if err := env.Decode(&sdp); err != nil {
			c.logger.Warn().Err(err).Msg("drop answer")
			return
		}
		c.onAnswer(env.From, sdp)
	case core.EnvelopeCandidate:
		var ci webrtc.ICECandidateInit
		if err := env.Decode(&ci); err != nil {
			c.logger.Warn().Err(err).Msg("drop candidate")
			return
		}
		c.onCandidate(env.From, ci)
	default:
		c.logger.Warn().Str("type", string(env.Type)).Msg("unknown envelope type")
	}
}

func (c *Coordinator) onOffer(from domain.ParticipantID, offer webrtc.SessionDescription) {
	if link, ok := c.registry.Get(from); ok {
		switch {
		case link.isDuplicateOffer(offer):
			link.logger.Debug().Msg("duplicate offer ignored")
			return
		case link.phase == PhaseIdle:
			if link.pendingOffer != nil {
				link.logger.Debug().Msg("parked offer replaced")
				link.discardOffer(*link.pendingOffer)
			}
		case c.self < from && link.phase == PhaseOfferSent:
			link.logger.Debug().Msg("glare: keeping own offer")
			link.discardOffer(offer)
			return
		case c.self < from:
			link.logger.Info().Str("phase", link.phase.String()).Msg("offer on established link, restarting as caller")
			c.teardown(from, "renegotiation collision")
			c.startCaller(from)
			if fresh, ok := c.registry.Get(from); ok {
				fresh.discardOffer(offer)
			}
			return
		default:
			link.logger.Info().Str("phase", link.phase.String()).Msg("glare: yielding to remote offer")
			c.teardown(from, "glare lost")
		}
	}

	link, _, err := c.registry.GetOrCreate(from, func() (*PeerLink, error) {
		return c.buildLink(from, RoleCallee)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("peer", string(from)).Msg("create connection")
		return
	}
	if !c.media.settled() {
		link.pendingOffer = &offer
		link.logger.Debug().Msg("offer parked until capture settles")
		return
	}
	c.answer(link, offer)
}

func (c *Coordinator) onAnswer(from domain.ParticipantID, answer webrtc.SessionDescription) {
	link, ok := c.registry.Get(from)
	if !ok {
		c.logger.Debug().Str("peer", string(from)).Msg("answer for unknown peer ignored")
		return
	}
	if err := link.applyAnswer(answer); err != nil {
		if errors.Is(err, errStaleAnswer) {
			link.logger.Debug().Err(err).Msg("answer ignored")
			return
		}
		link.logger.Warn().Err(err).Msg("apply answer")
		c.teardown(from, "answer failed")
		return
	}
	link.logger.Debug().Str("phase", link.phase.String()).Msg("answer applied")
}

func (c *Coordinator) onCandidate(from domain.ParticipantID, ci webrtc.ICECandidateInit) {
	link, ok := c.registry.Get(from)
	if !ok {
		c.logger.Debug().Str("peer", string(from)).Msg("candidate for unknown peer dropped")
		return
	}
	if err := link.addCandidate(ci); err != nil {
		if errors.Is(err, errStaleCandidate) {
			link.logger.Debug().Str("candidate", ci.Candidate).Msg("candidate from a replaced negotiation dropped")
			return
		}
		link.logger.Warn().Err(err).Msg("add candidate")
	}
}

func (c *Coordinator) localCandidate(link *PeerLink, ci webrtc.ICECandidateInit) {
	if !c.isCurrent(link) {
		return
	}
	if ci.UsernameFragment == nil && link.localUfrag != "" {
		ufrag := link.localUfrag
		ci.UsernameFragment = &ufrag
	}
	if err := c.send(core.EnvelopeCandidate, link.peer, ci); err != nil {
		link.logger.Warn().Err(err).Msg("send candidate")
		c.teardown(link.peer, "signaling failed")
	}
}

func (c *Coordinator) remoteTrack(link *PeerLink, t RemoteTrack) {
	if !c.isCurrent(link) {
		return
	}
	link.remote = t
	link.logger.Info().Str("track_id", t.ID()).Msg("remote track")
	if link.phase == PhaseConnected {
		c.render(link)
	}
}

func (c *Coordinator) render(link *PeerLink) {
	if err := c.sink.Attach(link.peer, link.remote); err != nil {
		link.logger.Error().Err(err).Msg("attach renderer")
	}
}

func (c *Coordinator) connectionState(link *PeerLink, s webrtc.PeerConnectionState) {
	if !c.isCurrent(link) {
		return
	}
	link.logger.Info().Str("state", s.String()).Msg("connection state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if link.markConnected() {
			delete(c.retries, link.peer)
			if link.remote != nil {
				c.render(link)
			}
		}
	case webrtc.PeerConnectionStateFailed:
		c.failed(link.peer)
	case webrtc.PeerConnectionStateClosed:
		c.teardown(link.peer, "connection closed")
	}
}

// failed tears the link down and restarts it as caller while the retry
// budget lasts.
func (c *Coordinator) failed(peer domain.ParticipantID) {
	c.teardown(peer, "connection failed")
	used := c.retries[peer]
	if used >= c.maxRetries {
		delete(c.retries, peer)
		c.logger.Warn().Str("peer", string(peer)).Int("retries", used).Msg("peer unreachable")
		c.notices.emit(Notice{Kind: NoticePeerUnreachable, Peer: peer})
		return
	}
	c.retries[peer] = used + 1
	c.logger.Info().Str("peer", string(peer)).Int("attempt", used+1).Msg("renegotiating after failure")
	c.startCaller(peer)
}

func (c *Coordinator) teardown(peer domain.ParticipantID, reason string) {
	if c.registry == nil {
		return
	}
	if _, ok := c.registry.Remove(peer); !ok {
		return
	}
	c.sink.Detach(peer)
	c.logger.Info().Str("peer", string(peer)).Str("reason", reason).Msg("link closed")
}
