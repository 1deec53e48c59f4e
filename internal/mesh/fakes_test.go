package mesh

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	peer domain.ParticipantID
	id   int

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	localAudio webrtc.TrackLocal
	recvOnly   bool
	closed     bool
	tracks     []*fakeTrack
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(RemoteTrack)
	onState    func(webrtc.PeerConnectionState)
}

// ufrag is unique per connection, as a real ICE agent's would be.
func (f *fakeConn) ufrag() string { return fmt.Sprintf("%s%d", f.peer, f.id) }

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP(f.ufrag())}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP(f.ufrag())}, nil
}

func (f *fakeConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = &sd
	return nil
}

func (f *fakeConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("connection closed")
	}
	f.remote = &sd
	return nil
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return fmt.Errorf("remote description not set")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConn) AddLocalAudio(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localAudio = track
	return nil
}

func (f *fakeConn) AddReceiveOnlyAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvOnly = true
	return nil
}

func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakeConn) OnTrack(fn func(RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.onICE, f.onTrack, f.onState = nil, nil, nil
	for _, t := range f.tracks {
		t.end()
	}
	return nil
}

func (f *fakeConn) setState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeConn) gather(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (f *fakeConn) emitTrack(id string) *fakeTrack {
	t := newFakeTrack(id)
	f.mu.Lock()
	f.tracks = append(f.tracks, t)
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(t)
	}
	return t
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

func (f *fakeConn) receiveOnly() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recvOnly
}

func (f *fakeConn) sendsAudio() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localAudio != nil
}

type fakeFactory struct {
	mu    sync.Mutex
	conns map[domain.ParticipantID][]*fakeConn
	err   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[domain.ParticipantID][]*fakeConn)}
}

func (f *fakeFactory) NewConnection(peer domain.ParticipantID) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{peer: peer, id: len(f.conns[peer]) + 1}
	f.conns[peer] = append(f.conns[peer], c)
	return c, nil
}

func (f *fakeFactory) all(peer domain.ParticipantID) []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns[peer]...)
}

func (f *fakeFactory) last(peer domain.ParticipantID) *fakeConn {
	conns := f.all(peer)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type fakeTrack struct {
	id      string
	packets chan *rtp.Packet
	once    sync.Once
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, packets: make(chan *rtp.Packet, 16)}
}

func (t *fakeTrack) ID() string       { return t.id }
func (t *fakeTrack) StreamID() string { return "stream-" + t.id }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func (t *fakeTrack) push(seq uint16) {
	t.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: []byte{0xf8, 0xff, 0xfe}}
}

func (t *fakeTrack) end() { t.once.Do(func() { close(t.packets) }) }

type fakeCapture struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	closed  atomic.Bool
}

func newFakeCapture(t *testing.T) *fakeCapture {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	require.NoError(t, err)
	c := &fakeCapture{track: track}
	c.enabled.Store(true)
	return c
}

func (c *fakeCapture) Track() webrtc.TrackLocal { return c.track }
func (c *fakeCapture) SetEnabled(enabled bool)  { c.enabled.Store(enabled) }
func (c *fakeCapture) Close() error             { c.closed.Store(true); return nil }

// fakeMic hands out one capture, optionally after gate is closed.
type fakeMic struct {
	capture *fakeCapture
	err     error
	gate    chan struct{}
	opened  atomic.Int32
}

func (m *fakeMic) Open(ctx context.Context) (Capture, error) {
	m.opened.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.capture, nil
}

type fakeRenderer struct {
	peer    domain.ParticipantID
	written atomic.Int32
	closed  atomic.Bool
}

func (r *fakeRenderer) WriteRTP(*rtp.Packet) error {
	if r.closed.Load() {
		return io.ErrClosedPipe
	}
	r.written.Add(1)
	return nil
}

func (r *fakeRenderer) Close() error { r.closed.Store(true); return nil }

type fakeRenderers struct {
	mu        sync.Mutex
	renderers []*fakeRenderer
}

func (f *fakeRenderers) NewRenderer(peer domain.ParticipantID) (Renderer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRenderer{peer: peer}
	f.renderers = append(f.renderers, r)
	return r, nil
}

func (f *fakeRenderers) created() []*fakeRenderer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeRenderer(nil), f.renderers...)
}

// recorder is a Signaler that keeps every envelope it was asked to send.
type recorder struct {
	mu   sync.Mutex
	sent []core.Envelope
	err  error
}

func (r *recorder) Send(env core.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, env)
	return nil
}

func (r *recorder) ofType(t core.EnvelopeType) []core.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Envelope
	for _, env := range r.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// hub routes envelopes between coordinators. Nothing is delivered until
// flush is called, so tests control interleaving.
type hub struct {
	mu    sync.Mutex
	nodes map[domain.ParticipantID]*Coordinator
	queue []core.Envelope
	sent  []core.Envelope
}

func newHub() *hub {
	return &hub{nodes: make(map[domain.ParticipantID]*Coordinator)}
}

type hubSignaler struct {
	h    *hub
	self domain.ParticipantID
}

func (s hubSignaler) Send(env core.Envelope) error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	env.From = s.self
	s.h.queue = append(s.h.queue, env)
	s.h.sent = append(s.h.sent, env)
	return nil
}

func (h *hub) flush(t *testing.T) {
	t.Helper()
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		env := h.queue[0]
		h.queue = h.queue[1:]
		node := h.nodes[env.To]
		h.mu.Unlock()
		require.NotNil(t, node, "no node %s", env.To)
		require.NoError(t, node.Deliver(env))
	}
}

func (h *hub) count(from domain.ParticipantID, typ core.EnvelopeType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, env := range h.sent {
		if env.From == from && env.Type == typ {
			n++
		}
	}
	return n
}

type node struct {
	c       *Coordinator
	conns   *fakeFactory
	mic     *fakeMic
	capture *fakeCapture
	renders *fakeRenderers
}

func startCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func newNode(t *testing.T, self domain.ParticipantID, sig Signaler) *node {
	t.Helper()
	n := &node{
		conns:   newFakeFactory(),
		capture: newFakeCapture(t),
		renders: &fakeRenderers{},
	}
	n.mic = &fakeMic{capture: n.capture}
	n.c = startCoordinator(t, Options{
		Self:        self,
		Signaler:    sig,
		Connections: n.conns,
		Microphone:  n.mic,
		Renderers:   n.renders,
	})
	return n
}

func (h *hub) add(t *testing.T, self domain.ParticipantID) *node {
	t.Helper()
	n := newNode(t, self, hubSignaler{h: h, self: self})
	h.mu.Lock()
	h.nodes[self] = n.c
	h.mu.Unlock()
	return n
}

func waitSettled(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Eventually(t, c.media.settled, time.Second, 5*time.Millisecond)
}

func peerInfo(c *Coordinator, peer domain.ParticipantID) (PeerInfo, bool) {
	for _, p := range c.Peers() {
		if p.Peer == peer {
			return p, true
		}
	}
	return PeerInfo{}, false
}

func waitPhase(t *testing.T, c *Coordinator, peer domain.ParticipantID, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, ok := peerInfo(c, peer)
		return ok && p.Phase == phase.String()
	}, time.Second, 5*time.Millisecond, "peer %s never reached %s", peer, phase)
}

func candidate(n int) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000%d typ host", n, n, n),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

// fakeSDP is the smallest description that carries an ICE username fragment.
func fakeSDP(ufrag string) string {
	return "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\na=ice-ufrag:" + ufrag + "\r\n"
}

func withUfrag(c webrtc.ICECandidateInit, ufrag string) webrtc.ICECandidateInit {
	c.UsernameFragment = &ufrag
	return c
}

// candidateLines returns the candidate strings a connection applied.
func candidateLines(f *fakeConn) []string {
	var out []string
	for _, c := range f.appliedCandidates() {
		out = append(out, c.Candidate)
	}
	return out
}

func envelope(t *testing.T, typ core.EnvelopeType, from, to domain.ParticipantID, payload any) core.Envelope {
	t.Helper()
	env, err := core.NewEnvelope(typ, from, to, payload)
	require.NoError(t, err)
	return env
}
