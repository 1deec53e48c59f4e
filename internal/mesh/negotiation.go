package mesh

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/pion/webrtc/v4"
)

var (
	errWrongPhase     = errors.New("wrong negotiation phase")
	errStaleAnswer    = errors.New("stale answer")
	errStaleCandidate = errors.New("stale candidate")
)

// iceUfrag returns the ICE username fragment of a description, or "" when it
// carries none.
func iceUfrag(sd webrtc.SessionDescription) string {
	parsed, err := sd.Unmarshal()
	if err != nil {
		return ""
	}
	if v, ok := parsed.Attribute("ice-ufrag"); ok {
		return v
	}
	for _, m := range parsed.MediaDescriptions {
		if v, ok := m.Attribute("ice-ufrag"); ok {
			return v
		}
	}
	return ""
}

func candidateUfrag(c webrtc.ICECandidateInit) string {
	if c.UsernameFragment == nil {
		return ""
	}
	return *c.UsernameFragment
}

// attachMedia adds the shared capture track, or a receive-only audio section
// when there is no capture and this side writes the offer.
func (l *PeerLink) attachMedia(track webrtc.TrackLocal) error {
	if track != nil {
		return l.conn.AddLocalAudio(track)
	}
	if l.role == RoleCaller {
		return l.conn.AddReceiveOnlyAudio()
	}
	return nil
}

// startOffer moves a caller link from idle to offer-sent and returns the
// offer to send.
func (l *PeerLink) startOffer(track webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	if l.phase != PhaseIdle || l.role != RoleCaller {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: offer as %s in %s", errWrongPhase, l.role, l.phase)
	}
	if err := l.attachMedia(track); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("attach media: %w", err)
	}
	offer, err := l.conn.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	l.localUfrag = iceUfrag(offer)
	l.phase = PhaseOfferSent
	return offer, nil
}

// acceptOffer applies a remote offer on an idle link, which makes it a
// callee in offer-received, and returns the answer to send.
func (l *PeerLink) acceptOffer(offer webrtc.SessionDescription, track webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	if l.phase != PhaseIdle {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: accept offer in %s", errWrongPhase, l.phase)
	}
	l.role = RoleCallee
	l.pendingOffer = nil
	if err := l.attachMedia(track); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("attach media: %w", err)
	}
	if err := l.conn.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	l.remoteOffer = &offer
	l.remoteUfrag = iceUfrag(offer)
	l.phase = PhaseOfferReceived
	l.remoteApplied()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	l.localUfrag = iceUfrag(answer)
	return answer, nil
}

// answerSent completes the callee side of the exchange.
func (l *PeerLink) answerSent() {
	if l.phase == PhaseOfferReceived {
		l.phase = PhaseAnswerExchanged
	}
}

// applyAnswer completes the caller side. Answers outside offer-sent are stale.
func (l *PeerLink) applyAnswer(answer webrtc.SessionDescription) error {
	if l.phase != PhaseOfferSent {
		return fmt.Errorf("%w: in %s", errStaleAnswer, l.phase)
	}
	if err := l.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.remoteUfrag = iceUfrag(answer)
	l.phase = PhaseAnswerExchanged
	l.remoteApplied()
	return nil
}

// isDuplicateOffer reports whether offer is the one already applied or parked.
func (l *PeerLink) isDuplicateOffer(offer webrtc.SessionDescription) bool {
	if l.remoteOffer != nil && l.remoteOffer.SDP == offer.SDP {
		return true
	}
	return l.pendingOffer != nil && l.pendingOffer.SDP == offer.SDP
}

func candidateKey(c webrtc.ICECandidateInit) string {
	key := c.Candidate + "|"
	if c.SDPMid != nil {
		key += *c.SDPMid
	}
	key += "|"
	if c.SDPMLineIndex != nil {
		key += strconv.Itoa(int(*c.SDPMLineIndex))
	}
	return key + "|" + candidateUfrag(c)
}

// belongsToRemote reports whether a candidate with ufrag can belong to the
// applied remote description. Candidates without a fragment always can.
func (l *PeerLink) belongsToRemote(ufrag string) bool {
	return ufrag == "" || l.remoteUfrag == "" || ufrag == l.remoteUfrag
}

// discardOffer records an offer that will never be applied on this link and
// drops the candidates buffered for it.
func (l *PeerLink) discardOffer(offer webrtc.SessionDescription) {
	ufrag := iceUfrag(offer)
	if ufrag == "" || ufrag == l.remoteUfrag {
		return
	}
	l.discarded[ufrag] = struct{}{}
	l.candidates = slices.DeleteFunc(l.candidates, func(c webrtc.ICECandidateInit) bool {
		return candidateUfrag(c) == ufrag
	})
}

// addCandidate applies c, or buffers it while no remote description is set.
// A candidate seen before is ignored; one from a discarded or superseded
// negotiation is rejected with errStaleCandidate.
func (l *PeerLink) addCandidate(c webrtc.ICECandidateInit) error {
	ufrag := candidateUfrag(c)
	if _, gone := l.discarded[ufrag]; gone && ufrag != "" {
		return errStaleCandidate
	}
	key := candidateKey(c)
	if _, dup := l.seen[key]; dup {
		return nil
	}
	if !l.remoteSet {
		l.seen[key] = struct{}{}
		l.candidates = append(l.candidates, c)
		return nil
	}
	if !l.belongsToRemote(ufrag) {
		return errStaleCandidate
	}
	l.seen[key] = struct{}{}
	return l.conn.AddICECandidate(c)
}

// remoteApplied flushes buffered candidates of the applied remote description
// in arrival order and drops the rest.
func (l *PeerLink) remoteApplied() {
	l.remoteSet = true
	pending := l.candidates
	l.candidates = nil
	applied := 0
	for _, c := range pending {
		if !l.belongsToRemote(candidateUfrag(c)) {
			l.logger.Debug().Str("candidate", c.Candidate).Msg("buffered candidate from another negotiation dropped")
			continue
		}
		applied++
		if err := l.conn.AddICECandidate(c); err != nil {
			l.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("buffered candidate rejected")
		}
	}
	if applied > 0 {
		l.logger.Debug().Int("count", applied).Msg("flushed buffered candidates")
	}
}

// markConnected records that a media path exists. It reports whether the
// phase changed.
func (l *PeerLink) markConnected() bool {
	if l.phase >= PhaseConnected {
		return false
	}
	l.phase = PhaseConnected
	return true
}

func (l *PeerLink) close() {
	if l.phase == PhaseClosed {
		return
	}
	l.phase = PhaseClosed
	l.candidates = nil
	l.pendingOffer = nil
	l.remote = nil
	if err := l.conn.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("close connection")
	}
}
