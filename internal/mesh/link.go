package mesh

import (
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Role is the side a participant plays in one negotiation.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "callee"
}

// Phase is the negotiation progress of a PeerLink. Phases only move forward.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOfferSent
	PhaseOfferReceived
	PhaseAnswerExchanged
	PhaseConnected
	PhaseClosed
)

var phaseNames = [...]string{"idle", "offer-sent", "offer-received", "answer-exchanged", "connected", "closed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// PeerLink is the connection to one remote participant plus its negotiation
// state. It is owned by the coordinator's event loop and never shared.
type PeerLink struct {
	peer    domain.ParticipantID
	role    Role
	phase   Phase
	conn    PeerConnection
	created time.Time
	logger  zerolog.Logger

	// pendingOffer holds an offer that arrived before local media settled.
	pendingOffer *webrtc.SessionDescription
	// remoteOffer is the offer applied on a callee link, for duplicate detection.
	remoteOffer *webrtc.SessionDescription
	remoteSet   bool
	candidates  []webrtc.ICECandidateInit
	seen        map[string]struct{}

	// ICE username fragments tie candidates to one negotiation.
	localUfrag  string
	remoteUfrag string
	discarded   map[string]struct{}

	remote RemoteTrack
}

func newPeerLink(peer domain.ParticipantID, role Role, conn PeerConnection, logger zerolog.Logger) *PeerLink {
	return &PeerLink{
		peer:      peer,
		role:      role,
		phase:     PhaseIdle,
		conn:      conn,
		created:   time.Now(),
		logger:    logger.With().Str("peer", string(peer)).Logger(),
		seen:      make(map[string]struct{}),
		discarded: make(map[string]struct{}),
	}
}

func (l *PeerLink) Peer() domain.ParticipantID { return l.peer }
func (l *PeerLink) Role() Role                 { return l.role }
func (l *PeerLink) Phase() Phase               { return l.phase }
func (l *PeerLink) Closed() bool               { return l.phase == PhaseClosed }

// PeerInfo is a read-only snapshot of a PeerLink.
type PeerInfo struct {
	Peer     domain.ParticipantID `json:"peer"`
	Role     string               `json:"role"`
	Phase    string               `json:"phase"`
	Buffered int                  `json:"buffered_candidates"`
	HasAudio bool                 `json:"has_audio"`
	Since    time.Time            `json:"since"`
}

func (l *PeerLink) info() PeerInfo {
	return PeerInfo{
		Peer:     l.peer,
		Role:     l.role.String(),
		Phase:    l.phase.String(),
		Buffered: len(l.candidates),
		HasAudio: l.remote != nil,
		Since:    l.created,
	}
}
