package core

import "github.com/dkeye/voicemesh/internal/domain"

type SessionID string

// Participant maps a session to the participant id peers address it by.
func (sid SessionID) Participant() domain.ParticipantID { return domain.ParticipantID(sid) }

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	UpdateSignal(SignalConnection) MemberSession
}
