package core

import (
	"github.com/dkeye/voicemesh/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.ParticipantID `json:"id"`
	Username string               `json:"username"`
	Muted    bool                 `json:"muted"`
}

// RoomService is the core-facing API of a voice channel.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Channel() domain.ChannelName
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Has(sid SessionID) bool

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	// SendTo delivers one frame to a single member of the channel.
	SendTo(to SessionID, data Frame) error
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.ChannelName `json:"name"`
	MemberCount int                `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(name domain.ChannelName) RoomService
	Get(name domain.ChannelName) (RoomService, bool)
	List() []RoomInfo
	StopRoom(name domain.ChannelName)
}
