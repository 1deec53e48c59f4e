package core

import "github.com/dkeye/voicemesh/internal/domain"

// Message types spoken on the signaling websocket. Negotiation envelopes
// reuse the EnvelopeType values.
const (
	MsgJoin          = "join"
	MsgLeave         = "leave"
	MsgPing          = "ping"
	MsgPong          = "pong"
	MsgRename        = "rename"
	MsgWhoAmI        = "whoami"
	MsgMute          = "mute"
	MsgRoomState     = "room_state"
	MsgLeft          = "left"
	MsgMemberJoined  = "member_joined"
	MsgMemberLeft    = "member_left"
	MsgMemberUpdated = "member_updated"
	MsgError         = "error"
)

// ErrUndeliverable is the error code returned to a sender whose envelope
// could not be relayed.
const ErrUndeliverable = "undeliverable"

type JoinMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

type MuteMsg struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

type RoomStateMsg struct {
	Type    string             `json:"type"`
	Room    domain.ChannelName `json:"room"`
	Members []MemberDTO        `json:"members"`
	Count   int                `json:"count"`
}

type MemberEventMsg struct {
	Type string    `json:"type"`
	User MemberDTO `json:"user"`
}

type WhoAmIMsg struct {
	Type     string               `json:"type"`
	ID       domain.ParticipantID `json:"id"`
	Username string               `json:"username"`
	Room     domain.ChannelName   `json:"room,omitempty"`
}

type ErrorMsg struct {
	Type  string               `json:"type"`
	Error string               `json:"error"`
	To    domain.ParticipantID `json:"to,omitempty"`
}
