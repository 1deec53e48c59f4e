package orch

import (
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves sid into channel, leaving any previous one first. The caller
// answers the joiner with the returned room's state and then calls
// AnnounceJoined, so the joiner always learns the channel before any peer
// can address it.
func (o *Orchestrator) Join(sid core.SessionID, channel domain.ChannelName) (core.RoomService, bool) {
	if from, _, ok := o.Registry.ChannelOf(sid); ok {
		o.Leave(sid)
		log.Info().Str("sid", string(sid)).Str("from_room", string(from)).Msg("left previous room")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, false
	}
	room := o.Rooms.GetOrCreate(channel)
	room.AddMember(sid, session)
	o.Registry.UpdateChannel(sid, channel)
	log.Info().Str("sid", string(sid)).Str("room", string(channel)).Msg("added to room")
	return room, true
}

// AnnounceJoined tells the rest of sid's channel that sid arrived.
func (o *Orchestrator) AnnounceJoined(sid core.SessionID) {
	channel, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	o.broadcast(channel, sid, core.MemberEventMsg{Type: core.MsgMemberJoined, User: o.memberDTO(sid)})
}

// Leave removes sid from its channel and announces the departure.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	channel, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return false
	}
	dto := o.memberDTO(sid)
	o.cleanupMembership(sid)
	o.broadcast(channel, sid, core.MemberEventMsg{Type: core.MsgMemberLeft, User: dto})
	if room, ok := o.Rooms.Get(channel); ok && room.MemberCount() == 0 {
		o.Rooms.StopRoom(channel)
	}
	return true
}

// SetMuted records the member's mute flag and tells the channel.
func (o *Orchestrator) SetMuted(sid core.SessionID, muted bool) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	sess.Meta().Muted = muted
	if channel, _, ok := o.Registry.ChannelOf(sid); ok {
		o.broadcast(channel, sid, core.MemberEventMsg{Type: core.MsgMemberUpdated, User: o.memberDTO(sid)})
	}
}

// Rename updates the display name and tells the channel.
func (o *Orchestrator) Rename(sid core.SessionID, name string) error {
	if err := o.Registry.UpdateUsername(sid, name); err != nil {
		return err
	}
	if channel, _, ok := o.Registry.ChannelOf(sid); ok {
		o.broadcast(channel, sid, core.MemberEventMsg{Type: core.MsgMemberUpdated, User: o.memberDTO(sid)})
	}
	return nil
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Cancel(sid)
}

// OnDisconnect runs when sess's socket is gone. A newer socket bound under
// the same sid is left untouched.
func (o *Orchestrator) OnDisconnect(sid core.SessionID, sess core.MemberSession) {
	if cur, ok := o.Registry.GetSession(sid); !ok || cur != sess {
		return
	}
	o.Leave(sid)
	o.Registry.Unbind(sid, sess)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	channel, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.Get(channel); ok {
		room.RemoveMember(sid)
	}
	o.Registry.RemoveChannel(sid)
}

func (o *Orchestrator) EvictRoom(name domain.ChannelName) {
	for _, snap := range o.Registry.MembersOf(name) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(name)
}
