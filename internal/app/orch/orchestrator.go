package orch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotInChannel = errors.New("sender is not in a channel")

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

// Relay forwards one negotiation envelope from sid to a member of the same
// channel. The From field is always overwritten with the sender's identity.
func (o *Orchestrator) Relay(sid core.SessionID, env core.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	channel, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return ErrNotInChannel
	}
	room, ok := o.Rooms.Get(channel)
	if !ok {
		return ErrNotInChannel
	}
	env.From = sid.Participant()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	to := core.SessionID(env.To)
	err = room.SendTo(to, data)
	if errors.Is(err, core.ErrBackpressure) {
		if sess, ok := o.Registry.GetSession(to); ok {
			o.applyPolicy(room, sess)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("from", string(sid)).Str("to", string(env.To)).Str("type", string(env.Type)).Msg("relay failed")
		return err
	}
	return nil
}

// broadcast fans v out to everyone in channel except sid.
func (o *Orchestrator) broadcast(channel domain.ChannelName, sid core.SessionID, v any) {
	room, ok := o.Rooms.Get(channel)
	if !ok {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("broadcast marshal")
		return
	}
	res := room.Broadcast(sid, data)
	for _, slow := range res.Dropped {
		o.applyPolicy(room, slow)
	}
}

func (o *Orchestrator) applyPolicy(room core.RoomService, slow core.MemberSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, slow) {
	case app.KickMember:
		for _, snap := range o.Registry.MembersOf(room.Channel()) {
			if snap.Session == slow {
				log.Warn().Str("module", "orch").Str("sid", string(snap.SID)).Msg("kicking slow member")
				o.Registry.Cancel(snap.SID)
			}
		}
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

func (o *Orchestrator) memberDTO(sid core.SessionID) core.MemberDTO {
	user := o.Registry.GetOrCreateUser(sid)
	dto := core.MemberDTO{ID: user.ID, Username: user.Username}
	if sess, ok := o.Registry.GetSession(sid); ok {
		dto.Muted = sess.Meta().Muted
	}
	return dto
}
