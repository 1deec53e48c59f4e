package signal

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p core.JoinMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload", "")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid.Participant()) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited", "")
		return
	}

	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateUsername(sid, p.Name); err != nil {
			ctl.sendError(conn, "invalid_name", "")
			return
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename on join")
	}

	channel := domain.NormalizeChannel(p.Room)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(channel)).Msg("join")
	room, ok := ctl.Orch.Join(sid, channel)
	if !ok {
		ctl.sendError(conn, "no_session", "")
		return
	}

	ctl.sendJSON(conn, core.RoomStateMsg{
		Type:    core.MsgRoomState,
		Room:    room.Channel(),
		Members: room.MembersSnapshot(),
		Count:   room.MemberCount(),
	})
	ctl.Orch.AnnounceJoined(sid)
}

// handleLeave leaves the current channel; the socket stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
	ctl.sendJSON(conn, map[string]any{
		"type": core.MsgLeft,
	})
}
