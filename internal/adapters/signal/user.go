package signal

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "bad_payload", "")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	if err := ctl.Orch.Rename(sid, p.Name); err != nil {
		ctl.sendError(conn, "invalid_name", "")
		return
	}
	ctl.handleWhoAmI(sid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	resp := core.WhoAmIMsg{
		Type:     core.MsgWhoAmI,
		ID:       user.ID,
		Username: user.Username,
	}
	if channel, _, ok := ctl.Orch.Registry.ChannelOf(sid); ok {
		resp.Room = channel
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleMute(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p core.MuteMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad mute payload")
		ctl.sendError(conn, "bad_payload", "")
		return
	}
	ctl.Orch.SetMuted(sid, p.Muted)
}
