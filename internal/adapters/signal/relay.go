package signal

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer/answer/candidate envelopes to their addressee.
// The server never inspects the payload.
func (ctl *SignalWSController) handleRelay(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad envelope")
		ctl.sendError(conn, "bad_payload", "")
		return
	}
	if err := ctl.Orch.Relay(sid, env); err != nil {
		ctl.sendError(conn, core.ErrUndeliverable, string(env.To))
	}
}
