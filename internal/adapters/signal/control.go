package signal

import "github.com/rs/zerolog/log"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, id string, err error) {
	log.Debug().Err(err).Str("module", "signal").Str("jid", conn.full).Str("id", id).Msg("stanza error")
	ctl.sendJSON(conn, errorEnvelope(id, err))
}
