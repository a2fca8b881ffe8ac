package signal

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/app/orch"
)

// handlePresence covers join, status update and leave:
//
//	{"type":"presence","to":"room@service/nick","presence_type":"unavailable"}
func (ctl *SignalWSController) handlePresence(ctx context.Context, full jid.JID, c *WsSignalConn, data []byte) {
	to, err := parseTarget(data, "to")
	if err != nil {
		ctl.sendError(c, "", err)
		return
	}
	f := gjson.GetManyBytes(data, "presence_type", "show", "status", "password")
	p := orch.Presence{
		From:     full,
		To:       to,
		Type:     presenceType(f[0].String()),
		Show:     f[1].String(),
		Status:   f[2].String(),
		Password: f[3].String(),
	}
	log.Debug().Str("module", "signal").Str("jid", full.String()).Str("to", to.String()).Str("presence", string(p.Type)).Msg("presence")
	if err := ctl.Orch.HandlePresence(ctx, p); err != nil {
		ctl.sendError(c, "", err)
	}
}

// handleMessage covers groupchat, subject changes and private messages:
//
//	{"type":"message","to":"room@service","message_type":"groupchat","body":"hi"}
func (ctl *SignalWSController) handleMessage(ctx context.Context, full jid.JID, c *WsSignalConn, data []byte) {
	to, err := parseTarget(data, "to")
	if err != nil {
		ctl.sendError(c, "", err)
		return
	}
	f := gjson.GetManyBytes(data, "message_type", "body", "subject")
	m := orch.Message{
		From: full,
		To:   to,
		Type: stanza.MessageType(f[0].String()),
		Body: f[1].String(),
	}
	if m.Type == "" {
		m.Type = stanza.GroupChatMessage
	}
	if f[2].Exists() {
		subject := f[2].String()
		m.Subject = &subject
	}
	if err := ctl.Orch.HandleMessage(ctx, m); err != nil {
		ctl.sendError(c, "", err)
	}
}
