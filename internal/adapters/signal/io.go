package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	period := ctl.PingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("jid", c.full).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("jid", c.full).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("jid", c.full).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, full jid.JID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("jid", full.String()).Msg("readPump closing")
		cancel()
		if ctl.Hub.unregister(c) {
			ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), full.String())
		}
		c.Close()
	}()

	ctl.keepAlive(full, c)

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("jid", full.String()).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("jid", full.String()).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, full, c, data)
		}
	}
}

// keepAlive applies the read limit and extends the read deadline on
// every pong.
func (ctl *SignalWSController) keepAlive(full jid.JID, c *WsSignalConn) {
	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	if ctl.PingPeriod <= 0 {
		return
	}
	pongWait := ctl.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		ctl.touch(full)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// touch marks full as alive so the ghost sweeper keeps its seats. Any
// inbound frame or pong counts.
func (ctl *SignalWSController) touch(full jid.JID) {
	if ctl.Orch.Ghosts != nil {
		ctl.Orch.Ghosts.Touch(full.String())
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, full jid.JID, c *WsSignalConn, data []byte) {
	ctl.touch(full)
	if !gjson.ValidBytes(data) {
		log.Warn().Str("module", "signal").Str("jid", full.String()).Msg("bad json")
		ctl.sendError(c, "", fmt.Errorf("%w: malformed json", domain.ErrBadRequest))
		return
	}
	env := gjson.GetManyBytes(data, "type", "id")
	typ, id := env[0].String(), env[1].String()

	if typ != "ping" && ctl.Limiter != nil && !ctl.Limiter.Allow(full.String()) {
		log.Warn().Str("module", "signal").Str("jid", full.String()).Str("type", typ).Msg("rate limited")
		ctl.sendError(c, id, fmt.Errorf("%w: rate limited", domain.ErrServiceUnavailable))
		return
	}

	switch typ {
	case "presence":
		ctl.handlePresence(ctx, full, c, data)
	case "message":
		ctl.handleMessage(ctx, full, c, data)
	case "iq":
		ctl.handleIQ(ctx, full, c, id, data)
	case "ping":
		ctl.handlePing(c)
	case "whoami":
		ctl.handleWhoAmI(full, c)
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown signal")
		ctl.sendError(c, id, fmt.Errorf("%w: unknown type %q", domain.ErrBadRequest, typ))
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func parseTarget(data []byte, path string) (jid.JID, error) {
	raw := gjson.GetBytes(data, path).String()
	j, err := jid.Parse(raw)
	if err != nil {
		return jid.JID{}, fmt.Errorf("%w: %s %q: %v", domain.ErrBadRequest, path, raw, err)
	}
	return j, nil
}

func presenceType(s string) stanza.PresenceType {
	if s == string(stanza.UnavailablePresence) {
		return stanza.UnavailablePresence
	}
	return stanza.AvailablePresence
}
