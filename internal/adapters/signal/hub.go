package signal

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/muc/internal/app/orch"
	"github.com/dkeye/muc/internal/core"
)

// Hub routes outbound stanzas to live connections by full JID.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*WsSignalConn
}

var _ orch.Deliverer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*WsSignalConn)}
}

func (h *Hub) register(c *WsSignalConn) (old *WsSignalConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	old = h.conns[c.full]
	h.conns[c.full] = c
	return old
}

// unregister removes c unless it was already replaced.
func (h *Hub) unregister(c *WsSignalConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.full] != c {
		return false
	}
	delete(h.conns, c.full)
	return true
}

func (h *Hub) get(full string) (*WsSignalConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[full]
	return c, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Deliver encodes st and queues it. Stanzas for unknown recipients are
// discarded.
func (h *Hub) Deliver(st core.Stanza) int {
	c, ok := h.get(st.Recipient())
	if !ok {
		log.Debug().Str("module", "signal").Str("jid", st.Recipient()).Msg("no connection for recipient")
		return 0
	}
	data, err := encodeStanza(st)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode stanza")
		return 0
	}
	if err := c.TrySend(data); err == ErrBackpressure {
		return c.drop()
	}
	return 0
}

func (h *Hub) Drop(full string) {
	c, ok := h.get(full)
	if !ok {
		return
	}
	h.unregister(c)
	c.Close()
	log.Info().Str("module", "signal").Str("jid", full).Msg("connection dropped")
}
