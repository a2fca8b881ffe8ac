package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/app/orch"
)

var ErrBackpressure = errors.New("backpressure")

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

type SignalWSController struct {
	Orch       *orch.Orchestrator
	Hub        *Hub
	Limiter    *RateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, hub *Hub, limiter *RateLimiter, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		Hub:        hub,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

// WsSignalConn is one client connection bound to a full JID.
type WsSignalConn struct {
	full string
	conn WSConn
	send chan []byte

	mu      sync.RWMutex
	closed  bool
	dropped int
}

func newConn(full string, ws WSConn, buffer int) *WsSignalConn {
	return &WsSignalConn{full: full, conn: ws, send: make(chan []byte, buffer)}
}

func (c *WsSignalConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// drop counts a stanza lost to backpressure.
func (c *WsSignalConn) drop() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
	return c.dropped
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves full until the socket
// closes. A second connection for the same full JID replaces the first.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, full jid.JID) {
	log.Info().Str("module", "signal").Str("jid", full.String()).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := newConn(full.String(), ws, 64)
	if old := ctl.Hub.register(conn); old != nil {
		old.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, full, conn)
}
