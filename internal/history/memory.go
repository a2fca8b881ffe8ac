// Package history keeps a bounded in-memory log of room traffic.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
)

type Kind int

const (
	KindMessage Kind = iota
	KindSubject
	KindJoin
	KindLeave
)

func (k Kind) String() string {
	switch k {
	case KindSubject:
		return "subject"
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	default:
		return "message"
	}
}

// Event is one logged room event.
type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
	Nick string    `json:"nick"`
	Text string    `json:"text,omitempty"`
}

// Memory keeps at most size events per room; older events are overwritten.
type Memory struct {
	size int

	mu    sync.RWMutex
	rooms map[string]*ring
}

var _ core.HistoryProvider = (*Memory)(nil)

func NewMemory(size int) *Memory {
	if size < 1 {
		size = 1
	}
	return &Memory{size: size, rooms: make(map[string]*ring)}
}

func (m *Memory) AddJoinEvent(_ context.Context, room jid.JID, at time.Time, nick string) {
	m.add(room, Event{Kind: KindJoin, At: at, Nick: nick})
}

func (m *Memory) AddLeaveEvent(_ context.Context, room jid.JID, at time.Time, nick string) {
	m.add(room, Event{Kind: KindLeave, At: at, Nick: nick})
}

func (m *Memory) AddMessage(_ context.Context, room jid.JID, at time.Time, nick, body string) {
	m.add(room, Event{Kind: KindMessage, At: at, Nick: nick, Text: body})
}

func (m *Memory) AddSubjectChange(_ context.Context, room jid.JID, at time.Time, nick, subject string) {
	m.add(room, Event{Kind: KindSubject, At: at, Nick: nick, Text: subject})
}

func (m *Memory) RemoveHistory(_ context.Context, room jid.JID) {
	m.mu.Lock()
	_, ok := m.rooms[room.String()]
	delete(m.rooms, room.String())
	m.mu.Unlock()
	if ok {
		log.Debug().Str("module", "history").Str("room", room.String()).Msg("history removed")
	}
}

// Recent returns up to max of the newest groupchat messages, oldest first.
func (m *Memory) Recent(_ context.Context, room jid.JID, max int) []core.HistoryEntry {
	if max <= 0 {
		return nil
	}
	var out []core.HistoryEntry
	for _, ev := range m.Events(room) {
		if ev.Kind == KindMessage {
			out = append(out, core.HistoryEntry{At: ev.At, Nick: ev.Nick, Body: ev.Text})
		}
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// Events returns every retained event of a room, oldest first.
func (m *Memory) Events(room jid.JID) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[room.String()]
	if !ok {
		return nil
	}
	return r.snapshot()
}

func (m *Memory) add(room jid.JID, ev Event) {
	key := room.String()
	m.mu.Lock()
	r, ok := m.rooms[key]
	if !ok {
		r = &ring{buf: make([]Event, m.size)}
		m.rooms[key] = r
	}
	r.push(ev)
	m.mu.Unlock()
	log.Debug().Str("module", "history").Str("room", key).Str("kind", ev.Kind.String()).Str("nick", ev.Nick).Msg("event recorded")
}

type ring struct {
	buf  []Event
	next int
	full bool
}

func (r *ring) push(ev Event) {
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []Event {
	if !r.full {
		return append([]Event(nil), r.buf[:r.next]...)
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
