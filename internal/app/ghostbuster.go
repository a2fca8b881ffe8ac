package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
)

// Seat is one room a real full JID occupies.
type Seat struct {
	Full     string
	Room     jid.JID
	Nick     string
	LastSeen time.Time
}

// Ghostbuster indexes real full JIDs to the rooms they sit in so stale
// sessions can be found and evicted. It never owns room state.
type Ghostbuster struct {
	mu    sync.RWMutex
	seats map[string]map[string]*Seat
	now   func() time.Time
}

func NewGhostbuster() *Ghostbuster {
	return &Ghostbuster{
		seats: make(map[string]map[string]*Seat),
		now:   time.Now,
	}
}

func (g *Ghostbuster) Add(full string, room jid.JID, nick string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rooms, ok := g.seats[full]
	if !ok {
		rooms = make(map[string]*Seat)
		g.seats[full] = rooms
	}
	rooms[room.String()] = &Seat{Full: full, Room: room, Nick: nick, LastSeen: g.now()}
	log.Debug().Str("module", "app.ghostbuster").Str("jid", full).Str("room", room.String()).Str("nick", nick).Msg("seat added")
}

func (g *Ghostbuster) Remove(full string, room jid.JID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rooms, ok := g.seats[full]
	if !ok {
		return
	}
	delete(rooms, room.String())
	if len(rooms) == 0 {
		delete(g.seats, full)
	}
	log.Debug().Str("module", "app.ghostbuster").Str("jid", full).Str("room", room.String()).Msg("seat removed")
}

// Touch records traffic from a full JID.
func (g *Ghostbuster) Touch(full string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for _, s := range g.seats[full] {
		s.LastSeen = now
	}
}

// Seats lists the rooms a full JID currently sits in.
func (g *Ghostbuster) Seats(full string) []Seat {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedSeats(g.seats[full])
}

// Forget drops a full JID and returns the seats it held.
func (g *Ghostbuster) Forget(full string) []Seat {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := sortedSeats(g.seats[full])
	delete(g.seats, full)
	if len(out) > 0 {
		log.Info().Str("module", "app.ghostbuster").Str("jid", full).Int("rooms", len(out)).Msg("forgot session")
	}
	return out
}

// Stale returns seats with no traffic for longer than maxIdle.
func (g *Ghostbuster) Stale(maxIdle time.Duration) []Seat {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cutoff := g.now().Add(-maxIdle)
	var out []Seat
	for _, rooms := range g.seats {
		for _, s := range rooms {
			if s.LastSeen.Before(cutoff) {
				out = append(out, *s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Full != out[j].Full {
			return out[i].Full < out[j].Full
		}
		return out[i].Room.String() < out[j].Room.String()
	})
	return out
}

func sortedSeats(rooms map[string]*Seat) []Seat {
	out := make([]Seat, 0, len(rooms))
	for _, s := range rooms {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room.String() < out[j].Room.String() })
	return out
}
