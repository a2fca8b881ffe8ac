// Package orch is the service façade: it routes inbound stanzas to rooms
// and hands the resulting stanzas to a Deliverer.
package orch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/app"
	"github.com/dkeye/muc/internal/core"
)

// Deliverer hands stanzas to connected sessions.
type Deliverer interface {
	// Deliver queues st for its recipient and returns how many stanzas the
	// recipient has dropped so far; zero means it is keeping up.
	Deliver(st core.Stanza) (dropped int)
	// Drop disconnects a session.
	Drop(full string)
}

type Orchestrator struct {
	Repo   app.Repository
	Ghosts *app.Ghostbuster
	Policy app.Policy
	Out    Deliverer

	// Domain is the service domain rooms live under.
	Domain string
	// NameAttempts bounds UniqueRoomName retries.
	NameAttempts int
	// NewName generates room localparts; defaults to a 32-char hex token.
	NewName func() string
	// OnRoomEmpty is called whenever a room loses its last occupant.
	OnRoomEmpty func(room jid.JID)

	discoMu sync.RWMutex
	disco   map[string]DiscoInfo
}

// New wires an orchestrator and subscribes it to room events.
func New(repo app.Repository, ghosts *app.Ghostbuster, out Deliverer, policy app.Policy, domain string, attempts int) *Orchestrator {
	o := &Orchestrator{
		Repo:         repo,
		Ghosts:       ghosts,
		Policy:       policy,
		Out:          out,
		Domain:       domain,
		NameAttempts: attempts,
		disco:        make(map[string]DiscoInfo),
	}
	repo.Subscribe(roomEvents{o: o})
	return o
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// deliver sends out and applies the backpressure policy to slow recipients.
func (o *Orchestrator) deliver(ctx context.Context, out []core.Stanza) {
	if o.Out == nil {
		return
	}
	var kick []string
	for _, st := range out {
		dropped := o.Out.Deliver(st)
		if dropped == 0 || o.Policy == nil {
			continue
		}
		switch o.Policy.OnBackPressure(st.Recipient(), dropped) {
		case app.KickMember:
			kick = append(kick, st.Recipient())
		case app.MarkSlow:
			log.Warn().Str("module", "orch").Str("jid", st.Recipient()).Int("dropped", dropped).Msg("slow session")
		case app.DropFrame, app.NoAction:
		}
	}
	seen := make(map[string]struct{}, len(kick))
	for _, full := range kick {
		if _, ok := seen[full]; ok {
			continue
		}
		seen[full] = struct{}{}
		log.Warn().Str("module", "orch").Str("jid", full).Msg("evicting slow session")
		o.Out.Drop(full)
		o.OnDisconnect(ctx, full)
	}
}

// surface logs listener failures. State was already applied, so callers
// see success.
func surface(op string, room jid.JID, err error) error {
	var le *core.ListenerError
	if errors.As(err, &le) {
		log.Error().Str("module", "orch").Str("room", room.String()).Str("op", op).Err(err).Msg("room listener failed")
		return nil
	}
	return err
}

// roomEvents keeps disco caches fresh and relays emptiness.
type roomEvents struct {
	core.BaseRoomListener
	o *Orchestrator
}

func (e roomEvents) OnConfigurationChange(_ context.Context, room *core.Room, _ []string) error {
	e.o.invalidate(room.ID())
	return nil
}

func (e roomEvents) OnRoomEmpty(_ context.Context, room *core.Room) error {
	e.o.invalidate(room.ID())
	if e.o.OnRoomEmpty != nil {
		e.o.OnRoomEmpty(room.ID())
	}
	return nil
}
