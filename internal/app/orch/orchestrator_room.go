package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
)

// Presence is an inbound presence addressed to room@service/nick.
type Presence struct {
	From     jid.JID
	To       jid.JID
	Type     stanza.PresenceType
	Show     string
	Status   string
	Password string
}

// Message is an inbound message addressed to a room or an occupant.
type Message struct {
	From    jid.JID
	To      jid.JID
	Type    stanza.MessageType
	Body    string
	Subject *string
}

// HandlePresence joins, updates or leaves depending on the presence type.
func (o *Orchestrator) HandlePresence(ctx context.Context, p Presence) error {
	if o.Ghosts != nil {
		o.Ghosts.Touch(p.From.String())
	}
	switch p.Type {
	case stanza.UnavailablePresence:
		return o.Leave(ctx, p.From, p.To.Bare())
	case stanza.AvailablePresence:
		return o.Join(ctx, p)
	default:
		return fmt.Errorf("%w: presence type %q", domain.ErrBadRequest, p.Type)
	}
}

// Join enters the room, creating it on first use. A room that closed
// between lookup and join is retried once.
func (o *Orchestrator) Join(ctx context.Context, p Presence) error {
	roomID := p.To.Bare()
	nick := p.To.Resourcepart()
	if err := domain.ValidateNick(nick); err != nil {
		return err
	}
	if roomID.Localpart() == "" || roomID.Domainpart() != o.Domain {
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	req := core.JoinRequest{Password: p.Password, Show: p.Show, Status: p.Status}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var room *core.Room
		if room, err = o.roomFor(ctx, roomID, p.From); err != nil {
			return err
		}
		var out []core.Stanza
		out, err = room.Join(ctx, p.From, nick, req)
		if errors.Is(err, domain.ErrRoomClosed) {
			log.Debug().Str("module", "orch").Str("room", roomID.String()).Msg("room closed during join, retrying")
			continue
		}
		o.deliver(ctx, out)
		return surface("join", roomID, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
}

func (o *Orchestrator) roomFor(ctx context.Context, id, creator jid.JID) (*core.Room, error) {
	room, ok, err := o.Repo.GetRoom(ctx, id)
	if err != nil || ok {
		return room, err
	}
	room, err = o.Repo.CreateNewRoom(ctx, id, creator)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		room, ok, err = o.Repo.GetRoom(ctx, id)
		if err == nil && !ok {
			err = fmt.Errorf("%w: %s", domain.ErrRoomClosed, id)
		}
		return room, err
	case err != nil && room != nil:
		log.Error().Str("module", "orch").Str("room", id.String()).Err(err).Msg("room created but not persisted")
		return room, nil
	}
	return room, err
}

func (o *Orchestrator) existingRoom(ctx context.Context, id jid.JID) (*core.Room, error) {
	room, ok, err := o.Repo.GetRoom(ctx, id.Bare())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id.Bare())
	}
	return room, nil
}

// Leave removes the session from a room.
func (o *Orchestrator) Leave(ctx context.Context, from, roomID jid.JID) error {
	room, err := o.existingRoom(ctx, roomID)
	if err != nil {
		return err
	}
	out, err := room.Leave(ctx, from)
	o.deliver(ctx, out)
	return surface("leave", roomID, err)
}

// HandleMessage routes groupchat traffic, subject changes and private
// messages.
func (o *Orchestrator) HandleMessage(ctx context.Context, m Message) error {
	if o.Ghosts != nil {
		o.Ghosts.Touch(m.From.String())
	}
	room, err := o.existingRoom(ctx, m.To)
	if err != nil {
		return err
	}
	var out []core.Stanza
	switch {
	case m.Type == stanza.GroupChatMessage && m.Subject != nil && m.Body == "":
		out, err = room.ChangeSubject(ctx, m.From, *m.Subject)
	case m.Type == stanza.GroupChatMessage:
		out, err = room.SendMessage(ctx, m.From, m.Body)
	case m.To.Resourcepart() != "":
		out, err = room.PrivateMessage(ctx, m.From, m.To.Resourcepart(), m.Body)
	default:
		return fmt.Errorf("%w: message type %q to room", domain.ErrBadRequest, m.Type)
	}
	o.deliver(ctx, out)
	return surface("message", room.ID(), err)
}

// OnDisconnect leaves every room the session sat in.
func (o *Orchestrator) OnDisconnect(ctx context.Context, full string) {
	if o.Ghosts == nil {
		return
	}
	for _, seat := range o.Ghosts.Forget(full) {
		o.evictSeat(ctx, seat.Room, full)
	}
}

// SweepGhosts removes sessions idle for longer than maxIdle and returns how
// many seats were freed.
func (o *Orchestrator) SweepGhosts(ctx context.Context, maxIdle time.Duration) int {
	if o.Ghosts == nil {
		return 0
	}
	stale := o.Ghosts.Stale(maxIdle)
	for _, seat := range stale {
		o.Ghosts.Remove(seat.Full, seat.Room)
		o.evictSeat(ctx, seat.Room, seat.Full)
	}
	if len(stale) > 0 {
		log.Info().Str("module", "orch").Int("seats", len(stale)).Msg("ghosts swept")
	}
	return len(stale)
}

func (o *Orchestrator) evictSeat(ctx context.Context, roomID jid.JID, full string) {
	from, err := jid.Parse(full)
	if err != nil {
		return
	}
	if err := o.Leave(ctx, from, roomID); err != nil &&
		!errors.Is(err, domain.ErrOccupantNotFound) && !errors.Is(err, domain.ErrRoomNotFound) {
		log.Warn().Str("module", "orch").Str("room", roomID.String()).Str("jid", full).Err(err).Msg("leave on disconnect")
	}
}

// UniqueRoomName returns an unused room JID under the service domain.
func (o *Orchestrator) UniqueRoomName() (jid.JID, error) {
	gen := o.NewName
	if gen == nil {
		gen = newToken
	}
	attempts := max(o.NameAttempts, 1)
	for i := 0; i < attempts; i++ {
		id, err := jid.New(gen(), o.Domain, "")
		if err != nil {
			return jid.JID{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}
		if !o.Repo.IsRoomIDExists(id) {
			return id, nil
		}
	}
	return jid.JID{}, fmt.Errorf("%w: %d attempts", domain.ErrUniqueNameExhausted, attempts)
}
