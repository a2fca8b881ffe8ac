package orch

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
)

func (o *Orchestrator) SetAffiliation(ctx context.Context, actor, roomID, target jid.JID, aff domain.Affiliation, reason string) error {
	room, err := o.existingRoom(ctx, roomID)
	if err != nil {
		return err
	}
	out, err := room.ChangeAffiliation(ctx, actor, target, aff, reason)
	o.deliver(ctx, out)
	return surface("set affiliation", room.ID(), err)
}

func (o *Orchestrator) SetRole(ctx context.Context, actor, roomID jid.JID, nick string, role domain.Role, reason string) error {
	room, err := o.existingRoom(ctx, roomID)
	if err != nil {
		return err
	}
	out, err := room.ChangeRole(ctx, actor, nick, role, reason)
	o.deliver(ctx, out)
	return surface("set role", room.ID(), err)
}

// ListAffiliation returns the bare JIDs holding aff. Owner and admin lists
// are visible to owners; member and outcast lists to admins and owners.
func (o *Orchestrator) ListAffiliation(ctx context.Context, actor, roomID jid.JID, aff domain.Affiliation) ([]string, error) {
	room, err := o.existingRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	need := domain.AffiliationAdmin
	if aff == domain.AffiliationOwner || aff == domain.AffiliationAdmin {
		need = domain.AffiliationOwner
	}
	if room.Affiliation(domain.BareKey(actor)).Weight() < need.Weight() {
		return nil, fmt.Errorf("%w: %s list needs %s", domain.ErrForbidden, aff, need)
	}
	var out []string
	for bare, a := range room.Affiliations() {
		if a == aff {
			out = append(out, bare)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetConfig returns the configuration form of a room to its owner.
func (o *Orchestrator) GetConfig(ctx context.Context, actor, roomID jid.JID) ([]core.Field, error) {
	room, err := o.existingRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.Affiliation(domain.BareKey(actor)).Capabilities().CanEditConfig {
		return nil, fmt.Errorf("%w: only owners read the configuration", domain.ErrForbidden)
	}
	return room.Config().Fields(), nil
}

// SubmitConfig applies submitted field values on top of the current
// configuration.
func (o *Orchestrator) SubmitConfig(ctx context.Context, actor, roomID jid.JID, values map[string][]string) error {
	room, err := o.existingRoom(ctx, roomID)
	if err != nil {
		return err
	}
	next := room.Config().Clone()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := next.SetValue(ctx, name, formValue(values[name])); err != nil {
			return err
		}
	}
	out, err := room.ChangeConfig(ctx, actor, next)
	o.deliver(ctx, out)
	return surface("submit config", room.ID(), err)
}

func formValue(vals []string) any {
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return vals[0]
	default:
		return vals
	}
}

// DestroyRoom shuts a room down and forgets it.
func (o *Orchestrator) DestroyRoom(ctx context.Context, actor, roomID jid.JID, reason string) error {
	room, err := o.existingRoom(ctx, roomID)
	if err != nil {
		return err
	}
	out, err := room.Destroy(ctx, actor, reason)
	if err != nil {
		return err
	}
	o.deliver(ctx, out)
	o.invalidate(room.ID())
	if err := o.Repo.DestroyRoom(ctx, room); err != nil {
		log.Error().Str("module", "orch").Str("room", room.ID().String()).Err(err).Msg("destroy persisted room")
	}
	return nil
}
