package orch

import (
	"context"

	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
)

const NSMUC = "http://jabber.org/protocol/muc"

type Identity struct {
	Category string `json:"category"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
}

// DiscoInfo is the projection of a disco#info result the service produces.
type DiscoInfo struct {
	Identity    Identity `json:"identity"`
	Features    []string `json:"features"`
	Description string   `json:"description,omitempty"`
	Occupants   int      `json:"occupants"`
}

// ServiceInfo describes the chat service itself.
func (o *Orchestrator) ServiceInfo() DiscoInfo {
	return DiscoInfo{
		Identity: Identity{Category: "conference", Type: "text", Name: "Chatrooms"},
		Features: []string{NSMUC},
	}
}

// ServiceItems lists the public rooms of the service domain.
func (o *Orchestrator) ServiceItems() []core.RoomInfo {
	return o.Repo.PublicVisibleRooms(o.Domain)
}

// RoomInfo describes one room. Features are cached until the room's
// configuration changes or it empties; the occupant count is always live.
func (o *Orchestrator) RoomInfo(ctx context.Context, id jid.JID) (DiscoInfo, error) {
	room, err := o.existingRoom(ctx, id)
	if err != nil {
		return DiscoInfo{}, err
	}
	key := room.ID().String()
	o.discoMu.RLock()
	info, ok := o.disco[key]
	o.discoMu.RUnlock()
	if !ok {
		info = roomInfo(room)
		o.discoMu.Lock()
		o.disco[key] = info
		o.discoMu.Unlock()
	}
	info.Occupants = room.OccupantCount()
	return info, nil
}

func (o *Orchestrator) invalidate(id jid.JID) {
	o.discoMu.Lock()
	delete(o.disco, id.String())
	o.discoMu.Unlock()
}

func roomInfo(room *core.Room) DiscoInfo {
	cfg := room.Config()
	name := cfg.Name()
	if name == "" {
		name = room.ID().Localpart()
	}
	pick := func(on bool, yes, no string) string {
		if on {
			return yes
		}
		return no
	}
	features := []string{
		NSMUC,
		pick(cfg.IsPersistent(), "muc_persistent", "muc_temporary"),
		pick(cfg.IsMembersOnly(), "muc_membersonly", "muc_open"),
		pick(cfg.IsModerated(), "muc_moderated", "muc_unmoderated"),
		pick(cfg.Anonymity() == domain.NonAnonymous, "muc_nonanonymous", "muc_semianonymous"),
		pick(cfg.IsPasswordProtected(), "muc_passwordprotected", "muc_unsecured"),
		pick(cfg.IsPublic(), "muc_public", "muc_hidden"),
	}
	return DiscoInfo{
		Identity:    Identity{Category: "conference", Type: "text", Name: name},
		Features:    features,
		Description: cfg.Description(),
	}
}

// Occupants lists who is in a room without revealing real JIDs.
func (o *Orchestrator) Occupants(ctx context.Context, id jid.JID) ([]core.OccupantInfo, error) {
	room, err := o.existingRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return room.Occupants(), nil
}
