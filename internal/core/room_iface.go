package core

import (
	"context"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/domain"
)

// RoomListener observes room events. Callbacks run synchronously inside the
// triggering operation, after in-memory state has been applied.
type RoomListener interface {
	OnSetAffiliation(ctx context.Context, room *Room, bare string, aff domain.Affiliation) error
	OnChangeSubject(ctx context.Context, room *Room, subject domain.Subject) error
	OnConfigurationChange(ctx context.Context, room *Room, modified []string) error
	// OnRoomEmpty fires whenever the last occupant leaves, persistent or not.
	OnRoomEmpty(ctx context.Context, room *Room) error
}

// BaseRoomListener ignores every event; embed it to override a subset.
type BaseRoomListener struct{}

func (BaseRoomListener) OnSetAffiliation(context.Context, *Room, string, domain.Affiliation) error {
	return nil
}
func (BaseRoomListener) OnChangeSubject(context.Context, *Room, domain.Subject) error  { return nil }
func (BaseRoomListener) OnConfigurationChange(context.Context, *Room, []string) error { return nil }
func (BaseRoomListener) OnRoomEmpty(context.Context, *Room) error                     { return nil }

// HistoryEntry is one replayable groupchat event.
type HistoryEntry struct {
	At      time.Time
	Nick    string
	Body    string
	Subject string
}

// HistoryProvider records room traffic. Calls are fire-and-forget.
type HistoryProvider interface {
	AddJoinEvent(ctx context.Context, room jid.JID, at time.Time, nick string)
	AddLeaveEvent(ctx context.Context, room jid.JID, at time.Time, nick string)
	AddMessage(ctx context.Context, room jid.JID, at time.Time, nick, body string)
	AddSubjectChange(ctx context.Context, room jid.JID, at time.Time, nick, subject string)
	RemoveHistory(ctx context.Context, room jid.JID)
	Recent(ctx context.Context, room jid.JID, max int) []HistoryEntry
}

// SessionIndex is the non-owning full JID -> (room, nick) index used to find
// ghost sessions.
type SessionIndex interface {
	Add(full string, room jid.JID, nick string)
	Remove(full string, room jid.JID)
}

// RoomRecord is the persistence snapshot of a room.
type RoomRecord struct {
	ID           jid.JID
	StoreID      string
	Config       *RoomConfig
	Created      time.Time
	Creator      string
	Subject      domain.Subject
	Affiliations map[string]domain.Affiliation
}

// RoomInfo is a read-only listing entry.
type RoomInfo struct {
	JID       string `json:"jid"`
	Name      string `json:"name"`
	Occupants int    `json:"occupants"`
}

// OccupantInfo is a read-only occupant view without real JIDs.
type OccupantInfo struct {
	Nick        string             `json:"nick"`
	Role        domain.Role        `json:"role"`
	Affiliation domain.Affiliation `json:"affiliation"`
	Sessions    int                `json:"sessions"`
}
