// Package storage defines the persistence contract for rooms and hosts its
// engines.
package storage

//go:generate mockgen -destination=mocks/dao_mock.go -package=mocks github.com/dkeye/muc/internal/storage DAO

import (
	"context"

	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
)

// DAO persists rooms. Every call is synchronous; timeouts come from ctx.
type DAO interface {
	// CreateRoom stores the room record and its configuration and returns
	// the engine's identifier for it.
	CreateRoom(ctx context.Context, rec core.RoomRecord) (string, error)
	// GetRoom loads a room without its affiliations. found is false when the
	// store has no such room.
	GetRoom(ctx context.Context, id jid.JID) (rec core.RoomRecord, found bool, err error)
	DestroyRoom(ctx context.Context, id jid.JID) error
	SetAffiliation(ctx context.Context, room jid.JID, bare string, aff domain.Affiliation) error
	GetAffiliations(ctx context.Context, room jid.JID) (map[string]domain.Affiliation, error)
	SetSubject(ctx context.Context, room jid.JID, subject domain.Subject) error
	UpdateRoomConfig(ctx context.Context, cfg *core.RoomConfig) error
	GetRoomsJIDList(ctx context.Context) ([]jid.JID, error)
}
