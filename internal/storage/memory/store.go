// Package memory is a process-local DAO, used when no database is configured
// and in tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
)

type roomRow struct {
	storeID string
	created time.Time
	creator string
	subject domain.Subject
}

type Store struct {
	mu    sync.RWMutex
	seq   int
	rooms map[string]roomRow
	affs  map[string]map[string]domain.Affiliation
	cfg   *KV
}

func New() *Store {
	return &Store{
		rooms: make(map[string]roomRow),
		affs:  make(map[string]map[string]domain.Affiliation),
		cfg:   NewKV(),
	}
}

// Config exposes the configuration key/value store.
func (s *Store) Config() *KV { return s.cfg }

func (s *Store) CreateRoom(ctx context.Context, rec core.RoomRecord) (string, error) {
	key := rec.ID.String()
	s.mu.Lock()
	s.seq++
	id := strconv.Itoa(s.seq)
	s.rooms[key] = roomRow{storeID: id, created: rec.Created, creator: rec.Creator, subject: rec.Subject}
	affs := make(map[string]domain.Affiliation, len(rec.Affiliations))
	for bare, a := range rec.Affiliations {
		if a != domain.AffiliationNone {
			affs[bare] = a
		}
	}
	s.affs[key] = affs
	s.mu.Unlock()

	if rec.Config != nil {
		if err := rec.Config.Write(ctx, s.cfg, rec.ID); err != nil {
			return "", err
		}
	}
	log.Debug().Str("module", "storage.memory").Str("room", key).Str("id", id).Msg("room stored")
	return id, nil
}

func (s *Store) GetRoom(ctx context.Context, id jid.JID) (core.RoomRecord, bool, error) {
	key := id.String()
	s.mu.RLock()
	row, ok := s.rooms[key]
	s.mu.RUnlock()
	if !ok {
		return core.RoomRecord{}, false, nil
	}
	cfg := core.NewRoomConfig(id)
	if err := cfg.Read(ctx, s.cfg, id); err != nil {
		return core.RoomRecord{}, false, err
	}
	return core.RoomRecord{
		ID:      id,
		StoreID: row.storeID,
		Config:  cfg,
		Created: row.created,
		Creator: row.creator,
		Subject: row.subject,
	}, true, nil
}

func (s *Store) DestroyRoom(_ context.Context, id jid.JID) error {
	key := id.String()
	s.mu.Lock()
	delete(s.rooms, key)
	delete(s.affs, key)
	s.mu.Unlock()
	s.cfg.Drop(key)
	return nil
}

func (s *Store) SetAffiliation(_ context.Context, room jid.JID, bare string, aff domain.Affiliation) error {
	key := room.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	affs, ok := s.affs[key]
	if !ok {
		affs = make(map[string]domain.Affiliation)
		s.affs[key] = affs
	}
	if aff == domain.AffiliationNone {
		delete(affs, bare)
		return nil
	}
	affs[bare] = aff
	return nil
}

func (s *Store) GetAffiliations(_ context.Context, room jid.JID) (map[string]domain.Affiliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := maps.Clone(s.affs[room.String()])
	if out == nil {
		out = make(map[string]domain.Affiliation)
	}
	return out, nil
}

func (s *Store) SetSubject(_ context.Context, room jid.JID, subject domain.Subject) error {
	key := room.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rooms[key]; ok {
		row.subject = subject
		s.rooms[key] = row
	}
	return nil
}

func (s *Store) UpdateRoomConfig(ctx context.Context, cfg *core.RoomConfig) error {
	return cfg.Write(ctx, s.cfg, cfg.RoomID())
}

func (s *Store) GetRoomsJIDList(context.Context) ([]jid.JID, error) {
	s.mu.RLock()
	keys := slices.Collect(maps.Keys(s.rooms))
	s.mu.RUnlock()
	sort.Strings(keys)
	out := make([]jid.JID, 0, len(keys))
	for _, k := range keys {
		j, err := jid.Parse(k)
		if err != nil {
			log.Warn().Str("module", "storage.memory").Str("room", k).Err(err).Msg("skipping malformed room jid")
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// KV is an in-memory ConfigStore.
type KV struct {
	mu   sync.RWMutex
	data map[string]map[string][]string
}

func NewKV() *KV { return &KV{data: make(map[string]map[string][]string)} }

func (kv *KV) Keys(_ context.Context, node string) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	keys := slices.Collect(maps.Keys(kv.data[node]))
	sort.Strings(keys)
	return keys, nil
}

func (kv *KV) Get(_ context.Context, node, key string) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return slices.Clone(kv.data[node][key]), nil
}

func (kv *KV) Put(_ context.Context, node, key string, values []string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.data[node] == nil {
		kv.data[node] = make(map[string][]string)
	}
	kv.data[node][key] = slices.Clone(values)
	return nil
}

func (kv *KV) Remove(_ context.Context, node, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data[node], key)
	return nil
}

// Drop removes a whole node.
func (kv *KV) Drop(node string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, node)
}
