package app

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
	"github.com/dkeye/muc/internal/storage"
)

// Repository owns the authoritative Room instances.
type Repository interface {
	CreateNewRoom(ctx context.Context, id, creator jid.JID) (*core.Room, error)
	GetRoom(ctx context.Context, id jid.JID) (*core.Room, bool, error)
	LeaveRoom(room *core.Room)
	DestroyRoom(ctx context.Context, room *core.Room) error
	ActiveRooms() []*core.Room
	DefaultRoomConfig() *core.RoomConfig
	UpdateDefaultRoomConfig(ctx context.Context, cfg *core.RoomConfig) error
	PublicVisibleRooms(domain string) []core.RoomInfo
	IsRoomIDExists(id jid.JID) bool
	Subscribe(l core.RoomListener)
}

type knownRoom struct {
	id     jid.JID
	name   string
	public bool
}

// InMemoryRepository caches active rooms in memory and mirrors persistent
// ones into a DAO. Lock order: room operation lock, then mu.
type InMemoryRepository struct {
	dao  storage.DAO
	opts core.Options

	mu         sync.RWMutex
	active     map[string]*core.Room
	known      map[string]knownRoom
	defaultCfg *core.RoomConfig
	extra      []core.RoomListener

	loads singleflight.Group
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository indexes every persisted room. Public visibility of
// unloaded rooms is resolved with at most workers concurrent DAO reads.
func NewInMemoryRepository(ctx context.Context, dao storage.DAO, defaults *core.RoomConfig, opts core.Options, workers int) (*InMemoryRepository, error) {
	if defaults == nil {
		defaults = core.NewRoomConfig(jid.JID{})
	}
	r := &InMemoryRepository{
		dao:        dao,
		opts:       opts,
		active:     make(map[string]*core.Room),
		known:      make(map[string]knownRoom),
		defaultCfg: defaults,
	}
	ids, err := dao.GetRoomsJIDList(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persisted rooms: %w", err)
	}
	if workers < 1 {
		workers = 1
	}
	p := pool.NewWithResults[knownRoom]().WithContext(ctx).WithMaxGoroutines(workers)
	for _, id := range ids {
		p.Go(func(ctx context.Context) (knownRoom, error) {
			k := knownRoom{id: id, name: id.Localpart()}
			rec, found, err := dao.GetRoom(ctx, id)
			if err != nil {
				log.Warn().Str("module", "app.repository").Str("room", id.String()).Err(err).Msg("room hidden, visibility unknown")
				return k, nil
			}
			if found && rec.Config != nil {
				k.public = rec.Config.IsPublic()
				if n := rec.Config.Name(); n != "" {
					k.name = n
				}
			}
			return k, nil
		})
	}
	rooms, err := p.Wait()
	if err != nil {
		return nil, err
	}
	for _, k := range rooms {
		r.known[k.id.String()] = k
	}
	log.Info().Str("module", "app.repository").Int("known", len(r.known)).Msg("repository ready")
	return r, nil
}

func (r *InMemoryRepository) CreateNewRoom(ctx context.Context, id, creator jid.JID) (*core.Room, error) {
	id = id.Bare()
	key := id.String()

	r.mu.Lock()
	if _, ok := r.known[key]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyExists, key)
	}
	cfg := r.defaultCfg.CloneFor(id)
	room := core.NewRoom(id, cfg, creator, r.opts)
	r.attachLocked(room)
	r.active[key] = room
	r.known[key] = knownRoom{id: id, name: nameOf(id, cfg), public: cfg.IsPublic()}
	r.mu.Unlock()

	log.Info().Str("module", "app.repository").Str("room", key).Str("creator", creator.Bare().String()).Msg("room created")
	if !cfg.IsPersistent() {
		return room, nil
	}
	storeID, err := r.dao.CreateRoom(ctx, room.Record())
	if err != nil {
		log.Error().Str("module", "app.repository").Str("room", key).Err(err).Msg("persist new room")
		return room, fmt.Errorf("persist room %s: %w", key, err)
	}
	room.SetStoreID(storeID)
	return room, nil
}

// GetRoom returns the cached room or loads it from the DAO. Concurrent loads
// of one identity share a single DAO round trip.
func (r *InMemoryRepository) GetRoom(ctx context.Context, id jid.JID) (*core.Room, bool, error) {
	id = id.Bare()
	key := id.String()

	r.mu.RLock()
	room, ok := r.active[key]
	r.mu.RUnlock()
	if ok {
		return room, true, nil
	}

	v, err, _ := r.loads.Do(key, func() (any, error) {
		return r.load(ctx, id)
	})
	if err != nil {
		return nil, false, err
	}
	room, _ = v.(*core.Room)
	return room, room != nil, nil
}

func (r *InMemoryRepository) load(ctx context.Context, id jid.JID) (*core.Room, error) {
	key := id.String()
	r.mu.RLock()
	room, ok := r.active[key]
	r.mu.RUnlock()
	if ok {
		return room, nil
	}

	rec, found, err := r.dao.GetRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	affs, err := r.dao.GetAffiliations(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load affiliations %s: %w", key, err)
	}
	rec.Affiliations = affs
	room = core.NewRoomFromRecord(rec, r.opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[key]; ok {
		return existing, nil
	}
	r.attachLocked(room)
	r.active[key] = room
	r.known[key] = knownRoom{id: id, name: nameOf(id, room.Config()), public: room.Config().IsPublic()}
	log.Info().Str("module", "app.repository").Str("room", key).Int("affiliations", len(affs)).Msg("room loaded")
	return room, nil
}

// LeaveRoom unloads a room. Persistent rooms stay known. Calling it again,
// or with a stale instance, is a no-op.
func (r *InMemoryRepository) LeaveRoom(room *core.Room) {
	key := room.ID().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[key]; !ok || cur != room {
		return
	}
	delete(r.active, key)
	if !room.Config().IsPersistent() {
		delete(r.known, key)
	}
	log.Info().Str("module", "app.repository").Str("room", key).Msg("room unloaded")
}

// DestroyRoom forgets the room entirely and removes its persisted record.
func (r *InMemoryRepository) DestroyRoom(ctx context.Context, room *core.Room) error {
	key := room.ID().String()
	r.mu.Lock()
	if cur, ok := r.active[key]; ok && cur == room {
		delete(r.active, key)
	}
	delete(r.known, key)
	r.mu.Unlock()

	if r.opts.History != nil {
		r.opts.History.RemoveHistory(ctx, room.ID())
	}
	log.Info().Str("module", "app.repository").Str("room", key).Msg("room destroyed")
	if !room.Config().IsPersistent() && room.StoreID() == "" {
		return nil
	}
	if err := r.dao.DestroyRoom(ctx, room.ID()); err != nil {
		log.Error().Str("module", "app.repository").Str("room", key).Err(err).Msg("destroy persisted room")
		return fmt.Errorf("destroy room %s: %w", key, err)
	}
	return nil
}

func (r *InMemoryRepository) ActiveRooms() []*core.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Room, 0, len(r.active))
	for _, room := range r.active {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

func (r *InMemoryRepository) DefaultRoomConfig() *core.RoomConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultCfg
}

// UpdateDefaultRoomConfig changes the template for rooms created later.
func (r *InMemoryRepository) UpdateDefaultRoomConfig(ctx context.Context, cfg *core.RoomConfig) error {
	modified, err := r.DefaultRoomConfig().CopyFrom(ctx, cfg, false)
	log.Info().Str("module", "app.repository").Strs("modified", modified).Msg("default room config updated")
	return err
}

// PublicVisibleRooms lists public rooms of a service domain, loaded or not.
func (r *InMemoryRepository) PublicVisibleRooms(service string) []core.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.RoomInfo
	for key, k := range r.known {
		if !k.public || k.id.Domainpart() != service {
			continue
		}
		info := core.RoomInfo{JID: key, Name: k.name}
		if room, ok := r.active[key]; ok {
			info.Occupants = room.OccupantCount()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}

func (r *InMemoryRepository) IsRoomIDExists(id jid.JID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.known[id.Bare().String()]
	return ok
}

// Subscribe attaches l to every current and future room.
func (r *InMemoryRepository) Subscribe(l core.RoomListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extra = append(r.extra, l)
	for _, room := range r.active {
		room.AddListener(l)
	}
}

func (r *InMemoryRepository) attachLocked(room *core.Room) {
	room.Config().AddListener(func(ctx context.Context, _ *core.RoomConfig, modified []string) error {
		return r.onConfigChange(ctx, room, modified)
	})
	room.AddListener(roomEvents{repo: r})
	for _, l := range r.extra {
		room.AddListener(l)
	}
}

func (r *InMemoryRepository) onConfigChange(ctx context.Context, room *core.Room, modified []string) error {
	key := room.ID().String()
	cfg := room.Config()

	if slices.Contains(modified, core.FieldPublic) || slices.Contains(modified, core.FieldRoomName) {
		r.mu.Lock()
		if k, ok := r.known[key]; ok {
			k.public = cfg.IsPublic()
			k.name = nameOf(room.ID(), cfg)
			r.known[key] = k
		}
		r.mu.Unlock()
	}

	var err error
	switch {
	case slices.Contains(modified, core.FieldPersistent) && cfg.IsPersistent():
		var storeID string
		if storeID, err = r.dao.CreateRoom(ctx, room.Record()); err == nil {
			room.SetStoreID(storeID)
		}
	case slices.Contains(modified, core.FieldPersistent):
		if err = r.dao.DestroyRoom(ctx, room.ID()); err == nil {
			room.SetStoreID("")
		}
		// An empty room that stops being persistent has nothing keeping it.
		if room.OccupantCount() == 0 {
			r.LeaveRoom(room)
			if r.opts.History != nil {
				r.opts.History.RemoveHistory(ctx, room.ID())
			}
		}
	case cfg.IsPersistent():
		err = r.dao.UpdateRoomConfig(ctx, cfg)
	}
	if err != nil {
		log.Error().Str("module", "app.repository").Str("room", key).Strs("modified", modified).Err(err).Msg("persist configuration")
		return fmt.Errorf("persist configuration of %s: %w", key, err)
	}
	return nil
}

// roomEvents is the repository's own room listener.
type roomEvents struct {
	core.BaseRoomListener
	repo *InMemoryRepository
}

func (e roomEvents) OnSetAffiliation(ctx context.Context, room *core.Room, bare string, aff domain.Affiliation) error {
	if !room.Config().IsPersistent() {
		return nil
	}
	if err := e.repo.dao.SetAffiliation(ctx, room.ID(), bare, aff); err != nil {
		log.Error().Str("module", "app.repository").Str("room", room.ID().String()).Str("jid", bare).Err(err).Msg("persist affiliation")
		return fmt.Errorf("persist affiliation %s in %s: %w", bare, room.ID(), err)
	}
	return nil
}

func (e roomEvents) OnChangeSubject(ctx context.Context, room *core.Room, subject domain.Subject) error {
	if !room.Config().IsPersistent() {
		return nil
	}
	if err := e.repo.dao.SetSubject(ctx, room.ID(), subject); err != nil {
		log.Error().Str("module", "app.repository").Str("room", room.ID().String()).Err(err).Msg("persist subject")
		return fmt.Errorf("persist subject of %s: %w", room.ID(), err)
	}
	return nil
}

func (e roomEvents) OnRoomEmpty(_ context.Context, room *core.Room) error {
	if !room.Config().IsPersistent() {
		e.repo.LeaveRoom(room)
	}
	return nil
}

func nameOf(id jid.JID, cfg *core.RoomConfig) string {
	if n := cfg.Name(); n != "" {
		return n
	}
	return id.Localpart()
}
