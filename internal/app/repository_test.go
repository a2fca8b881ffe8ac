package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/mock/gomock"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/app"
	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
	"github.com/dkeye/muc/internal/storage/memory"
	"github.com/dkeye/muc/internal/storage/mocks"
)

var (
	lounge = jid.MustParse("lounge@muc.example")
	alice  = jid.MustParse("alice@example.com/phone")
	bob    = jid.MustParse("bob@example.com/pc")
)

type purgeCounter struct {
	mu      sync.Mutex
	removed int
}

func (p *purgeCounter) AddJoinEvent(context.Context, jid.JID, time.Time, string)                {}
func (p *purgeCounter) AddLeaveEvent(context.Context, jid.JID, time.Time, string)               {}
func (p *purgeCounter) AddMessage(context.Context, jid.JID, time.Time, string, string)          {}
func (p *purgeCounter) AddSubjectChange(context.Context, jid.JID, time.Time, string, string)    {}
func (p *purgeCounter) Recent(context.Context, jid.JID, int) []core.HistoryEntry                { return nil }
func (p *purgeCounter) RemoveHistory(context.Context, jid.JID) {
	p.mu.Lock()
	p.removed++
	p.mu.Unlock()
}

type emptyCounter struct {
	core.BaseRoomListener
	n atomic.Int32
}

func (e *emptyCounter) OnRoomEmpty(context.Context, *core.Room) error {
	e.n.Add(1)
	return nil
}

func newMemoryRepo(t *testing.T, opts core.Options) (*app.InMemoryRepository, *memory.Store) {
	t.Helper()
	store := memory.New()
	repo, err := app.NewInMemoryRepository(context.Background(), store, nil, opts, 4)
	if err != nil {
		t.Fatalf("NewInMemoryRepository: %v", err)
	}
	return repo, store
}

func TestCreateNewRoomRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newMemoryRepo(t, core.Options{})

	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}
	if room.Affiliation(alice.Bare().String()) != domain.AffiliationOwner {
		t.Error("creator is not owner")
	}
	if _, err := repo.CreateNewRoom(ctx, lounge, bob); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate create = %v, want ErrAlreadyExists", err)
	}
	got, ok, err := repo.GetRoom(ctx, lounge)
	if err != nil || !ok || got != room {
		t.Fatalf("GetRoom() = %p, %v, %v; want cached instance", got, ok, err)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	repo, _ := newMemoryRepo(t, core.Options{})
	room, ok, err := repo.GetRoom(context.Background(), jid.MustParse("nowhere@muc.example"))
	if err != nil || ok || room != nil {
		t.Fatalf("GetRoom() = %v, %v, %v; want absent without error", room, ok, err)
	}
}

func TestLeaveRoomIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, _ := newMemoryRepo(t, core.Options{})
	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}
	repo.LeaveRoom(room)
	repo.LeaveRoom(room)
	if n := len(repo.ActiveRooms()); n != 0 {
		t.Fatalf("ActiveRooms() has %d rooms", n)
	}
	if repo.IsRoomIDExists(lounge) {
		t.Error("non-persistent room still known after leave")
	}
}

func TestLastOccupantLeavingEvictsRoom(t *testing.T) {
	ctx := context.Background()
	history := &purgeCounter{}
	repo, _ := newMemoryRepo(t, core.Options{History: history})
	empties := &emptyCounter{}
	repo.Subscribe(empties)

	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := room.Join(ctx, alice, "alice", core.JoinRequest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := room.Leave(ctx, alice); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := repo.GetRoom(ctx, lounge); ok {
		t.Error("empty non-persistent room still cached")
	}
	if history.removed != 1 {
		t.Errorf("history purged %d times, want 1", history.removed)
	}
	if n := empties.n.Load(); n != 1 {
		t.Errorf("empty event fired %d times, want 1", n)
	}
	if _, err := repo.CreateNewRoom(ctx, lounge, bob); err != nil {
		t.Errorf("identity not reusable after eviction: %v", err)
	}
}

func TestPersistentRoomSurvivesEmptiness(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemoryRepo(t, core.Options{})
	tmpl := repo.DefaultRoomConfig().Clone()
	if err := tmpl.SetValue(ctx, core.FieldPersistent, true); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateDefaultRoomConfig(ctx, tmpl); err != nil {
		t.Fatal(err)
	}

	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}
	if room.StoreID() == "" {
		t.Error("persistent room was not stored")
	}
	if _, err := room.Join(ctx, alice, "alice", core.JoinRequest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := room.Leave(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := repo.GetRoom(ctx, lounge); !ok || got != room {
		t.Error("persistent room evicted on emptiness")
	}

	repo.LeaveRoom(room)
	if !repo.IsRoomIDExists(lounge) {
		t.Error("persistent room forgotten after unload")
	}
	reloaded, ok, err := repo.GetRoom(ctx, lounge)
	if err != nil || !ok || reloaded == room {
		t.Fatalf("reload = %p, %v, %v", reloaded, ok, err)
	}
	if reloaded.Affiliation(alice.Bare().String()) != domain.AffiliationOwner {
		t.Error("owner affiliation not restored")
	}
	ids, _ := store.GetRoomsJIDList(ctx)
	if len(ids) != 1 {
		t.Errorf("store has %d rooms", len(ids))
	}
}

func TestEmptyRoomMadeTemporaryIsUnloaded(t *testing.T) {
	ctx := context.Background()
	purge := &purgeCounter{}
	repo, store := newMemoryRepo(t, core.Options{History: purge})

	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}
	if err := room.Config().SetValue(ctx, core.FieldPersistent, true); err != nil {
		t.Fatal(err)
	}
	if _, err := room.Join(ctx, alice, "alice", core.JoinRequest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := room.Leave(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if len(repo.ActiveRooms()) != 1 {
		t.Fatal("persistent room evicted on emptiness")
	}

	if err := room.Config().SetValue(ctx, core.FieldPersistent, false); err != nil {
		t.Fatal(err)
	}
	if n := len(repo.ActiveRooms()); n != 0 {
		t.Errorf("%d rooms still active", n)
	}
	if repo.IsRoomIDExists(lounge) {
		t.Error("room still indexed")
	}
	if rooms := repo.PublicVisibleRooms(lounge.Domainpart()); len(rooms) != 0 {
		t.Errorf("PublicVisibleRooms() = %+v", rooms)
	}
	if ids, _ := store.GetRoomsJIDList(ctx); len(ids) != 0 {
		t.Errorf("store still has %v", ids)
	}
	purge.mu.Lock()
	removed := purge.removed
	purge.mu.Unlock()
	if removed != 1 {
		t.Errorf("RemoveHistory called %d times, want 1", removed)
	}
}

func TestOccupiedRoomMadeTemporaryStaysLoaded(t *testing.T) {
	ctx := context.Background()
	repo, _ := newMemoryRepo(t, core.Options{})

	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}
	if err := room.Config().SetValue(ctx, core.FieldPersistent, true); err != nil {
		t.Fatal(err)
	}
	if _, err := room.Join(ctx, alice, "alice", core.JoinRequest{}); err != nil {
		t.Fatal(err)
	}
	if err := room.Config().SetValue(ctx, core.FieldPersistent, false); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := repo.GetRoom(ctx, lounge); !ok || got != room {
		t.Error("occupied room unloaded")
	}
}

func TestBootstrapIndexesPersistedRooms(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	hiddenID := jid.MustParse("secret@muc.example")
	for _, id := range []jid.JID{lounge, hiddenID} {
		cfg := core.NewRoomConfig(id)
		_ = cfg.SetValue(ctx, core.FieldPersistent, true)
		_ = cfg.SetValue(ctx, core.FieldPublic, !id.Equal(hiddenID))
		if _, err := store.CreateRoom(ctx, core.RoomRecord{ID: id, Config: cfg}); err != nil {
			t.Fatal(err)
		}
	}

	repo, err := app.NewInMemoryRepository(ctx, store, nil, core.Options{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !repo.IsRoomIDExists(lounge) || !repo.IsRoomIDExists(hiddenID) {
		t.Fatal("persisted rooms not indexed")
	}
	public := repo.PublicVisibleRooms("muc.example")
	if len(public) != 1 || public[0].JID != lounge.String() {
		t.Errorf("PublicVisibleRooms() = %+v", public)
	}
	if len(repo.ActiveRooms()) != 0 {
		t.Error("bootstrap must not load rooms")
	}
	if _, err := repo.CreateNewRoom(ctx, hiddenID, alice); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("create over unloaded persistent room = %v", err)
	}
}

func TestConcurrentCreateHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo, _ := newMemoryRepo(t, core.Options{})
	var wins, dups atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 24; i++ {
		creator := jid.MustParse(fmt.Sprintf("u%d@example.com/r", i))
		wg.Go(func() {
			_, err := repo.CreateNewRoom(ctx, lounge, creator)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAlreadyExists):
				dups.Add(1)
			default:
				t.Errorf("CreateNewRoom() = %v", err)
			}
		})
	}
	wg.Wait()
	if wins.Load() != 1 || dups.Load() != 23 {
		t.Fatalf("wins=%d dups=%d", wins.Load(), dups.Load())
	}
}

func TestGetRoomLoadsOnceFromDAO(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	dao := mocks.NewMockDAO(ctrl)

	cfg := core.NewRoomConfig(lounge)
	_ = cfg.SetValue(ctx, core.FieldPersistent, true)
	rec := core.RoomRecord{ID: lounge, StoreID: "7", Config: cfg, Creator: "alice@example.com"}

	dao.EXPECT().GetRoomsJIDList(gomock.Any()).Return([]jid.JID{lounge}, nil)
	dao.EXPECT().GetRoom(gomock.Any(), gomock.Any()).Return(rec, true, nil).Times(2)
	dao.EXPECT().GetAffiliations(gomock.Any(), gomock.Any()).
		Return(map[string]domain.Affiliation{"alice@example.com": domain.AffiliationOwner}, nil)

	repo, err := app.NewInMemoryRepository(ctx, dao, nil, core.Options{}, 1)
	if err != nil {
		t.Fatal(err)
	}

	rooms := make([]*core.Room, 16)
	var wg conc.WaitGroup
	for i := range rooms {
		wg.Go(func() {
			room, ok, err := repo.GetRoom(ctx, lounge)
			if err != nil || !ok {
				t.Errorf("GetRoom() = %v, %v", ok, err)
			}
			rooms[i] = room
		})
	}
	wg.Wait()
	for _, r := range rooms[1:] {
		if r != rooms[0] {
			t.Fatal("GetRoom returned different instances")
		}
	}
	if rooms[0].StoreID() != "7" || rooms[0].Affiliation("alice@example.com") != domain.AffiliationOwner {
		t.Error("record not applied")
	}
}

func TestConfigChangesArePersisted(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	dao := mocks.NewMockDAO(ctrl)
	dao.EXPECT().GetRoomsJIDList(gomock.Any()).Return(nil, nil)

	repo, err := app.NewInMemoryRepository(ctx, dao, nil, core.Options{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}

	change := func(field string, value any) error {
		next := room.Config().Clone()
		if err := next.SetValue(ctx, field, value); err != nil {
			t.Fatal(err)
		}
		_, err := room.ChangeConfig(ctx, alice, next)
		return err
	}

	gomock.InOrder(
		dao.EXPECT().CreateRoom(gomock.Any(), gomock.Any()).Return("42", nil),
		dao.EXPECT().UpdateRoomConfig(gomock.Any(), room.Config()).Return(nil),
		dao.EXPECT().SetAffiliation(gomock.Any(), gomock.Any(), "bob@example.com", domain.AffiliationMember).Return(nil),
		dao.EXPECT().DestroyRoom(gomock.Any(), gomock.Any()).Return(nil),
	)

	if err := change(core.FieldPersistent, true); err != nil {
		t.Fatal(err)
	}
	if room.StoreID() != "42" {
		t.Errorf("StoreID() = %q", room.StoreID())
	}
	if err := change(core.FieldPublic, false); err != nil {
		t.Fatal(err)
	}
	if len(repo.PublicVisibleRooms("muc.example")) != 0 {
		t.Error("hidden room still listed")
	}
	if _, err := room.ChangeAffiliation(ctx, alice, bob, domain.AffiliationMember, ""); err != nil {
		t.Fatal(err)
	}
	if err := change(core.FieldPersistent, false); err != nil {
		t.Fatal(err)
	}
	if _, err := room.ChangeAffiliation(ctx, alice, bob, domain.AffiliationAdmin, ""); err != nil {
		t.Fatalf("affiliation on transient room must not touch the DAO: %v", err)
	}
}

func TestPersistenceFailureIsSurfacedAfterApply(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	dao := mocks.NewMockDAO(ctrl)
	dao.EXPECT().GetRoomsJIDList(gomock.Any()).Return(nil, nil)
	dao.EXPECT().CreateRoom(gomock.Any(), gomock.Any()).Return("1", nil)
	boom := errors.New("db down")
	dao.EXPECT().SetAffiliation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(boom)

	defaults := core.NewRoomConfig(jid.JID{})
	_ = defaults.SetValue(ctx, core.FieldPersistent, true)
	repo, err := app.NewInMemoryRepository(ctx, dao, defaults, core.Options{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}

	_, err = room.ChangeAffiliation(ctx, alice, bob, domain.AffiliationAdmin, "")
	var le *core.ListenerError
	if !errors.As(err, &le) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ListenerError wrapping %v", err, boom)
	}
	if room.Affiliation("bob@example.com") != domain.AffiliationAdmin {
		t.Error("in-memory affiliation not applied")
	}
}

func TestDestroyRoomRemovesRecord(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemoryRepo(t, core.Options{})
	room, err := repo.CreateNewRoom(ctx, lounge, alice)
	if err != nil {
		t.Fatal(err)
	}
	next := room.Config().Clone()
	_ = next.SetValue(ctx, core.FieldPersistent, true)
	if _, err := room.ChangeConfig(ctx, alice, next); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := store.GetRoom(ctx, lounge); !found {
		t.Fatal("room not persisted after becoming persistent")
	}

	if _, err := room.Destroy(ctx, alice, "done"); err != nil {
		t.Fatal(err)
	}
	if err := repo.DestroyRoom(ctx, room); err != nil {
		t.Fatal(err)
	}
	if repo.IsRoomIDExists(lounge) {
		t.Error("destroyed room still known")
	}
	if _, found, _ := store.GetRoom(ctx, lounge); found {
		t.Error("destroyed room still stored")
	}
}
