// Package storagetest holds the behaviour every DAO engine must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
	"github.com/dkeye/muc/internal/storage"
)

// Run exercises dao against the DAO contract. newDAO must return an empty
// store for every call.
func Run(t *testing.T, newDAO func(t *testing.T) storage.DAO) {
	t.Run("round trip", func(t *testing.T) { roundTrip(t, newDAO(t)) })
	t.Run("missing room", func(t *testing.T) { missingRoom(t, newDAO(t)) })
	t.Run("affiliations", func(t *testing.T) { affiliations(t, newDAO(t)) })
	t.Run("config update", func(t *testing.T) { configUpdate(t, newDAO(t)) })
	t.Run("destroy", func(t *testing.T) { destroy(t, newDAO(t)) })
}

var (
	lounge = jid.MustParse("lounge@muc.example")
	garden = jid.MustParse("garden@muc.example")
)

func record(t *testing.T, id jid.JID) core.RoomRecord {
	t.Helper()
	ctx := context.Background()
	cfg := core.NewRoomConfig(id)
	for field, v := range map[string]any{
		core.FieldPersistent: true,
		core.FieldRoomName:   "The " + id.Localpart(),
		core.FieldAnonymity:  domain.NonAnonymous.String(),
		core.FieldMaxUsers:   20,
	} {
		if err := cfg.SetValue(ctx, field, v); err != nil {
			t.Fatalf("SetValue(%s): %v", field, err)
		}
	}
	return core.RoomRecord{
		ID:           id,
		Config:       cfg,
		Created:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Creator:      "alice@example.com",
		Affiliations: map[string]domain.Affiliation{"alice@example.com": domain.AffiliationOwner},
	}
}

func roundTrip(t *testing.T, dao storage.DAO) {
	ctx := context.Background()
	storeID, err := dao.CreateRoom(ctx, record(t, lounge))
	if err != nil {
		t.Fatal(err)
	}
	if storeID == "" {
		t.Error("CreateRoom returned an empty id")
	}
	got, found, err := dao.GetRoom(ctx, lounge)
	if err != nil || !found {
		t.Fatalf("GetRoom() = %v, %v", found, err)
	}
	if got.StoreID != storeID || got.Creator != "alice@example.com" {
		t.Errorf("record = %+v", got)
	}
	if !got.Created.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Created = %v", got.Created)
	}
	cfg := got.Config
	if !cfg.IsPersistent() || cfg.Name() != "The lounge" || cfg.Anonymity() != domain.NonAnonymous {
		t.Errorf("config not restored: %v", cfg.Fields())
	}
	if n, ok := cfg.MaxUsers(); !ok || n != 20 {
		t.Errorf("MaxUsers() = %d, %v", n, ok)
	}
	if got.Affiliations != nil {
		t.Error("GetRoom must not load affiliations")
	}

	subject := domain.Subject{Text: "news", Nick: "alice", Changed: time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)}
	if err := dao.SetSubject(ctx, lounge, subject); err != nil {
		t.Fatal(err)
	}
	got, _, _ = dao.GetRoom(ctx, lounge)
	if got.Subject.Text != "news" || got.Subject.Nick != "alice" || !got.Subject.Changed.Equal(subject.Changed) {
		t.Errorf("Subject = %+v", got.Subject)
	}

	if _, err := dao.CreateRoom(ctx, record(t, garden)); err != nil {
		t.Fatal(err)
	}
	ids, err := dao.GetRoomsJIDList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0].String() != "garden@muc.example" || ids[1].String() != "lounge@muc.example" {
		t.Errorf("GetRoomsJIDList() = %v", ids)
	}
}

func missingRoom(t *testing.T, dao storage.DAO) {
	_, found, err := dao.GetRoom(context.Background(), lounge)
	if err != nil || found {
		t.Fatalf("GetRoom() = %v, %v; want not found", found, err)
	}
}

func affiliations(t *testing.T, dao storage.DAO) {
	ctx := context.Background()
	if _, err := dao.CreateRoom(ctx, record(t, lounge)); err != nil {
		t.Fatal(err)
	}
	steps := []struct {
		bare string
		aff  domain.Affiliation
	}{
		{"bob@example.com", domain.AffiliationMember},
		{"bob@example.com", domain.AffiliationAdmin},
		{"mallory@example.com", domain.AffiliationOutcast},
		{"carol@example.com", domain.AffiliationMember},
		{"carol@example.com", domain.AffiliationNone},
	}
	for _, s := range steps {
		if err := dao.SetAffiliation(ctx, lounge, s.bare, s.aff); err != nil {
			t.Fatalf("SetAffiliation(%s, %s): %v", s.bare, s.aff, err)
		}
	}
	got, err := dao.GetAffiliations(ctx, lounge)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]domain.Affiliation{
		"alice@example.com":   domain.AffiliationOwner,
		"bob@example.com":     domain.AffiliationAdmin,
		"mallory@example.com": domain.AffiliationOutcast,
	}
	if len(got) != len(want) {
		t.Fatalf("GetAffiliations() = %v", got)
	}
	for bare, a := range want {
		if got[bare] != a {
			t.Errorf("%s = %s, want %s", bare, got[bare], a)
		}
	}
}

func configUpdate(t *testing.T, dao storage.DAO) {
	ctx := context.Background()
	rec := record(t, lounge)
	if _, err := dao.CreateRoom(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := rec.Config.SetValue(ctx, core.FieldMembersOnly, true); err != nil {
		t.Fatal(err)
	}
	if err := rec.Config.SetValue(ctx, core.FieldRoomName, nil); err != nil {
		t.Fatal(err)
	}
	if err := dao.UpdateRoomConfig(ctx, rec.Config); err != nil {
		t.Fatal(err)
	}
	got, _, err := dao.GetRoom(ctx, lounge)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Config.IsMembersOnly() {
		t.Error("membersonly not persisted")
	}
	if got.Config.Name() != "" {
		t.Errorf("cleared room name came back as %q", got.Config.Name())
	}
	if diff := got.Config.Diff(rec.Config); len(diff) != 0 {
		t.Errorf("reloaded config differs in %v", diff)
	}
}

func destroy(t *testing.T, dao storage.DAO) {
	ctx := context.Background()
	if _, err := dao.CreateRoom(ctx, record(t, lounge)); err != nil {
		t.Fatal(err)
	}
	if err := dao.DestroyRoom(ctx, lounge); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := dao.GetRoom(ctx, lounge); found {
		t.Error("room survives DestroyRoom")
	}
	affs, err := dao.GetAffiliations(ctx, lounge)
	if err != nil || len(affs) != 0 {
		t.Errorf("GetAffiliations() after destroy = %v, %v", affs, err)
	}
	if _, err := dao.CreateRoom(ctx, record(t, lounge)); err != nil {
		t.Errorf("recreate after destroy: %v", err)
	}
}
