package app

import (
	"context"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGhostbusterStaleSeats(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGhostbuster()
	g.now = clock.now

	lounge := jid.MustParse("lounge@muc.example")
	garden := jid.MustParse("garden@muc.example")
	g.Add("alice@example.com/phone", lounge, "alice")
	g.Add("alice@example.com/phone", garden, "al")
	g.Add("bob@example.com/pc", lounge, "bob")

	clock.advance(10 * time.Minute)
	g.Touch("bob@example.com/pc")
	clock.advance(time.Minute)

	stale := g.Stale(5 * time.Minute)
	if len(stale) != 2 {
		t.Fatalf("Stale() returned %d seats, want 2", len(stale))
	}
	if stale[0].Room.String() != "garden@muc.example" || stale[1].Room.String() != "lounge@muc.example" {
		t.Errorf("Stale() order = %s, %s", stale[0].Room, stale[1].Room)
	}
	for _, s := range stale {
		if s.Full != "alice@example.com/phone" {
			t.Errorf("unexpected stale seat %+v", s)
		}
	}
}

func TestGhostbusterForget(t *testing.T) {
	g := NewGhostbuster()
	lounge := jid.MustParse("lounge@muc.example")
	g.Add("alice@example.com/phone", lounge, "alice")

	seats := g.Forget("alice@example.com/phone")
	if len(seats) != 1 || seats[0].Nick != "alice" {
		t.Fatalf("Forget() = %+v", seats)
	}
	if len(g.Seats("alice@example.com/phone")) != 0 {
		t.Error("seats survive Forget")
	}
	if len(g.Forget("alice@example.com/phone")) != 0 {
		t.Error("second Forget returned seats")
	}
}

func TestGhostbusterFollowsRoom(t *testing.T) {
	ctx := context.Background()
	g := NewGhostbuster()
	id := jid.MustParse("lounge@muc.example")
	alice := jid.MustParse("alice@example.com/phone")
	bob := jid.MustParse("bob@example.com/pc")
	room := core.NewRoom(id, core.NewRoomConfig(id), alice, core.Options{Sessions: g})

	for _, j := range []struct {
		full jid.JID
		nick string
	}{{alice, "alice"}, {bob, "bob"}} {
		if _, err := room.Join(ctx, j.full, j.nick, core.JoinRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if got := g.Seats(bob.String()); len(got) != 1 || got[0].Nick != "bob" {
		t.Fatalf("Seats(bob) = %+v", got)
	}

	if _, err := room.ChangeAffiliation(ctx, alice, bob, domain.AffiliationOutcast, "spam"); err != nil {
		t.Fatal(err)
	}
	if len(g.Seats(bob.String())) != 0 {
		t.Error("banned session still indexed")
	}
	if _, err := room.Leave(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if len(g.Seats(alice.String())) != 0 {
		t.Error("departed session still indexed")
	}
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{MaxDropped: 3}
	tests := []struct {
		dropped int
		want    BackpressureAction
	}{
		{0, DropFrame},
		{3, DropFrame},
		{4, KickMember},
	}
	for _, tt := range tests {
		if got := p.OnBackPressure("alice@example.com/phone", tt.dropped); got != tt.want {
			t.Errorf("OnBackPressure(%d) = %v, want %v", tt.dropped, got, tt.want)
		}
	}
}
