package history_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/history"
)

var lounge = jid.MustParse("lounge@muc.example")

func TestRecentReturnsNewestMessages(t *testing.T) {
	ctx := context.Background()
	h := history.NewMemory(4)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	h.AddJoinEvent(ctx, lounge, at, "alice")
	for i := 0; i < 5; i++ {
		h.AddMessage(ctx, lounge, at.Add(time.Duration(i)*time.Second), "alice", fmt.Sprintf("m%d", i))
	}
	h.AddSubjectChange(ctx, lounge, at, "alice", "news")

	got := h.Recent(ctx, lounge, 10)
	want := []string{"m2", "m3", "m4"}
	if len(got) != len(want) {
		t.Fatalf("Recent() returned %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Body != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Body, want[i])
		}
	}
	if got := h.Recent(ctx, lounge, 1); len(got) != 1 || got[0].Body != "m4" {
		t.Errorf("Recent(1) = %+v", got)
	}
	if got := h.Recent(ctx, lounge, 0); got != nil {
		t.Errorf("Recent(0) = %+v", got)
	}
}

func TestEventsKeepOrderAcrossWrap(t *testing.T) {
	ctx := context.Background()
	h := history.NewMemory(3)
	now := time.Now()
	h.AddJoinEvent(ctx, lounge, now, "a")
	h.AddJoinEvent(ctx, lounge, now, "b")
	h.AddLeaveEvent(ctx, lounge, now, "a")
	h.AddMessage(ctx, lounge, now, "b", "hi")

	evs := h.Events(lounge)
	kinds := []history.Kind{history.KindJoin, history.KindLeave, history.KindMessage}
	if len(evs) != len(kinds) {
		t.Fatalf("Events() = %+v", evs)
	}
	for i, k := range kinds {
		if evs[i].Kind != k {
			t.Errorf("event %d kind = %s, want %s", i, evs[i].Kind, k)
		}
	}
}

func TestRemoveHistory(t *testing.T) {
	ctx := context.Background()
	h := history.NewMemory(8)
	other := jid.MustParse("garden@muc.example")
	h.AddMessage(ctx, lounge, time.Now(), "alice", "hello")
	h.AddMessage(ctx, other, time.Now(), "bob", "hey")

	h.RemoveHistory(ctx, lounge)
	if len(h.Events(lounge)) != 0 {
		t.Error("history survives removal")
	}
	if len(h.Recent(ctx, other, 5)) != 1 {
		t.Error("removal touched another room")
	}
}
