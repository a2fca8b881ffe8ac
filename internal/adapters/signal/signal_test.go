package signal

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/app"
	"github.com/dkeye/muc/internal/app/orch"
	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/storage/memory"
)

var (
	alice = jid.MustParse("alice@example.com/phone")
	bob   = jid.MustParse("bob@example.com/pc")
)

// fakeConn replays queued frames and records writes.
type fakeConn struct {
	mu      sync.Mutex
	inbound [][]byte
	written [][]byte
	closed  bool
	pong    func(string) error
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return 0, nil, io.EOF
	}
	msg := f.inbound[0]
	f.inbound = f.inbound[1:]
	return 1, msg, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)                        {}
func (f *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetPongHandler(h func(string) error)       { f.pong = h }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newController(t *testing.T, limiter *RateLimiter) *SignalWSController {
	t.Helper()
	ghosts := app.NewGhostbuster()
	repo, err := app.NewInMemoryRepository(context.Background(), memory.New(), nil, core.Options{Sessions: ghosts}, 1)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub()
	o := orch.New(repo, ghosts, hub, app.SimplePolicy{MaxDropped: 8}, "muc.example", 3)
	return NewSignalWSController(o, hub, limiter, 0, 0)
}

func connect(ctl *SignalWSController, full jid.JID) *WsSignalConn {
	c := newConn(full.String(), &fakeConn{}, 32)
	ctl.Hub.register(c)
	return c
}

// drain returns every frame queued on c.
func drain(c *WsSignalConn) []gjson.Result {
	var out []gjson.Result
	for {
		select {
		case b := <-c.send:
			out = append(out, gjson.ParseBytes(b))
		default:
			return out
		}
	}
}

func TestHubBackpressure(t *testing.T) {
	hub := NewHub()
	c := newConn(alice.String(), &fakeConn{}, 1)
	hub.register(c)

	st := core.Message{To: alice.String(), Body: "hi"}
	if got := hub.Deliver(st); got != 0 {
		t.Fatalf("first Deliver = %d", got)
	}
	if got := hub.Deliver(st); got != 1 {
		t.Errorf("second Deliver = %d, want 1", got)
	}
	if got := hub.Deliver(st); got != 2 {
		t.Errorf("third Deliver = %d, want 2", got)
	}
	if got := hub.Deliver(core.Message{To: bob.String()}); got != 0 {
		t.Errorf("Deliver to unknown = %d", got)
	}

	hub.Drop(alice.String())
	if hub.Len() != 0 {
		t.Error("Drop kept the connection")
	}
	if err := c.TrySend([]byte("{}")); err == nil {
		t.Error("TrySend on dropped connection succeeded")
	}
}

func TestHubReplaceKeepsNewest(t *testing.T) {
	hub := NewHub()
	first := newConn(alice.String(), &fakeConn{}, 1)
	second := newConn(alice.String(), &fakeConn{}, 1)
	hub.register(first)
	if old := hub.register(second); old != first {
		t.Fatal("register did not return the replaced connection")
	}
	if hub.unregister(first) {
		t.Error("stale connection unregistered its replacement")
	}
	if !hub.unregister(second) {
		t.Error("unregister(second) = false")
	}
}

func TestHandleSignalJoinAndMessage(t *testing.T) {
	ctx := context.Background()
	ctl := newController(t, nil)
	ca, cb := connect(ctl, alice), connect(ctl, bob)

	ctl.handleSignal(ctx, alice, ca, []byte(`{"type":"presence","to":"lounge@muc.example/alice"}`))
	frames := drain(ca)
	if len(frames) != 1 || frames[0].Get("type").String() != "presence" {
		t.Fatalf("alice join frames = %v", frames)
	}
	if got := frames[0].Get("stanza.from").String(); got != "lounge@muc.example/alice" {
		t.Errorf("self presence from = %q", got)
	}

	ctl.handleSignal(ctx, bob, cb, []byte(`{"type":"presence","to":"lounge@muc.example/bob"}`))
	drain(ca)
	drain(cb)

	ctl.handleSignal(ctx, alice, ca, []byte(`{"type":"message","to":"lounge@muc.example","body":"hi"}`))
	for name, c := range map[string]*WsSignalConn{"alice": ca, "bob": cb} {
		frames := drain(c)
		if len(frames) != 1 || frames[0].Get("stanza.body").String() != "hi" {
			t.Errorf("%s frames = %v", name, frames)
			continue
		}
		if got := frames[0].Get("stanza.type").String(); got != "groupchat" {
			t.Errorf("%s message type = %q", name, got)
		}
	}

	ctl.handleSignal(ctx, bob, cb, []byte(`{"type":"whoami"}`))
	frames = drain(cb)
	if len(frames) != 1 || frames[0].Get("rooms.0.nick").String() != "bob" {
		t.Errorf("whoami = %v", frames)
	}
}

func TestHandleSignalErrors(t *testing.T) {
	ctx := context.Background()
	ctl := newController(t, nil)
	c := connect(ctl, alice)

	tests := []struct {
		name      string
		frame     string
		id        string
		condition string
	}{
		{"malformed json", `{"type":`, "", "bad-request"},
		{"unknown type", `{"type":"dance","id":"1"}`, "1", "bad-request"},
		{"unknown action", `{"type":"iq","id":"2","action":"launch"}`, "2", "bad-request"},
		{"missing room", `{"type":"iq","id":"3","action":"disco_info","room":"attic@muc.example"}`, "3", "item-not-found"},
		{"missing target", `{"type":"presence"}`, "", "bad-request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl.handleSignal(ctx, alice, c, []byte(tt.frame))
			frames := drain(c)
			if len(frames) != 1 {
				t.Fatalf("got %d frames", len(frames))
			}
			f := frames[0]
			if f.Get("type").String() != "error" || f.Get("id").String() != tt.id {
				t.Errorf("envelope = %s", f.Raw)
			}
			if got := f.Get("error.condition").String(); got != tt.condition {
				t.Errorf("condition = %q, want %q", got, tt.condition)
			}
		})
	}
}

func TestHandleSignalIQ(t *testing.T) {
	ctx := context.Background()
	ctl := newController(t, nil)
	c := connect(ctl, alice)

	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"presence","to":"lounge@muc.example/alice"}`))
	drain(c)

	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"iq","id":"cfg","action":"submit_config","room":"lounge@muc.example","fields":{"muc#roomconfig_roomname":"Lounge","muc#roomconfig_membersonly":true}}`))
	frames := drain(c)
	var result gjson.Result
	for _, f := range frames {
		if f.Get("type").String() == "result" {
			result = f
		}
	}
	if result.Get("id").String() != "cfg" {
		t.Fatalf("submit_config frames = %v", frames)
	}

	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"iq","id":"info","action":"disco_info","room":"lounge@muc.example"}`))
	frames = drain(c)
	if len(frames) != 1 {
		t.Fatalf("disco_info frames = %v", frames)
	}
	features := frames[0].Get("result.features").Array()
	found := false
	for _, f := range features {
		if f.String() == "muc_membersonly" {
			found = true
		}
	}
	if !found {
		t.Errorf("features = %s", frames[0].Get("result.features").Raw)
	}

	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"iq","id":"u","action":"unique_room"}`))
	frames = drain(c)
	if len(frames) != 1 {
		t.Fatalf("unique_room frames = %v", frames)
	}
	name, err := jid.Parse(frames[0].Get("result.jid").String())
	if err != nil || name.Domainpart() != "muc.example" || len(name.Localpart()) != 32 {
		t.Errorf("unique_room = %s (%v)", frames[0].Raw, err)
	}
}

func TestFormValues(t *testing.T) {
	got := formValues(gjson.Parse(`{"a":true,"b":false,"c":"x","d":["1","2"],"e":null,"f":3}`))
	want := map[string][]string{
		"a": {"1"},
		"b": {"0"},
		"c": {"x"},
		"d": {"1", "2"},
		"e": nil,
		"f": {"3"},
	}
	if len(got) != len(want) {
		t.Fatalf("formValues = %v", got)
	}
	for k, w := range want {
		g, ok := got[k]
		if !ok || len(g) != len(w) {
			t.Errorf("%s = %v, want %v", k, g, w)
			continue
		}
		for i := range w {
			if g[i] != w[i] {
				t.Errorf("%s[%d] = %q, want %q", k, i, g[i], w[i])
			}
		}
	}
}

func TestRateLimitSparesPing(t *testing.T) {
	ctx := context.Background()
	ctl := newController(t, NewRateLimiter(1, time.Minute))
	c := connect(ctl, alice)

	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"whoami"}`))
	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"whoami"}`))
	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"ping"}`))
	frames := drain(c)
	if len(frames) != 3 {
		t.Fatalf("got %d frames", len(frames))
	}
	if frames[0].Get("type").String() != "whoami" {
		t.Errorf("first frame = %s", frames[0].Raw)
	}
	if frames[1].Get("error.condition").String() != "service-unavailable" {
		t.Errorf("second frame = %s", frames[1].Raw)
	}
	if frames[2].Get("type").String() != "pong" {
		t.Errorf("third frame = %s", frames[2].Raw)
	}
}

func TestReadPumpDisconnectLeavesRooms(t *testing.T) {
	ctl := newController(t, nil)
	fc := &fakeConn{inbound: [][]byte{
		[]byte(`{"type":"presence","to":"lounge@muc.example/alice"}`),
		[]byte(`{"type":"presence","to":"garden@muc.example/al"}`),
	}}
	c := newConn(alice.String(), fc, 32)
	ctl.Hub.register(c)

	ctx, cancel := context.WithCancel(context.Background())
	ctl.readPump(ctx, cancel, alice, c)

	if ctl.Hub.Len() != 0 {
		t.Error("connection still registered")
	}
	if seats := ctl.Orch.Ghosts.Seats(alice.String()); len(seats) != 0 {
		t.Errorf("seats after disconnect = %+v", seats)
	}
	if n := len(ctl.Orch.Repo.ActiveRooms()); n != 0 {
		t.Errorf("%d rooms survive the last occupant", n)
	}
	if !fc.closed {
		t.Error("socket not closed")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two events refused")
	}
	if rl.Allow("a") {
		t.Error("third event inside window allowed")
	}
	if !rl.Allow("b") {
		t.Error("keys are not independent")
	}
	now = start.Add(1500 * time.Millisecond)
	if !rl.Allow("a") {
		t.Error("event after window refused")
	}
	rl.Forget("a")
	if !rl.Allow("a") || rl.Allow("a") {
		t.Error("Forget did not reset history")
	}
}

func TestLiveSessionSurvivesGhostSweep(t *testing.T) {
	ctx := context.Background()
	ctl := newController(t, nil)
	ctl.PingPeriod = time.Minute
	c := connect(ctl, alice)
	fc := c.conn.(*fakeConn)
	ctl.keepAlive(alice, c)

	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"presence","to":"lounge@muc.example/alice"}`))
	drain(c)

	time.Sleep(30 * time.Millisecond)
	ctl.handleSignal(ctx, alice, c, []byte(`{"type":"ping"}`))
	if n := ctl.Orch.SweepGhosts(ctx, 20*time.Millisecond); n != 0 {
		t.Fatalf("SweepGhosts evicted %d seats of a pinging session", n)
	}

	time.Sleep(30 * time.Millisecond)
	if fc.pong == nil {
		t.Fatal("no pong handler installed")
	}
	if err := fc.pong(""); err != nil {
		t.Fatal(err)
	}
	if n := ctl.Orch.SweepGhosts(ctx, 20*time.Millisecond); n != 0 {
		t.Fatalf("SweepGhosts evicted %d seats after a pong", n)
	}

	if seats := ctl.Orch.Ghosts.Seats(alice.String()); len(seats) != 1 {
		t.Errorf("seats = %+v", seats)
	}
	if n := len(ctl.Orch.Repo.ActiveRooms()); n != 1 {
		t.Errorf("%d active rooms, want 1", n)
	}

	time.Sleep(30 * time.Millisecond)
	if n := ctl.Orch.SweepGhosts(ctx, 20*time.Millisecond); n != 1 {
		t.Errorf("silent session: SweepGhosts = %d, want 1", n)
	}
}
