package core_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
	"github.com/dkeye/muc/internal/domain"
)

var loungeJID = jid.MustParse("lounge@muc.example")

// mapStore is a ConfigStore over a nested map.
type mapStore struct {
	mu   sync.Mutex
	data map[string]map[string][]string
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string]map[string][]string)} }

func (s *mapStore) Keys(_ context.Context, node string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data[node] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *mapStore) Get(_ context.Context, node, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data[node][key]), nil
}

func (s *mapStore) Put(_ context.Context, node, key string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[node] == nil {
		s.data[node] = make(map[string][]string)
	}
	s.data[node][key] = slices.Clone(values)
	return nil
}

func (s *mapStore) Remove(_ context.Context, node, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[node], key)
	return nil
}

func TestConfigDefaults(t *testing.T) {
	c := core.NewRoomConfig(loungeJID)
	if c.Anonymity() != domain.SemiAnonymous {
		t.Errorf("Anonymity() = %s, want semianonymous", c.Anonymity())
	}
	if !c.IsPublic() || c.IsPersistent() || c.IsModerated() || c.IsMembersOnly() {
		t.Errorf("unexpected defaults: public=%v persistent=%v moderated=%v membersonly=%v",
			c.IsPublic(), c.IsPersistent(), c.IsModerated(), c.IsMembersOnly())
	}
	if _, ok := c.MaxUsers(); ok {
		t.Error("MaxUsers should be unlimited by default")
	}
	if got := len(c.PresenceBroadcast()); got != 3 {
		t.Errorf("PresenceBroadcast() has %d roles, want 3", got)
	}
}

func TestConfigSetValueTypes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		field string
		value any
		ok    bool
	}{
		{"bool canonical", core.FieldPersistent, "1", true},
		{"bool native", core.FieldModerated, true, true},
		{"bool bad string", core.FieldPersistent, "yes", false},
		{"list on bool", core.FieldPersistent, []string{"1"}, false},
		{"bool on text", core.FieldRoomName, true, false},
		{"list on single", core.FieldAnonymity, []string{"nonanonymous"}, false},
		{"list on multi", core.FieldPresenceBroadcast, []string{"moderator"}, true},
		{"int on text", core.FieldMaxUsers, 20, true},
		{"float", core.FieldMaxUsers, 2.5, false},
		{"unknown field ignored", "muc#roomconfig_whatever", 42.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := core.NewRoomConfig(loungeJID)
			err := c.SetValue(ctx, tt.field, tt.value)
			if tt.ok && err != nil {
				t.Fatalf("SetValue(%s, %v) = %v", tt.field, tt.value, err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrConfigType) {
				t.Fatalf("SetValue(%s, %v) = %v, want ErrConfigType", tt.field, tt.value, err)
			}
		})
	}
}

func TestConfigSetValueNotifiesOnChange(t *testing.T) {
	ctx := context.Background()
	c := core.NewRoomConfig(loungeJID)
	var calls [][]string
	c.AddListener(func(_ context.Context, _ *core.RoomConfig, modified []string) error {
		calls = append(calls, modified)
		return nil
	})
	if err := c.SetValue(ctx, core.FieldRoomName, "Lounge"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetValue(ctx, core.FieldRoomName, "Lounge"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || !slices.Equal(calls[0], []string{core.FieldRoomName}) {
		t.Fatalf("listener calls = %v, want one call with roomname", calls)
	}
}

func TestConfigRemoveListener(t *testing.T) {
	ctx := context.Background()
	c := core.NewRoomConfig(loungeJID)
	n := 0
	h := c.AddListener(func(context.Context, *core.RoomConfig, []string) error { n++; return nil })
	c.RemoveListener(h)
	_ = c.SetValue(ctx, core.FieldRoomName, "x")
	if n != 0 {
		t.Errorf("removed listener called %d times", n)
	}
}

func TestConfigAnonymityChange(t *testing.T) {
	ctx := context.Background()
	old := core.NewRoomConfig(loungeJID)
	if err := old.SetValue(ctx, core.FieldPersistent, true); err != nil {
		t.Fatal(err)
	}
	next := old.Clone()
	if err := next.SetValue(ctx, core.FieldAnonymity, "nonanonymous"); err != nil {
		t.Fatal(err)
	}

	diff := next.Diff(old)
	if !slices.Equal(diff, []string{core.FieldAnonymity}) {
		t.Fatalf("Diff() = %v", diff)
	}
	if codes := next.StatusCodes(diff); !slices.Equal(codes, []string{domain.StatusNowNonAnonymous}) {
		t.Fatalf("StatusCodes() = %v, want [172]", codes)
	}
	if codes := next.CompareTo(old); !slices.Equal(codes, []string{domain.StatusNowNonAnonymous}) {
		t.Fatalf("CompareTo() = %v, want [172]", codes)
	}
}

func TestConfigStatusCodes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		field string
		value any
		want  []string
	}{
		{"logging on", core.FieldLogging, true, []string{"170"}},
		{"logging off", core.FieldLogging, false, []string{"171"}},
		{"fully anonymous", core.FieldAnonymity, "fullanonymous", []string{"174"}},
		{"semi anonymous", core.FieldAnonymity, "semianonymous", []string{"173"}},
		{"other field", core.FieldRoomName, "Lounge", []string{"104"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := core.NewRoomConfig(loungeJID)
			if err := c.SetValue(ctx, tt.field, tt.value); err != nil {
				t.Fatal(err)
			}
			if got := c.StatusCodes([]string{tt.field}); !slices.Equal(got, tt.want) {
				t.Errorf("StatusCodes() = %v, want %v", got, tt.want)
			}
		})
	}

	c := core.NewRoomConfig(loungeJID)
	got := c.StatusCodes([]string{core.FieldRoomName, core.FieldRoomDesc, core.FieldLogging})
	if !slices.Equal(got, []string{"104", "171"}) {
		t.Errorf("combined StatusCodes() = %v, want [104 171]", got)
	}
}

func TestConfigDiffIsOneDirectional(t *testing.T) {
	ctx := context.Background()
	a := core.NewRoomConfig(loungeJID)
	b := core.NewRoomConfig(loungeJID)
	if err := a.SetValue(ctx, core.FieldRoomName, "A"); err != nil {
		t.Fatal(err)
	}
	if got := a.Diff(b); !slices.Equal(got, []string{core.FieldRoomName}) {
		t.Errorf("a.Diff(b) = %v", got)
	}
	if got := a.Diff(a.Clone()); len(got) != 0 {
		t.Errorf("Diff against own clone = %v", got)
	}
}

func TestConfigCopyFrom(t *testing.T) {
	ctx := context.Background()
	c := core.NewRoomConfig(loungeJID)
	var seen []string
	c.AddListener(func(_ context.Context, _ *core.RoomConfig, modified []string) error {
		seen = modified
		return nil
	})

	other := c.Clone()
	_ = other.SetValue(ctx, core.FieldModerated, true)
	_ = other.SetValue(ctx, core.FieldLogging, true)

	modified, err := c.CopyFrom(ctx, other, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{core.FieldLogging, core.FieldModerated}
	if !slices.Equal(modified, want) || !slices.Equal(seen, want) {
		t.Fatalf("modified = %v, listener saw %v, want %v", modified, seen, want)
	}
	if !c.IsModerated() || !c.IsLoggingEnabled() {
		t.Error("values were not copied")
	}

	seen = nil
	quiet := other.Clone()
	_ = quiet.SetValue(ctx, core.FieldRoomName, "silent")
	if _, err := c.CopyFrom(ctx, quiet, false); err != nil {
		t.Fatal(err)
	}
	if seen != nil || c.Name() != "silent" {
		t.Errorf("CopyFrom without events: seen=%v name=%q", seen, c.Name())
	}
}

func TestConfigWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	src := core.NewRoomConfig(loungeJID)
	src.Blacklist(core.FieldSecret)
	_ = src.SetValue(ctx, core.FieldRoomName, "Lounge")
	_ = src.SetValue(ctx, core.FieldPersistent, true)
	_ = src.SetValue(ctx, core.FieldAnonymity, "nonanonymous")
	_ = src.SetValue(ctx, core.FieldMaxUsers, 30)
	_ = src.SetValue(ctx, core.FieldPresenceBroadcast, []string{"moderator", "participant"})
	_ = src.SetValue(ctx, core.FieldSecret, "hunter2")

	if err := src.Write(ctx, store, loungeJID); err != nil {
		t.Fatal(err)
	}
	keys, _ := store.Keys(ctx, loungeJID.String())
	if slices.Contains(keys, core.FieldSecret) {
		t.Error("blacklisted field was persisted")
	}
	if slices.Contains(keys, core.FieldRoomDesc) {
		t.Error("empty field was persisted")
	}

	dst := core.NewRoomConfig(loungeJID)
	dst.Blacklist(core.FieldSecret)
	if err := dst.Read(ctx, store, loungeJID); err != nil {
		t.Fatal(err)
	}
	for _, f := range src.Fields() {
		if f.Var == core.FieldSecret {
			continue
		}
		if got := dst.Value(f.Var); !slices.Equal(got, f.Values) {
			t.Errorf("%s = %v, want %v", f.Var, got, f.Values)
		}
	}
	if dst.Secret() != "" {
		t.Errorf("blacklisted secret leaked: %q", dst.Secret())
	}
}

func TestConfigReadMalformedFallsBack(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	node := loungeJID.String()
	_ = store.Put(ctx, node, core.FieldAnonymity, []string{"bogus"})
	_ = store.Put(ctx, node, core.FieldPersistent, []string{"maybe"})
	_ = store.Put(ctx, node, core.FieldMaxUsers, []string{"ten"})
	_ = store.Put(ctx, node, core.FieldRoomName, []string{"a", "b"})

	c := core.NewRoomConfig(loungeJID)
	if err := c.Read(ctx, store, loungeJID); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if c.Anonymity() != domain.SemiAnonymous || c.IsPersistent() || c.Name() != "" {
		t.Errorf("malformed values were not reset: anonymity=%s persistent=%v name=%q",
			c.Anonymity(), c.IsPersistent(), c.Name())
	}
	if _, ok := c.MaxUsers(); ok {
		t.Error("malformed maxusers should reset to unlimited")
	}
}

func TestConfigListenerFailuresAreJoined(t *testing.T) {
	ctx := context.Background()
	c := core.NewRoomConfig(loungeJID)
	errA := errors.New("a failed")
	called := 0
	c.AddListener(func(context.Context, *core.RoomConfig, []string) error { return errA })
	c.AddListener(func(context.Context, *core.RoomConfig, []string) error { panic("boom") })
	c.AddListener(func(context.Context, *core.RoomConfig, []string) error { called++; return nil })

	err := c.SetValue(ctx, core.FieldModerated, true)
	var le *core.ListenerError
	if !errors.As(err, &le) {
		t.Fatalf("SetValue() = %v, want *ListenerError", err)
	}
	if !errors.Is(err, errA) {
		t.Errorf("joined error lost %v", errA)
	}
	if called != 1 {
		t.Errorf("later listener called %d times, want 1", called)
	}
	if !c.IsModerated() {
		t.Error("value must stay applied after listener failure")
	}
}

func TestAffiliationCanViewJID(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		anonymity string
		aff       domain.Affiliation
		want      bool
	}{
		{"nonanonymous", domain.AffiliationNone, true},
		{"nonanonymous", domain.AffiliationOutcast, false},
		{"semianonymous", domain.AffiliationMember, false},
		{"semianonymous", domain.AffiliationAdmin, true},
		{"fullanonymous", domain.AffiliationOwner, false},
	}
	for _, tt := range tests {
		c := core.NewRoomConfig(loungeJID)
		_ = c.SetValue(ctx, core.FieldAnonymity, tt.anonymity)
		if got := c.AffiliationCanViewJID(tt.aff); got != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.anonymity, tt.aff, got, tt.want)
		}
	}
}
