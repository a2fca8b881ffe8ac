package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/domain"
)

// ConfigPrefix namespaces every room configuration field.
const ConfigPrefix = "muc#roomconfig_"

const (
	FieldRoomName          = ConfigPrefix + "roomname"
	FieldRoomDesc          = ConfigPrefix + "roomdesc"
	FieldPersistent        = ConfigPrefix + "persistentroom"
	FieldModerated         = ConfigPrefix + "moderatedroom"
	FieldMembersOnly       = ConfigPrefix + "membersonly"
	FieldPublic            = ConfigPrefix + "publicroom"
	FieldChangeSubject     = ConfigPrefix + "changesubject"
	FieldLogging           = ConfigPrefix + "enablelogging"
	FieldAnonymity         = ConfigPrefix + "anonymity"
	FieldMaxUsers          = ConfigPrefix + "maxusers"
	FieldPasswordProtected = ConfigPrefix + "passwordprotectedroom"
	FieldSecret            = ConfigPrefix + "roomsecret"
	FieldPresenceBroadcast = ConfigPrefix + "presencebroadcast"
)

type FieldType uint8

const (
	FieldBoolean FieldType = iota
	FieldTextSingle
	FieldTextPrivate
	FieldListSingle
	FieldListMulti
)

func (t FieldType) String() string {
	switch t {
	case FieldBoolean:
		return "boolean"
	case FieldTextPrivate:
		return "text-private"
	case FieldListSingle:
		return "list-single"
	case FieldListMulti:
		return "list-multi"
	default:
		return "text-single"
	}
}

func (t FieldType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t FieldType) multi() bool { return t == FieldListMulti }

// Field is one typed entry of the configuration form.
type Field struct {
	Var     string    `json:"var"`
	Type    FieldType `json:"type"`
	Label   string    `json:"label,omitempty"`
	Options []string  `json:"options,omitempty"`
	Values  []string  `json:"values"`

	def []string
}

func (f *Field) clone() Field {
	return Field{
		Var:     f.Var,
		Type:    f.Type,
		Label:   f.Label,
		Options: slices.Clone(f.Options),
		Values:  slices.Clone(f.Values),
		def:     f.def,
	}
}

func defaultFields() []*Field {
	roles := []string{domain.RoleModerator.String(), domain.RoleParticipant.String(), domain.RoleVisitor.String()}
	return []*Field{
		{Var: FieldRoomName, Type: FieldTextSingle, Label: "Natural-Language Room Name"},
		{Var: FieldRoomDesc, Type: FieldTextSingle, Label: "Short Description of Room"},
		{Var: FieldPersistent, Type: FieldBoolean, Label: "Make Room Persistent?", def: []string{"0"}},
		{Var: FieldModerated, Type: FieldBoolean, Label: "Make Room Moderated?", def: []string{"0"}},
		{Var: FieldMembersOnly, Type: FieldBoolean, Label: "Make Room Members Only?", def: []string{"0"}},
		{Var: FieldPublic, Type: FieldBoolean, Label: "Make Room Publicly Searchable?", def: []string{"1"}},
		{Var: FieldChangeSubject, Type: FieldBoolean, Label: "Allow Occupants to Change Subject?", def: []string{"0"}},
		{Var: FieldLogging, Type: FieldBoolean, Label: "Enable Public Logging?", def: []string{"0"}},
		{
			Var: FieldAnonymity, Type: FieldListSingle, Label: "Room anonymity level:",
			Options: []string{domain.NonAnonymous.String(), domain.SemiAnonymous.String(), domain.FullyAnonymous.String()},
			def:     []string{domain.SemiAnonymous.String()},
		},
		{Var: FieldMaxUsers, Type: FieldTextSingle, Label: "Maximum Number of Occupants"},
		{Var: FieldPasswordProtected, Type: FieldBoolean, Label: "Password Required to Enter?", def: []string{"0"}},
		{Var: FieldSecret, Type: FieldTextPrivate, Label: "Password"},
		{
			Var: FieldPresenceBroadcast, Type: FieldListMulti, Label: "Roles for which Presence is Broadcast",
			Options: roles, def: roles,
		},
	}
}

// ConfigListener observes field changes. modified is sorted.
type ConfigListener func(ctx context.Context, cfg *RoomConfig, modified []string) error

// ConfigStore is the key/value contract used to persist configuration,
// one field per key under a node.
type ConfigStore interface {
	Keys(ctx context.Context, node string) ([]string, error)
	Get(ctx context.Context, node, key string) ([]string, error)
	Put(ctx context.Context, node, key string, values []string) error
	Remove(ctx context.Context, node, key string) error
}

// RoomConfig is the form-backed configuration document owned by one room.
type RoomConfig struct {
	roomID jid.JID

	mu        sync.RWMutex
	fields    []*Field
	index     map[string]*Field
	blacklist map[string]struct{}

	listeners subscriptions[ConfigListener]
}

func NewRoomConfig(roomID jid.JID) *RoomConfig {
	c := &RoomConfig{
		roomID:    roomID,
		fields:    defaultFields(),
		index:     make(map[string]*Field),
		blacklist: make(map[string]struct{}),
	}
	for _, f := range c.fields {
		f.Values = slices.Clone(f.def)
		c.index[f.Var] = f
	}
	return c
}

func (c *RoomConfig) RoomID() jid.JID { return c.roomID }

// Clone deep-copies values and blacklist; listeners are not carried over.
func (c *RoomConfig) Clone() *RoomConfig {
	return c.CloneFor(c.roomID)
}

// CloneFor copies the configuration for another room identity.
func (c *RoomConfig) CloneFor(roomID jid.JID) *RoomConfig {
	rc := NewRoomConfig(roomID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k := range c.blacklist {
		rc.blacklist[k] = struct{}{}
	}
	for _, f := range c.fields {
		if mine, ok := rc.index[f.Var]; ok {
			mine.Values = slices.Clone(f.Values)
		}
	}
	return rc
}

// Blacklist excludes fields from persistence.
func (c *RoomConfig) Blacklist(vars ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vars {
		c.blacklist[v] = struct{}{}
	}
}

func (c *RoomConfig) IsBlacklisted(v string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blacklist[v]
	return ok
}

func (c *RoomConfig) AddListener(l ConfigListener) ListenerHandle {
	return c.listeners.add(l)
}

func (c *RoomConfig) RemoveListener(h ListenerHandle) {
	c.listeners.remove(h)
}

// Fields returns a snapshot of the form in declaration order.
func (c *RoomConfig) Fields() []Field {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Field, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, f.clone())
	}
	return out
}

// Value returns a copy of the field values, nil for unknown fields.
func (c *RoomConfig) Value(name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.index[name]; ok {
		return slices.Clone(f.Values)
	}
	return nil
}

// SetValue performs a typed write and notifies listeners if the value changed.
// Unknown fields are ignored.
func (c *RoomConfig) SetValue(ctx context.Context, name string, value any) error {
	c.mu.Lock()
	f, ok := c.index[name]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	before := slices.Clone(f.Values)
	err := setFieldValue(f, value)
	changed := err == nil && !slices.Equal(before, f.Values)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return c.fire(ctx, []string{name})
}

func setFieldValue(f *Field, value any) error {
	switch v := value.(type) {
	case nil:
		f.Values = nil
	case string:
		if f.Type == FieldBoolean && v != "0" && v != "1" {
			return fmt.Errorf("%w: boolean field %s accepts only \"0\" or \"1\", got %q", domain.ErrConfigType, f.Var, v)
		}
		f.Values = []string{v}
	case bool:
		if f.Type != FieldBoolean {
			return fmt.Errorf("%w: cannot assign bool to %s field %s", domain.ErrConfigType, f.Type, f.Var)
		}
		if v {
			f.Values = []string{"1"}
		} else {
			f.Values = []string{"0"}
		}
	case int:
		if f.Type != FieldTextSingle && f.Type != FieldListSingle {
			return fmt.Errorf("%w: cannot assign int to %s field %s", domain.ErrConfigType, f.Type, f.Var)
		}
		f.Values = []string{strconv.Itoa(v)}
	case []string:
		if !f.Type.multi() {
			return fmt.Errorf("%w: cannot assign list to %s field %s", domain.ErrConfigType, f.Type, f.Var)
		}
		f.Values = slices.Clone(v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s field %s", domain.ErrConfigType, value, f.Type, f.Var)
	}
	return nil
}

// setFieldValues maps a persisted value list onto the typed setter.
func setFieldValues(f *Field, values []string) error {
	switch len(values) {
	case 0:
		return setFieldValue(f, nil)
	case 1:
		return setFieldValue(f, values[0])
	default:
		return setFieldValue(f, values)
	}
}

// Diff lists the fields declared by other whose values differ from ours.
// Fields only present in c are not compared.
func (c *RoomConfig) Diff(other *RoomConfig) []string {
	theirs := other.Fields()

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, of := range theirs {
		mine, ok := c.index[of.Var]
		if !ok || !slices.Equal(mine.Values, of.Values) {
			out = append(out, of.Var)
		}
	}
	slices.Sort(out)
	return out
}

// CopyFrom replaces every shared field value with other's. When fireEvents
// is set the modified fields are computed first and listeners notified.
func (c *RoomConfig) CopyFrom(ctx context.Context, other *RoomConfig, fireEvents bool) ([]string, error) {
	var modified []string
	if fireEvents {
		modified = c.Diff(other)
	}
	theirs := other.Fields()

	c.mu.Lock()
	for _, of := range theirs {
		if mine, ok := c.index[of.Var]; ok {
			mine.Values = slices.Clone(of.Values)
		}
	}
	c.mu.Unlock()

	if len(modified) == 0 {
		return nil, nil
	}
	return modified, c.fire(ctx, modified)
}

// StatusCodes maps modified fields to notification status codes using the
// current (new) values.
func (c *RoomConfig) StatusCodes(modified []string) []string {
	var out []string
	for _, v := range modified {
		var code string
		switch v {
		case FieldAnonymity:
			switch c.Anonymity() {
			case domain.NonAnonymous:
				code = domain.StatusNowNonAnonymous
			case domain.FullyAnonymous:
				code = domain.StatusNowFullyAnonymous
			default:
				code = domain.StatusNowSemiAnonymous
			}
		case FieldLogging:
			if c.IsLoggingEnabled() {
				code = domain.StatusLoggingEnabled
			} else {
				code = domain.StatusLoggingDisabled
			}
		default:
			code = domain.StatusConfigChanged
		}
		if !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out
}

// CompareTo returns the status codes describing the change from old to c.
func (c *RoomConfig) CompareTo(old *RoomConfig) []string {
	return c.StatusCodes(c.Diff(old))
}

// Read loads every stored, non-blacklisted field. Malformed values fall back
// to the field default and are logged.
func (c *RoomConfig) Read(ctx context.Context, store ConfigStore, id jid.JID) error {
	node := id.String()
	keys, err := store.Keys(ctx, node)
	if err != nil {
		return fmt.Errorf("read config keys %s: %w", node, err)
	}
	for _, key := range keys {
		if c.IsBlacklisted(key) {
			continue
		}
		values, err := store.Get(ctx, node, key)
		if err != nil {
			return fmt.Errorf("read config %s/%s: %w", node, key, err)
		}
		c.mu.Lock()
		f, ok := c.index[key]
		if ok {
			if err := loadField(f, values); err != nil {
				log.Warn().Str("module", "core.config").Str("room", node).Str("field", key).
					Strs("values", values).Err(err).Msg("malformed persisted value, using default")
				f.Values = slices.Clone(f.def)
			}
		}
		c.mu.Unlock()
	}
	return nil
}

func loadField(f *Field, values []string) error {
	if err := setFieldValues(f, values); err != nil {
		return err
	}
	if len(f.Values) == 0 {
		return nil
	}
	switch {
	case f.Type == FieldListSingle && len(f.Options) > 0 && !slices.Contains(f.Options, f.Values[0]):
		return fmt.Errorf("%w: %q is not an option of %s", domain.ErrConfigType, f.Values[0], f.Var)
	case f.Var == FieldMaxUsers && f.Values[0] != "":
		if _, err := strconv.Atoi(f.Values[0]); err != nil {
			return fmt.Errorf("%w: %s", domain.ErrConfigType, err)
		}
	}
	return nil
}

// Write stores every non-blacklisted field; empty fields are removed.
func (c *RoomConfig) Write(ctx context.Context, store ConfigStore, id jid.JID) error {
	node := id.String()
	c.mu.RLock()
	snapshot := make([]Field, 0, len(c.fields))
	for _, f := range c.fields {
		if _, skip := c.blacklist[f.Var]; !skip {
			snapshot = append(snapshot, f.clone())
		}
	}
	c.mu.RUnlock()

	for _, f := range snapshot {
		var err error
		if len(f.Values) == 0 {
			err = store.Remove(ctx, node, f.Var)
		} else {
			err = store.Put(ctx, node, f.Var, f.Values)
		}
		if err != nil {
			return fmt.Errorf("write config %s/%s: %w", node, f.Var, err)
		}
	}
	return nil
}

func (c *RoomConfig) fire(ctx context.Context, modified []string) error {
	return c.listeners.notify("config", func(l ConfigListener) error {
		return l(ctx, c, modified)
	})
}

func (c *RoomConfig) first(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.index[name]; ok && len(f.Values) > 0 {
		return f.Values[0]
	}
	return ""
}

func (c *RoomConfig) flag(name string) bool {
	v := c.first(name)
	return v == "1" || v == "true"
}

func (c *RoomConfig) Name() string              { return c.first(FieldRoomName) }
func (c *RoomConfig) Description() string       { return c.first(FieldRoomDesc) }
func (c *RoomConfig) IsPersistent() bool        { return c.flag(FieldPersistent) }
func (c *RoomConfig) IsModerated() bool         { return c.flag(FieldModerated) }
func (c *RoomConfig) IsMembersOnly() bool       { return c.flag(FieldMembersOnly) }
func (c *RoomConfig) IsPublic() bool            { return c.flag(FieldPublic) }
func (c *RoomConfig) CanChangeSubject() bool    { return c.flag(FieldChangeSubject) }
func (c *RoomConfig) IsLoggingEnabled() bool    { return c.flag(FieldLogging) }
func (c *RoomConfig) IsPasswordProtected() bool { return c.flag(FieldPasswordProtected) }
func (c *RoomConfig) Secret() string            { return c.first(FieldSecret) }

// Anonymity defaults to semi-anonymous when unset or unparsable.
func (c *RoomConfig) Anonymity() domain.Anonymity {
	a, _ := domain.ParseAnonymity(c.first(FieldAnonymity))
	return a
}

// MaxUsers reports the occupant cap; ok is false when unlimited.
func (c *RoomConfig) MaxUsers() (n int, ok bool) {
	n, err := strconv.Atoi(c.first(FieldMaxUsers))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// PresenceBroadcast lists the roles whose presence reaches other occupants.
func (c *RoomConfig) PresenceBroadcast() []domain.Role {
	var out []domain.Role
	for _, v := range c.Value(FieldPresenceBroadcast) {
		if r, err := domain.ParseRole(v); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// AffiliationCanViewJID reports whether holders of a see real JIDs.
func (c *RoomConfig) AffiliationCanViewJID(a domain.Affiliation) bool {
	switch c.Anonymity() {
	case domain.NonAnonymous:
		return a != domain.AffiliationOutcast
	case domain.SemiAnonymous:
		return a.Capabilities().SeesRealJIDs
	default:
		return false
	}
}
