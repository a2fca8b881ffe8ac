package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/domain"
)

// Options tune a room's broadcast behaviour and collaborators.
type Options struct {
	Mode      BroadcastMode
	MultiItem bool
	// HistoryReplay is how many recent messages a joiner receives.
	HistoryReplay int
	History       HistoryProvider
	Sessions      SessionIndex
	Now           func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// JoinRequest carries the optional parts of a join presence.
type JoinRequest struct {
	Password string
	Show     string
	Status   string
}

// Room is the state machine of one chat room. Mutations are serialized by
// opMu, which stays held while listeners run; stateMu guards the tables so
// listeners may still read the room.
type Room struct {
	id      jid.JID
	cfg     *RoomConfig
	opts    Options
	created time.Time
	creator string

	opMu sync.Mutex

	stateMu      sync.RWMutex
	storeID      string
	subject      domain.Subject
	occupants    map[string]*domain.Occupant
	byJID        map[string]string
	affiliations map[string]domain.Affiliation
	fresh        bool
	closed       bool

	listeners subscriptions[RoomListener]
}

// NewRoom creates a fresh room; the creator becomes its owner.
func NewRoom(id jid.JID, cfg *RoomConfig, creator jid.JID, opts Options) *Room {
	r := newRoom(id, cfg, opts)
	r.created = opts.now()
	r.creator = creator.Bare().String()
	r.fresh = true
	if r.creator != "" {
		r.affiliations[r.creator] = domain.AffiliationOwner
	}
	return r
}

// NewRoomFromRecord restores a persisted room.
func NewRoomFromRecord(rec RoomRecord, opts Options) *Room {
	cfg := rec.Config
	if cfg == nil {
		cfg = NewRoomConfig(rec.ID)
	}
	r := newRoom(rec.ID, cfg, opts)
	r.created = rec.Created
	r.creator = rec.Creator
	r.storeID = rec.StoreID
	r.subject = rec.Subject
	for bare, a := range rec.Affiliations {
		if a != domain.AffiliationNone {
			r.affiliations[bare] = a
		}
	}
	return r
}

func newRoom(id jid.JID, cfg *RoomConfig, opts Options) *Room {
	r := &Room{
		id:           id.Bare(),
		cfg:          cfg,
		opts:         opts,
		occupants:    make(map[string]*domain.Occupant),
		byJID:        make(map[string]string),
		affiliations: make(map[string]domain.Affiliation),
	}
	cfg.AddListener(r.onConfigChange)
	return r
}

func (r *Room) ID() jid.JID             { return r.id }
func (r *Room) Config() *RoomConfig     { return r.cfg }
func (r *Room) CreationDate() time.Time { return r.created }
func (r *Room) Creator() string         { return r.creator }
func (r *Room) Mode() BroadcastMode     { return r.opts.Mode }

func (r *Room) AddListener(l RoomListener) ListenerHandle { return r.listeners.add(l) }
func (r *Room) RemoveListener(h ListenerHandle)           { r.listeners.remove(h) }

func (r *Room) StoreID() string {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.storeID
}

func (r *Room) SetStoreID(id string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.storeID = id
}

func (r *Room) Subject() domain.Subject {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.subject
}

func (r *Room) IsClosed() bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.closed
}

func (r *Room) OccupantCount() int {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return len(r.occupants)
}

// Affiliation returns the affiliation of a bare JID, none when unknown.
func (r *Room) Affiliation(bare string) domain.Affiliation {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.affiliations[bare]
}

func (r *Room) Affiliations() map[string]domain.Affiliation {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return maps.Clone(r.affiliations)
}

// NickOf resolves the nickname bound to a real full JID.
func (r *Room) NickOf(full jid.JID) (string, bool) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	nick, ok := r.byJID[full.String()]
	return nick, ok
}

// Role returns the current role of a nickname, none when absent.
func (r *Room) Role(nick string) domain.Role {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if o, ok := r.occupants[nick]; ok {
		return o.Role
	}
	return domain.RoleNone
}

func (r *Room) Occupants() []OccupantInfo {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	out := make([]OccupantInfo, 0, len(r.occupants))
	for _, o := range r.occupants {
		out = append(out, OccupantInfo{
			Nick:        o.Nick,
			Role:        o.Role,
			Affiliation: r.affiliations[bareOf(firstJID(o))],
			Sessions:    len(o.JIDs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// Record snapshots the room for persistence.
func (r *Room) Record() RoomRecord {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return RoomRecord{
		ID:           r.id,
		StoreID:      r.storeID,
		Config:       r.cfg,
		Created:      r.created,
		Creator:      r.creator,
		Subject:      r.subject,
		Affiliations: maps.Clone(r.affiliations),
	}
}

// Join binds a real JID to a nickname. A presence from an already joined
// JID under the same nickname is treated as a status update.
func (r *Room) Join(ctx context.Context, full jid.JID, nick string, req JoinRequest) ([]Stanza, error) {
	if err := domain.ValidateNick(nick); err != nil {
		return nil, err
	}
	key := full.String()
	bare := full.Bare().String()

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return nil, domain.ErrRoomClosed
	}

	if current, ok := r.byJID[key]; ok {
		defer r.stateMu.Unlock()
		if current != nick {
			return nil, fmt.Errorf("%w: %s is already in the room as %q", domain.ErrConflict, key, current)
		}
		o := r.occupants[nick]
		o.Show, o.Status = req.Show, req.Status
		return r.broadcastLocked(presenceEvent{subject: r.viewLocked(o)}), nil
	}

	if err := r.admitLocked(bare, nick, req); err != nil {
		r.stateMu.Unlock()
		log.Debug().Str("module", "core.room").Str("room", r.id.String()).Str("jid", key).
			Str("nick", nick).Err(err).Msg("join rejected")
		return nil, err
	}

	aff := r.affiliations[bare]
	o, ok := r.occupants[nick]
	if !ok {
		o = domain.NewOccupant(nick, key)
		o.Role = domain.DefaultRole(aff, r.cfg.IsModerated())
		r.occupants[nick] = o
	} else {
		o.AddJID(key)
	}
	o.Show, o.Status = req.Show, req.Status
	r.byJID[key] = nick

	var selfCodes []string
	if r.fresh {
		selfCodes = append(selfCodes, domain.StatusRoomCreated)
		r.fresh = false
	}
	if r.cfg.Anonymity() == domain.NonAnonymous {
		selfCodes = append(selfCodes, domain.StatusNonAnonymous)
	}
	joiner := r.viewLocked(o)

	out := r.rosterLocked(joiner, key)
	ev := presenceEvent{subject: joiner, selfCodes: selfCodes}
	if r.opts.Mode == NoBroadcast {
		ev.subject.jids = []string{key}
	}
	out = append(out, r.broadcastLocked(ev)...)
	if r.opts.Mode == StandardBroadcast {
		out = append(out, r.backlogLocked(ctx, key)...)
	}
	count := len(r.occupants)
	r.stateMu.Unlock()

	if r.opts.Sessions != nil {
		r.opts.Sessions.Add(key, r.id, nick)
	}
	if r.opts.History != nil && r.cfg.IsLoggingEnabled() {
		r.opts.History.AddJoinEvent(ctx, r.id, r.opts.now(), nick)
	}
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Str("jid", key).Str("nick", nick).
		Str("role", joiner.role.String()).Int("occupants", count).Msg("occupant joined")
	return out, nil
}

// admitLocked applies the entry checks in protocol order.
func (r *Room) admitLocked(bare, nick string, req JoinRequest) error {
	aff := r.affiliations[bare]
	if aff == domain.AffiliationOutcast {
		return fmt.Errorf("%w: %s is banned", domain.ErrForbidden, bare)
	}
	existing, taken := r.occupants[nick]
	if taken {
		if bareOf(firstJID(existing)) != bare {
			return fmt.Errorf("%w: nickname %q is in use", domain.ErrNotAcceptable, nick)
		}
		if !r.opts.MultiItem {
			return fmt.Errorf("%w: nickname %q already has a session", domain.ErrConflict, nick)
		}
	}
	if r.cfg.IsMembersOnly() && aff.Weight() < domain.AffiliationMember.Weight() {
		return fmt.Errorf("%w: room is members-only", domain.ErrRegistrationRequired)
	}
	if r.cfg.IsPasswordProtected() && aff != domain.AffiliationOwner && req.Password != r.cfg.Secret() {
		return fmt.Errorf("%w: password required", domain.ErrNotAuthorized)
	}
	if max, ok := r.cfg.MaxUsers(); ok && !taken && len(r.occupants) >= max &&
		aff.Weight() < domain.AffiliationAdmin.Weight() {
		return fmt.Errorf("%w: room is full", domain.ErrServiceUnavailable)
	}
	return nil
}

// backlogLocked replays recent history and the current subject to a joiner.
func (r *Room) backlogLocked(ctx context.Context, to string) []Stanza {
	var out []Stanza
	if r.opts.History != nil && r.opts.HistoryReplay > 0 {
		for _, h := range r.opts.History.Recent(ctx, r.id, r.opts.HistoryReplay) {
			if h.Body == "" {
				continue
			}
			at := h.At
			out = append(out, Message{From: r.occupantAddress(h.Nick), To: to, Type: stanza.GroupChatMessage, Body: h.Body, Delay: &at})
		}
	}
	if r.subject.Text != "" {
		text := r.subject.Text
		out = append(out, Message{From: r.occupantAddress(r.subject.Nick), To: to, Type: stanza.GroupChatMessage, Subject: &text})
	}
	return out
}

// Leave removes one real JID from the room.
func (r *Room) Leave(ctx context.Context, full jid.JID) ([]Stanza, error) {
	key := full.String()

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	nick, ok := r.byJID[key]
	if !ok {
		r.stateMu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrOccupantNotFound, key)
	}
	o := r.occupants[nick]
	leaving := r.viewLocked(o)
	leaving.jids = []string{key}

	delete(r.byJID, key)
	gone := o.RemoveJID(key)
	var out []Stanza
	if gone {
		delete(r.occupants, nick)
		out = r.broadcastLocked(presenceEvent{subject: leaving, unavailable: true})
	} else {
		// other sessions keep the nickname present
		out = r.presenceStanzas(presenceEvent{subject: leaving, unavailable: true}, key, true, true)
	}
	remaining := len(r.occupants)
	r.stateMu.Unlock()

	if r.opts.Sessions != nil {
		r.opts.Sessions.Remove(key, r.id)
	}
	if r.opts.History != nil && gone && r.cfg.IsLoggingEnabled() {
		r.opts.History.AddLeaveEvent(ctx, r.id, r.opts.now(), nick)
	}
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Str("jid", key).Str("nick", nick).
		Int("occupants", remaining).Msg("occupant left")

	if remaining > 0 {
		return out, nil
	}
	return out, r.emptied(ctx)
}

// emptied runs once the occupant table drains. Non-persistent rooms close
// and drop their history.
func (r *Room) emptied(ctx context.Context) error {
	persistent := r.cfg.IsPersistent()
	if !persistent {
		r.stateMu.Lock()
		r.closed = true
		r.stateMu.Unlock()
		if r.opts.History != nil {
			r.opts.History.RemoveHistory(ctx, r.id)
		}
	}
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Bool("persistent", persistent).Msg("room empty")
	return r.listeners.notify("room empty", func(l RoomListener) error {
		return l.OnRoomEmpty(ctx, r)
	})
}

// ChangeAffiliation sets the affiliation of a bare JID on behalf of actor
// and re-evaluates every session bound to it.
func (r *Room) ChangeAffiliation(ctx context.Context, actor, target jid.JID, next domain.Affiliation, reason string) ([]Stanza, error) {
	actorBare := actor.Bare().String()
	targetBare := target.Bare().String()

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return nil, domain.ErrRoomClosed
	}
	actorAff := r.affiliations[actorBare]
	current := r.affiliations[targetBare]
	if err := r.checkAffiliationChangeLocked(actorBare, targetBare, actorAff, current, next); err != nil {
		r.stateMu.Unlock()
		log.Warn().Str("module", "core.room").Str("room", r.id.String()).Str("actor", actorBare).
			Str("target", targetBare).Str("affiliation", next.String()).Err(err).Msg("affiliation change rejected")
		return nil, err
	}
	if current == next {
		r.stateMu.Unlock()
		return nil, nil
	}
	if next == domain.AffiliationNone {
		delete(r.affiliations, targetBare)
	} else {
		r.affiliations[targetBare] = next
	}

	actorNick := r.nickOfBareLocked(actorBare)
	var out []Stanza
	var removed []string
	for _, o := range r.occupantsOfLocked(targetBare) {
		switch {
		case next == domain.AffiliationOutcast:
			out = append(out, r.evictLocked(o, domain.StatusBanned, actorNick, reason)...)
			removed = append(removed, o.JIDs...)
		case r.cfg.IsMembersOnly() && next.Weight() < domain.AffiliationMember.Weight():
			out = append(out, r.evictLocked(o, domain.StatusMembersOnly, actorNick, reason)...)
			removed = append(removed, o.JIDs...)
		default:
			o.Role = domain.EffectiveRole(next, r.cfg.IsModerated(), o.Voice)
			ev := presenceEvent{subject: r.viewLocked(o), actor: actorNick, reason: reason}
			out = append(out, r.broadcastLocked(ev)...)
		}
	}
	remaining := len(r.occupants)
	r.stateMu.Unlock()

	r.forgetSessions(removed)
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Str("actor", actorBare).
		Str("target", targetBare).Str("from", current.String()).Str("to", next.String()).Msg("affiliation changed")

	err := r.listeners.notify("set affiliation", func(l RoomListener) error {
		return l.OnSetAffiliation(ctx, r, targetBare, next)
	})
	if len(removed) > 0 && remaining == 0 {
		err = joinListenerErrors("set affiliation", err, r.emptied(ctx))
	}
	return out, err
}

func (r *Room) checkAffiliationChangeLocked(actorBare, targetBare string, actorAff, current, next domain.Affiliation) error {
	if !actorAff.CanChangeAffiliation(current, next) {
		return fmt.Errorf("%w: %s may not change %s from %s to %s", domain.ErrForbidden, actorAff, targetBare, current, next)
	}
	if actorBare == targetBare && next.Weight() > actorAff.Weight() {
		return fmt.Errorf("%w: self elevation", domain.ErrForbidden)
	}
	if current == domain.AffiliationOwner && next != domain.AffiliationOwner && r.ownerCountLocked() == 1 {
		return fmt.Errorf("%w: room must keep an owner", domain.ErrConflict)
	}
	return nil
}

func (r *Room) ownerCountLocked() int {
	n := 0
	for _, a := range r.affiliations {
		if a == domain.AffiliationOwner {
			n++
		}
	}
	return n
}

// ChangeRole sets the session role of a nickname. Role none kicks.
func (r *Room) ChangeRole(ctx context.Context, actor jid.JID, targetNick string, next domain.Role, reason string) ([]Stanza, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	actorNick, ok := r.byJID[actor.String()]
	if !ok {
		r.stateMu.Unlock()
		return nil, fmt.Errorf("%w: %s is not an occupant", domain.ErrForbidden, actor)
	}
	actorOcc := r.occupants[actorNick]
	target, ok := r.occupants[targetNick]
	if !ok {
		r.stateMu.Unlock()
		return nil, fmt.Errorf("%w: %q", domain.ErrOccupantNotFound, targetNick)
	}
	actorAff := r.affiliations[actor.Bare().String()]
	targetAff := r.affiliations[bareOf(firstJID(target))]

	var err error
	switch {
	case actorOcc.Role != domain.RoleModerator:
		err = fmt.Errorf("%w: only moderators change roles", domain.ErrForbidden)
	case targetAff.Weight() >= domain.AffiliationAdmin.Weight() && next != domain.RoleModerator:
		err = fmt.Errorf("%w: %s %q keeps moderator role", domain.ErrForbidden, targetAff, targetNick)
	case next == domain.RoleModerator && actorAff.Weight() < domain.AffiliationAdmin.Weight():
		err = fmt.Errorf("%w: only admins grant moderator", domain.ErrForbidden)
	}
	if err != nil {
		r.stateMu.Unlock()
		return nil, err
	}

	var out []Stanza
	var removed []string
	if next == domain.RoleNone {
		removed = slices.Clone(target.JIDs)
		out = r.evictLocked(target, domain.StatusKicked, actorNick, reason)
	} else {
		target.Role = next
		target.Voice = next != domain.RoleVisitor
		out = r.broadcastLocked(presenceEvent{subject: r.viewLocked(target), actor: actorNick, reason: reason})
	}
	remaining := len(r.occupants)
	r.stateMu.Unlock()

	r.forgetSessions(removed)
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Str("actor", actorNick).
		Str("target", targetNick).Str("role", next.String()).Msg("role changed")
	if len(removed) > 0 && remaining == 0 {
		return out, r.emptied(ctx)
	}
	return out, nil
}

// ChangeSubject replaces the room subject.
func (r *Room) ChangeSubject(ctx context.Context, actor jid.JID, text string) ([]Stanza, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	nick, ok := r.byJID[actor.String()]
	if !ok {
		r.stateMu.Unlock()
		return nil, fmt.Errorf("%w: %s is not an occupant", domain.ErrForbidden, actor)
	}
	if !r.cfg.CanChangeSubject() && r.occupants[nick].Role != domain.RoleModerator {
		r.stateMu.Unlock()
		return nil, fmt.Errorf("%w: subject is restricted to moderators", domain.ErrForbidden)
	}
	subject := domain.Subject{Text: text, Nick: nick, Changed: r.opts.now()}
	r.subject = subject
	from := r.occupantAddress(nick)
	build := func(to string) Stanza {
		s := text
		return Message{From: from, To: to, Type: stanza.GroupChatMessage, Subject: &s}
	}
	var out []Stanza
	if r.opts.Mode == NoBroadcast {
		out = []Stanza{build(actor.String())}
	} else {
		out = r.fanoutLocked(build)
	}
	r.stateMu.Unlock()

	if r.opts.History != nil {
		r.opts.History.AddSubjectChange(ctx, r.id, subject.Changed, nick, text)
	}
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Str("nick", nick).Msg("subject changed")
	return out, r.listeners.notify("change subject", func(l RoomListener) error {
		return l.OnChangeSubject(ctx, r, subject)
	})
}

// SendMessage fans a groupchat body out to every occupant.
func (r *Room) SendMessage(ctx context.Context, actor jid.JID, body string) ([]Stanza, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.RLock()
	nick, ok := r.byJID[actor.String()]
	if !ok {
		r.stateMu.RUnlock()
		return nil, fmt.Errorf("%w: %s is not an occupant", domain.ErrNotAcceptable, actor)
	}
	if r.cfg.IsModerated() && r.occupants[nick].Role == domain.RoleVisitor {
		r.stateMu.RUnlock()
		return nil, fmt.Errorf("%w: visitors have no voice", domain.ErrForbidden)
	}
	from := r.occupantAddress(nick)
	out := r.fanoutLocked(func(to string) Stanza {
		return Message{From: from, To: to, Type: stanza.GroupChatMessage, Body: body}
	})
	r.stateMu.RUnlock()

	if r.opts.History != nil {
		r.opts.History.AddMessage(ctx, r.id, r.opts.now(), nick, body)
	}
	log.Debug().Str("module", "core.room").Str("room", r.id.String()).Str("nick", nick).Int("recipients", len(out)).Msg("groupchat message")
	return out, nil
}

// PrivateMessage routes a chat message to every real JID of a nickname.
func (r *Room) PrivateMessage(ctx context.Context, actor jid.JID, toNick, body string) ([]Stanza, error) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	nick, ok := r.byJID[actor.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an occupant", domain.ErrNotAcceptable, actor)
	}
	target, ok := r.occupants[toNick]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrOccupantNotFound, toNick)
	}
	from := r.occupantAddress(nick)
	out := make([]Stanza, 0, len(target.JIDs))
	for _, to := range target.JIDs {
		out = append(out, Message{From: from, To: to, Type: stanza.ChatMessage, Body: body})
	}
	return out, nil
}

// ChangeConfig applies a submitted configuration. Owners only.
func (r *Room) ChangeConfig(ctx context.Context, actor jid.JID, next *RoomConfig) ([]Stanza, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if a := r.Affiliation(actor.Bare().String()); !a.Capabilities().CanEditConfig {
		return nil, fmt.Errorf("%w: %s may not configure the room", domain.ErrForbidden, a)
	}
	if r.IsClosed() {
		return nil, domain.ErrRoomClosed
	}
	modified, lerr := r.cfg.CopyFrom(ctx, next, true)
	codes := r.cfg.StatusCodes(modified)

	var out []Stanza
	if len(codes) > 0 {
		from := r.id.String()
		r.stateMu.RLock()
		out = r.fanoutLocked(func(to string) Stanza {
			return Message{From: from, To: to, Type: stanza.GroupChatMessage, Codes: codes}
		})
		r.stateMu.RUnlock()
	}
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Str("actor", actor.Bare().String()).
		Strs("modified", modified).Strs("codes", codes).Msg("configuration changed")
	return out, lerr
}

// Destroy evicts every occupant and closes the room. Owners only.
func (r *Room) Destroy(ctx context.Context, actor jid.JID, reason string) ([]Stanza, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	if a := r.affiliations[actor.Bare().String()]; !a.Capabilities().CanDestroy {
		r.stateMu.Unlock()
		return nil, fmt.Errorf("%w: %s may not destroy the room", domain.ErrForbidden, a)
	}
	var out []Stanza
	var removed []string
	nicks := make([]string, 0, len(r.occupants))
	for nick := range r.occupants {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)
	for _, nick := range nicks {
		o := r.occupants[nick]
		ev := presenceEvent{subject: r.viewLocked(o), unavailable: true, destroyed: true, reason: reason}
		for _, to := range o.JIDs {
			out = append(out, r.presenceStanzas(ev, to, true, true)...)
		}
		removed = append(removed, o.JIDs...)
	}
	clear(r.occupants)
	clear(r.byJID)
	r.closed = true
	r.stateMu.Unlock()

	r.forgetSessions(removed)
	log.Info().Str("module", "core.room").Str("room", r.id.String()).Str("actor", actor.Bare().String()).
		Int("evicted", len(removed)).Msg("room destroyed")
	return out, nil
}

// evictLocked removes an occupant entirely and broadcasts its removal with
// the given status code.
func (r *Room) evictLocked(o *domain.Occupant, code, actor, reason string) []Stanza {
	v := r.viewLocked(o)
	for _, j := range o.JIDs {
		delete(r.byJID, j)
	}
	delete(r.occupants, o.Nick)
	return r.broadcastLocked(presenceEvent{
		subject:     v,
		unavailable: true,
		codes:       []string{code},
		actor:       actor,
		reason:      reason,
	})
}

func (r *Room) forgetSessions(jids []string) {
	if r.opts.Sessions == nil {
		return
	}
	for _, j := range jids {
		r.opts.Sessions.Remove(j, r.id)
	}
}

func (r *Room) occupantsOfLocked(bare string) []*domain.Occupant {
	var out []*domain.Occupant
	for _, o := range r.occupants {
		if bareOf(firstJID(o)) == bare {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

func (r *Room) nickOfBareLocked(bare string) string {
	for _, o := range r.occupantsOfLocked(bare) {
		return o.Nick
	}
	return ""
}

// onConfigChange relays configuration events to room listeners.
func (r *Room) onConfigChange(ctx context.Context, _ *RoomConfig, modified []string) error {
	return r.listeners.notify("configuration change", func(l RoomListener) error {
		return l.OnConfigurationChange(ctx, r, modified)
	})
}

func firstJID(o *domain.Occupant) string {
	if len(o.JIDs) == 0 {
		return ""
	}
	return o.JIDs[0]
}

func bareOf(full string) string {
	j, err := jid.Parse(full)
	if err != nil {
		return full
	}
	return j.Bare().String()
}
