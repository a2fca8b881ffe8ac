package core

import (
	"slices"
	"sort"

	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/domain"
)

// BroadcastMode selects how room events reach occupants.
type BroadcastMode uint8

const (
	// StandardBroadcast fans every event out to all occupants.
	StandardBroadcast BroadcastMode = iota
	// NoBroadcast only answers the subject occupant and skips the roster dump.
	NoBroadcast
)

func (m BroadcastMode) String() string {
	if m == NoBroadcast {
		return "none"
	}
	return "standard"
}

func ParseBroadcastMode(s string) BroadcastMode {
	if s == "none" {
		return NoBroadcast
	}
	return StandardBroadcast
}

// occupantView freezes an occupant at the moment of an event.
type occupantView struct {
	nick   string
	jids   []string
	aff    domain.Affiliation
	role   domain.Role
	show   string
	status string
}

type presenceEvent struct {
	subject occupantView
	// unavailable presences carry role none; subject.role keeps the role the
	// occupant held before removal for broadcast filtering.
	unavailable bool
	codes       []string
	selfCodes   []string
	actor       string
	reason      string
	destroyed   bool
}

// canSeeJID is the disclosure rule for a subject's real JID.
func canSeeJID(self bool, anon domain.Anonymity, viewer domain.Role) bool {
	switch {
	case self:
		return true
	case anon == domain.NonAnonymous:
		return true
	case anon == domain.SemiAnonymous && viewer == domain.RoleModerator:
		return true
	default:
		return false
	}
}

// viewLocked snapshots an occupant. Caller holds stateMu.
func (r *Room) viewLocked(o *domain.Occupant) occupantView {
	return occupantView{
		nick:   o.Nick,
		jids:   slices.Clone(o.JIDs),
		aff:    r.affiliations[bareOf(firstJID(o))],
		role:   o.Role,
		show:   o.Show,
		status: o.Status,
	}
}

// viewersLocked lists event recipients sorted by nick. The subject is
// included even when it already left the occupant table.
func (r *Room) viewersLocked(subject occupantView) []occupantView {
	if r.opts.Mode == NoBroadcast {
		return []occupantView{subject}
	}
	out := make([]occupantView, 0, len(r.occupants)+1)
	seenSubject := false
	for _, o := range r.occupants {
		if o.Nick == subject.nick {
			seenSubject = true
			out = append(out, subject)
			continue
		}
		out = append(out, r.viewLocked(o))
	}
	if !seenSubject {
		out = append(out, subject)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].nick < out[j].nick })
	return out
}

// broadcastLocked builds one presence per recipient real JID. The subject's
// own copies go last so a joiner sees its self-presence after the roster.
func (r *Room) broadcastLocked(ev presenceEvent) []Stanza {
	anon := r.cfg.Anonymity()
	roles := r.cfg.PresenceBroadcast()

	var others, self []Stanza
	for _, viewer := range r.viewersLocked(ev.subject) {
		isSelf := viewer.nick == ev.subject.nick
		if !isSelf && !slices.Contains(roles, ev.subject.role) {
			continue
		}
		for _, to := range viewer.jids {
			stanzas := r.presenceStanzas(ev, to, isSelf, canSeeJID(isSelf, anon, viewer.role))
			if isSelf {
				self = append(self, stanzas...)
			} else {
				others = append(others, stanzas...)
			}
		}
	}
	return append(others, self...)
}

// rosterLocked is the existing-occupant dump sent to a joiner.
func (r *Room) rosterLocked(joiner occupantView, to string) []Stanza {
	if r.opts.Mode == NoBroadcast {
		return nil
	}
	anon := r.cfg.Anonymity()
	roles := r.cfg.PresenceBroadcast()
	nicks := make([]string, 0, len(r.occupants))
	for nick := range r.occupants {
		if nick != joiner.nick {
			nicks = append(nicks, nick)
		}
	}
	sort.Strings(nicks)

	var out []Stanza
	for _, nick := range nicks {
		v := r.viewLocked(r.occupants[nick])
		if !slices.Contains(roles, v.role) {
			continue
		}
		ev := presenceEvent{subject: v}
		out = append(out, r.presenceStanzas(ev, to, false, canSeeJID(false, anon, joiner.role))...)
	}
	return out
}

// presenceStanzas shapes the wire form for one recipient. In multi-item mode
// every real JID of the subject is batched into a single stanza; otherwise
// each real JID produces its own stanza.
func (r *Room) presenceStanzas(ev presenceEvent, to string, isSelf, visible bool) []Stanza {
	from := r.occupantAddress(ev.subject.nick)
	codes := slices.Clone(ev.codes)
	if isSelf {
		codes = append(codes, ev.selfCodes...)
		codes = append(codes, domain.StatusSelfPresence)
		slices.Sort(codes)
		codes = slices.Compact(codes)
	}

	role := ev.subject.role
	typ := stanza.AvailablePresence
	if ev.unavailable {
		role = domain.RoleNone
		typ = stanza.UnavailablePresence
	}
	item := func(real string) Item {
		it := Item{Affiliation: ev.subject.aff, Role: role, Actor: ev.actor, Reason: ev.reason}
		if visible {
			it.JID = real
		}
		return it
	}
	base := Presence{
		From:      from,
		To:        to,
		Type:      typ,
		Show:      ev.subject.show,
		Status:    ev.subject.status,
		Codes:     codes,
		Destroyed: ev.destroyed,
		Reason:    ev.reason,
	}

	if r.opts.MultiItem {
		p := base
		for _, real := range ev.subject.jids {
			p.Items = append(p.Items, item(real))
		}
		return []Stanza{p}
	}
	out := make([]Stanza, 0, len(ev.subject.jids))
	for _, real := range ev.subject.jids {
		p := base
		p.Items = []Item{item(real)}
		out = append(out, p)
	}
	return out
}

// fanoutLocked addresses one stanza to every real JID present in the room,
// in nick order.
func (r *Room) fanoutLocked(build func(to string) Stanza) []Stanza {
	nicks := make([]string, 0, len(r.occupants))
	for nick := range r.occupants {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)
	var out []Stanza
	for _, nick := range nicks {
		for _, to := range r.occupants[nick].JIDs {
			out = append(out, build(to))
		}
	}
	return out
}

func (r *Room) occupantAddress(nick string) string {
	j, err := domain.OccupantJID(r.id, nick)
	if err != nil {
		return r.id.String() + "/" + nick
	}
	return j.String()
}
