package domain

import "fmt"

// Affiliation is the long-lived authorization level of a bare JID in a room.
type Affiliation uint8

const (
	AffiliationNone Affiliation = iota
	AffiliationOutcast
	AffiliationMember
	AffiliationAdmin
	AffiliationOwner
)

var affiliationNames = [...]string{
	AffiliationNone:    "none",
	AffiliationOutcast: "outcast",
	AffiliationMember:  "member",
	AffiliationAdmin:   "admin",
	AffiliationOwner:   "owner",
}

func (a Affiliation) String() string {
	if int(a) < len(affiliationNames) {
		return affiliationNames[a]
	}
	return "none"
}

// ParseAffiliation decodes the wire/persisted name of an affiliation.
func ParseAffiliation(s string) (Affiliation, error) {
	for i, name := range affiliationNames {
		if name == s {
			return Affiliation(i), nil
		}
	}
	return AffiliationNone, fmt.Errorf("%w: unknown affiliation %q", ErrBadRequest, s)
}

// Weight orders affiliations by privilege: outcast < none < member < admin < owner.
func (a Affiliation) Weight() int {
	switch a {
	case AffiliationOutcast:
		return -1
	case AffiliationMember:
		return 1
	case AffiliationAdmin:
		return 2
	case AffiliationOwner:
		return 3
	default:
		return 0
	}
}

// Capabilities is the static permission set granted by an affiliation.
type Capabilities struct {
	CanEnter                 bool
	CanEditConfig            bool
	CanDestroy               bool
	CanBan                   bool
	CanInviteWhenMembersOnly bool
	// SeesRealJIDs is true when the affiliation is entitled to real JIDs
	// in semi-anonymous rooms.
	SeesRealJIDs bool
}

var capabilities = map[Affiliation]Capabilities{
	AffiliationOwner: {
		CanEnter: true, CanEditConfig: true, CanDestroy: true, CanBan: true,
		CanInviteWhenMembersOnly: true, SeesRealJIDs: true,
	},
	AffiliationAdmin: {
		CanEnter: true, CanBan: true, CanInviteWhenMembersOnly: true, SeesRealJIDs: true,
	},
	AffiliationMember: {
		CanEnter: true, CanInviteWhenMembersOnly: true,
	},
	AffiliationNone: {
		CanEnter: true,
	},
	AffiliationOutcast: {},
}

func (a Affiliation) Capabilities() Capabilities {
	return capabilities[a]
}

// CanChangeAffiliation reports whether an actor holding a may move a target
// from current to next. Owners may change anyone. Admins may only touch
// member/none/outcast targets and only grant those same levels.
func (a Affiliation) CanChangeAffiliation(current, next Affiliation) bool {
	switch a {
	case AffiliationOwner:
		return true
	case AffiliationAdmin:
		return current.Weight() < AffiliationAdmin.Weight() &&
			next.Weight() < AffiliationAdmin.Weight()
	default:
		return false
	}
}

func (a Affiliation) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Affiliation) UnmarshalText(b []byte) error {
	v, err := ParseAffiliation(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
