package domain

import "fmt"

// Role is the session-scoped privilege of an occupant.
type Role uint8

const (
	RoleNone Role = iota
	RoleVisitor
	RoleParticipant
	RoleModerator
)

var roleNames = [...]string{
	RoleNone:        "none",
	RoleVisitor:     "visitor",
	RoleParticipant: "participant",
	RoleModerator:   "moderator",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "none"
}

func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return RoleNone, fmt.Errorf("%w: unknown role %q", ErrBadRequest, s)
}

// AtLeast compares roles by privilege.
func (r Role) AtLeast(o Role) bool { return r >= o }

// DefaultRole derives the role an occupant gets on entry or after an
// affiliation change, for an occupant without a voice grant.
// Occupants with no affiliation enter open rooms as participants, or as
// visitors when the room is moderated; only outcasts get RoleNone.
func DefaultRole(a Affiliation, moderated bool) Role {
	switch a {
	case AffiliationOwner, AffiliationAdmin:
		return RoleModerator
	case AffiliationMember, AffiliationNone:
		if moderated {
			return RoleVisitor
		}
		return RoleParticipant
	default:
		return RoleNone
	}
}

// EffectiveRole applies an occupant-level voice grant on top of DefaultRole.
func EffectiveRole(a Affiliation, moderated, voiced bool) Role {
	r := DefaultRole(a, moderated)
	if r == RoleVisitor && voiced {
		return RoleParticipant
	}
	return r
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
