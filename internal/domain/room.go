package domain

import "time"

// Anonymity controls to whom occupants' real JIDs are disclosed.
type Anonymity uint8

const (
	SemiAnonymous Anonymity = iota
	NonAnonymous
	FullyAnonymous
)

func (a Anonymity) String() string {
	switch a {
	case NonAnonymous:
		return "nonanonymous"
	case FullyAnonymous:
		return "fullanonymous"
	default:
		return "semianonymous"
	}
}

// ParseAnonymity falls back to SemiAnonymous for empty or unknown values.
func ParseAnonymity(s string) (Anonymity, bool) {
	switch s {
	case "nonanonymous":
		return NonAnonymous, true
	case "semianonymous":
		return SemiAnonymous, true
	case "fullanonymous":
		return FullyAnonymous, true
	default:
		return SemiAnonymous, false
	}
}

// Subject is the current room subject and who set it.
type Subject struct {
	Text    string
	Nick    string
	Changed time.Time
}

// Status codes carried in muc#user presence and notification messages.
const (
	StatusNonAnonymous      = "100"
	StatusConfigChanged     = "104"
	StatusSelfPresence      = "110"
	StatusLoggingEnabled    = "170"
	StatusLoggingDisabled   = "171"
	StatusNowNonAnonymous   = "172"
	StatusNowSemiAnonymous  = "173"
	StatusNowFullyAnonymous = "174"
	StatusRoomCreated       = "201"
	StatusBanned            = "301"
	StatusKicked            = "307"
	StatusMembersOnly       = "321"
	StatusShutdown          = "332"
)
