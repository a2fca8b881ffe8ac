package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"mellium.im/xmpp/jid"
)

const MaxNickLen = 64

var (
	ErrNickEmpty   = fmt.Errorf("%w: nickname empty", ErrBadRequest)
	ErrNickTooLong = fmt.Errorf("%w: nickname too long", ErrBadRequest)
)

// ValidateNick checks the occupant nickname carried in a room JID resourcepart.
func ValidateNick(nick string) error {
	if strings.TrimSpace(nick) == "" {
		return ErrNickEmpty
	}
	if utf8.RuneCountInString(nick) > MaxNickLen {
		return ErrNickTooLong
	}
	return nil
}

// RoomJID parses a room identity; any resourcepart is dropped.
func RoomJID(s string) (jid.JID, error) {
	j, err := jid.Parse(s)
	if err != nil {
		return jid.JID{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if j.Localpart() == "" {
		return jid.JID{}, fmt.Errorf("%w: room jid %q has no localpart", ErrBadRequest, s)
	}
	return j.Bare(), nil
}

// OccupantJID builds room@service/nick.
func OccupantJID(room jid.JID, nick string) (jid.JID, error) {
	return room.WithResource(nick)
}

// BareKey is the map key used for affiliation tables.
func BareKey(j jid.JID) string { return j.Bare().String() }
