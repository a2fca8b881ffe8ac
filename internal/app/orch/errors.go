package orch

import (
	"errors"

	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/domain"
)

// StanzaError is the error condition returned to the sender of a failed
// stanza.
type StanzaError struct {
	Type      stanza.ErrorType
	Condition stanza.Condition
	Text      string
}

// TypeName is the wire name of the error type.
func (e StanzaError) TypeName() string {
	switch e.Type {
	case stanza.Auth:
		return "auth"
	case stanza.Modify:
		return "modify"
	case stanza.Wait:
		return "wait"
	case stanza.Continue:
		return "continue"
	default:
		return "cancel"
	}
}

var conditions = []struct {
	err  error
	typ  stanza.ErrorType
	cond stanza.Condition
}{
	{domain.ErrForbidden, stanza.Auth, stanza.Forbidden},
	{domain.ErrNotAcceptable, stanza.Cancel, stanza.NotAcceptable},
	{domain.ErrRegistrationRequired, stanza.Auth, stanza.RegistrationRequired},
	{domain.ErrConflict, stanza.Cancel, stanza.Conflict},
	{domain.ErrNotAuthorized, stanza.Auth, stanza.NotAuthorized},
	{domain.ErrServiceUnavailable, stanza.Wait, stanza.ServiceUnavailable},
	{domain.ErrBadRequest, stanza.Modify, stanza.BadRequest},
	{domain.ErrRoomNotFound, stanza.Cancel, stanza.ItemNotFound},
	{domain.ErrOccupantNotFound, stanza.Cancel, stanza.ItemNotFound},
	{domain.ErrAlreadyExists, stanza.Cancel, stanza.Conflict},
	{domain.ErrRoomClosed, stanza.Wait, stanza.ServiceUnavailable},
	{domain.ErrUniqueNameExhausted, stanza.Wait, stanza.ResourceConstraint},
	{domain.ErrConfigType, stanza.Modify, stanza.NotAcceptable},
}

// ErrorFor maps a façade error to a stanza error.
func ErrorFor(err error) StanzaError {
	for _, c := range conditions {
		if errors.Is(err, c.err) {
			return StanzaError{Type: c.typ, Condition: c.cond, Text: err.Error()}
		}
	}
	return StanzaError{Type: stanza.Cancel, Condition: stanza.InternalServerError}
}
