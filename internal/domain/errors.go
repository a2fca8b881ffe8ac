package domain

import "errors"

// Protocol violations. Surfaced to the requester as stanza errors.
var (
	ErrForbidden            = errors.New("forbidden")
	ErrNotAcceptable        = errors.New("not acceptable")
	ErrRegistrationRequired = errors.New("registration required")
	ErrConflict             = errors.New("conflict")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrBadRequest           = errors.New("bad request")
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrOccupantNotFound = errors.New("occupant not found")
)

var (
	ErrAlreadyExists       = errors.New("room already exists")
	ErrRoomClosed          = errors.New("room closed")
	ErrUniqueNameExhausted = errors.New("unique room name attempts exhausted")
)

// ErrConfigType reports a value whose shape does not match the field type.
var ErrConfigType = errors.New("config field type mismatch")
