package core

import (
	"errors"

	"github.com/atrium-space/atrium-server/internal/mediaengine"
)

// Error codes surfaced to callers. Capacity and duplicate-login failures
// carry distinct codes so clients can present them differently.
const (
	ErrCodeInvalidCredential = "invalid_credential"
	ErrCodeIdentityNotFound  = "identity_not_found"
	ErrCodeDuplicateLogin    = "duplicate_login"
	ErrCodeCapacityExceeded  = "capacity_exceeded"
	ErrCodeRoomFull          = "room_full"
	ErrCodeRoomNotFound      = "room_not_found"
	ErrCodeNotAMember        = "not_a_member"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeStaleLocation     = "stale_location"
	ErrCodeMaxRoomsReached   = "max_rooms_reached"
	ErrCodeSpaceNotFound     = "space_not_found"
	ErrCodeAreaNotFound      = "area_not_found"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeUnauthorized      = "unauthorized"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrDuplicateLogin    = errors.New("already connected from another origin")
	ErrCapacityExceeded  = errors.New("channel capacity exceeded")
	ErrNotAMember        = errors.New("not a channel member")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrStaleLocation     = errors.New("location references a removed map")
	ErrSpaceNotFound     = errors.New("space not found")
	ErrAreaNotFound      = errors.New("area not found")
	ErrSessionNotFound   = errors.New("session not found")
)

// CoreError wraps a code and human-readable message for the wire.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// CodeFor maps a domain error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return ErrCodeInvalidCredential
	case errors.Is(err, ErrIdentityNotFound):
		return ErrCodeIdentityNotFound
	case errors.Is(err, ErrDuplicateLogin):
		return ErrCodeDuplicateLogin
	case errors.Is(err, ErrCapacityExceeded):
		return ErrCodeCapacityExceeded
	case errors.Is(err, ErrNotAMember):
		return ErrCodeNotAMember
	case errors.Is(err, ErrInvalidTransition):
		return ErrCodeInvalidTransition
	case errors.Is(err, ErrStaleLocation):
		return ErrCodeStaleLocation
	case errors.Is(err, ErrSpaceNotFound):
		return ErrCodeSpaceNotFound
	case errors.Is(err, ErrAreaNotFound):
		return ErrCodeAreaNotFound
	case errors.Is(err, ErrSessionNotFound):
		return ErrCodeUnauthorized
	case errors.Is(err, mediaengine.ErrRoomFull):
		return ErrCodeRoomFull
	case errors.Is(err, mediaengine.ErrRoomNotFound):
		return ErrCodeRoomNotFound
	case errors.Is(err, mediaengine.ErrMaxRoomsReached):
		return ErrCodeMaxRoomsReached
	default:
		return ErrCodeBadRequest
	}
}
