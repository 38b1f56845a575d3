package domain

import "errors"

var (
	// ErrNotFound is returned when a room, message or file id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized covers wrong passwords and non-hosts calling host-only actions.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is the view-once "already viewed" outcome.
	ErrConflict = errors.New("already viewed")
	// ErrExpired marks a room whose TTL has passed.
	ErrExpired = errors.New("room expired")
	// ErrTimeout means the caller stopped waiting; the event may still have been applied.
	ErrTimeout = errors.New("operation timed out")
	// ErrInvalidEvent rejects malformed inbound payloads at the boundary.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrNotMember rejects content from users outside the room.
	ErrNotMember = errors.New("not a member")
	// ErrRoomClosed is returned for events racing a teardown.
	ErrRoomClosed = errors.New("room closed")
	// ErrRateLimited is returned when a user retries too fast.
	ErrRateLimited = errors.New("rate limited")
)

// Code maps an error onto the wire error code used by the adapters.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "already_viewed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidEvent):
		return "bad_payload"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	}
	return "internal"
}
