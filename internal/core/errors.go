package core

import "errors"

// Sentinel errors surfaced by the coordinators. Handlers map these to
// HTTP statuses; nothing below the API boundary knows about HTTP.
var (
	// ErrInvalidRoomCode means the code failed format validation. This
	// is rejected before any remote call is made.
	ErrInvalidRoomCode = errors.New("invalid room code")

	// ErrRoomNotFound means the addressed room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrJoinFailed means the membership write did not land, typically
	// a silent permission failure caught by the read-back check.
	ErrJoinFailed = errors.New("join failed")

	// ErrLeaveFailed means the leave transaction could not commit
	// within its retry budget.
	ErrLeaveFailed = errors.New("leave failed")

	// ErrNoOwnedRoom means the user has no owned-room pointer, or it
	// was stale and has just been cleared.
	ErrNoOwnedRoom = errors.New("no owned room")

	// ErrInvalidMonth means the month key is not in the fixed
	// sequence.
	ErrInvalidMonth = errors.New("invalid month")

	// ErrInvalidAmount means a transaction amount was not > 0.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrSessionClosed means the coordinator was already torn down.
	ErrSessionClosed = errors.New("session closed")
)
