package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrVenueUnavailable   = errors.New("venue unavailable")
	ErrStaleQuote         = errors.New("quote stale")
	ErrNoVenues           = errors.New("no venues available")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInvalidRequest     = errors.New("invalid settlement request")
	ErrPairInFlight       = errors.New("settlement already in flight for pair")
	ErrHalted             = errors.New("settlements halted by safety governor")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
)
