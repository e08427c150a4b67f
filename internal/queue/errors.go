package queue

import "errors"

var (
	// ErrValidation is returned for bad input, before any store access.
	ErrValidation = errors.New("invalid queue request")
	// ErrNotFound is returned when an entry does not exist for the printer named.
	ErrNotFound = errors.New("queue entry not found")
	// ErrStore is returned when the store transaction could not commit.
	// Nothing is applied when it is returned; callers may retry.
	ErrStore = errors.New("queue store unavailable")
)
