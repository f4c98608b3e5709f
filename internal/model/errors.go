package model

import "errors"

// Sentinel errors shared by the stores, services and HTTP layer. Callers wrap
// them with context and match with errors.Is.
var (
	ErrInvalidInterval        = errors.New("invalid interval")
	ErrInvalidRange           = errors.New("invalid date range")
	ErrInvalidDuration        = errors.New("invalid duration")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrDuplicateDay           = errors.New("duplicate day of week")
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrCancellationWindow     = errors.New("cancellation window closed")
	ErrConcurrentModification = errors.New("concurrent modification")
)
