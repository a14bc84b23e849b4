package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by stores, remote clients, and services.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("version conflict")
	ErrUnavailable  = errors.New("service unavailable")
)

// IsTransient reports whether err is worth retrying: version conflicts,
// unavailable remotes, and per-call deadline expiry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
