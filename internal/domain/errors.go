package domain

import "errors"

var (
	ErrInvalidParams      = errors.New("invalid parameters")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrNoCandidates       = errors.New("no qualifying instruments")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already running")
)
