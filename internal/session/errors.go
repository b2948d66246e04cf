package session

import "errors"

// Store error types
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionConflict = errors.New("session removed or expired during update")
)
