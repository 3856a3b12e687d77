package model

import (
	"errors"
	"fmt"
)

// Error categories. Specific errors below wrap one of these so callers can
// match either the category or the precise condition with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidGeometry  = errors.New("invalid geometry")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidPosition  = errors.New("invalid position")
	ErrInvalidArgument  = errors.New("invalid argument")
)

var (
	// ErrTargetNotFound indicates an unknown or destroyed target.
	ErrTargetNotFound = fmt.Errorf("target %w", ErrNotFound)
	// ErrTargetExists indicates a duplicate target id.
	ErrTargetExists = fmt.Errorf("target %w", ErrAlreadyExists)
	// ErrGeofenceNotFound indicates an unknown geofence id.
	ErrGeofenceNotFound = fmt.Errorf("geofence %w", ErrNotFound)
	// ErrGeofenceExists indicates a duplicate geofence id.
	ErrGeofenceExists = fmt.Errorf("geofence %w", ErrAlreadyExists)
	// ErrInvalidTransition indicates a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCapacity indicates a session bound was reached.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrSessionStopped indicates a mutation on a stopped session.
	ErrSessionStopped = errors.New("session stopped")
	// ErrInvalidRule indicates a malformed proximity rule.
	ErrInvalidRule = fmt.Errorf("proximity rule: %w", ErrInvalidArgument)
)
