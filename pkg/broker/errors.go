package broker

import "fmt"

// AuthError means the presented token was missing, invalid or expired. The
// same token should not be retried; callers wait for a refreshed one.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected: %s", e.Reason)
}

// NotFoundError means no channel exists for the trip - it either has not
// started or has already been archived.
type NotFoundError struct {
	TripID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no active channel for trip %s", e.TripID)
}
