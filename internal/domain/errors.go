package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound means the requested item does not exist. A normal negative
// result, not a fault.
var ErrNotFound = errors.New("item not found")

// ErrUnauthenticated means no authenticated user id was supplied.
var ErrUnauthenticated = errors.New("not authenticated")

// ErrForbidden means the requester is not the item's owner. No mutation is
// applied.
var ErrForbidden = errors.New("requester is not the owner")

// ErrStoreClosed means the store has shut down and accepts no further
// operations or subscriptions.
var ErrStoreClosed = errors.New("store is closed")

// ErrNoGeoMatch means the geocoding service had no result for the location
// text. A normal negative result; cacheable, unlike transport faults.
var ErrNoGeoMatch = errors.New("no geocoding match")

// ValidationError reports a missing required field, rejected before any
// persistence call.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}
