package domain

import (
	"fmt"
	"time"
)

// Kind classifies a report as a lost item or a found item.
type Kind string

const (
	KindLost  Kind = "Lost"
	KindFound Kind = "Found"
)

// ParseKind validates a kind string from the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLost, KindFound:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown item kind %q", s)
	}
}

// Item is a single lost/found report. ID, OwnerID, Kind and CreatedAt are
// assigned at creation and never change afterwards; Closed transitions
// false -> true at most once.
type Item struct {
	// ID is the store-assigned identifier.
	ID string

	// OwnerID is the authenticated user who created the report. Only the
	// owner may close it.
	OwnerID string

	// Kind is Lost or Found.
	Kind Kind

	Title       string
	Description string

	// Location is free text describing where the item was lost or found.
	// It is resolved to coordinates on demand, never at write time.
	Location string

	// Closed marks the item as returned/claimed.
	Closed bool

	// CreatedAt is the server-assigned timestamp, strictly increasing with
	// insertion order. It is the sole sort key for listings.
	CreatedAt time.Time
}

// NewItem carries the caller-supplied fields of a report that has not been
// persisted yet.
type NewItem struct {
	OwnerID     string
	Kind        Kind
	Title       string
	Description string
	Location    string
}

// Snapshot is a full, ordered view of all items at a given store revision,
// newest first.
type Snapshot struct {
	// Revision increases by one per committed mutation.
	Revision uint64

	// Items is ordered by CreatedAt descending.
	Items []Item
}

// GeoResult is the resolved form of a free-text location. It is ephemeral:
// derived on demand, keyed only by the location text, never persisted with
// an item.
type GeoResult struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
}
