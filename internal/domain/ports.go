package domain

import "context"

// ItemRepository defines persistence operations for item records. The
// store writes through to it and treats it as the durable collaborator;
// ordering and subscription semantics live in the store, not here.
type ItemRepository interface {
	// CreateItem inserts a new item record.
	CreateItem(ctx context.Context, item *Item) error

	// GetItem retrieves an item by id. Returns ErrNotFound if absent.
	GetItem(ctx context.Context, id string) (*Item, error)

	// SetClosed marks an item closed. Returns ErrNotFound if absent.
	SetClosed(ctx context.Context, id string) error

	// ListItems returns all items ordered by createdAt descending.
	ListItems(ctx context.Context) ([]Item, error)
}

// Geocoder resolves free-text locations to coordinates. Implementations
// return ErrNoGeoMatch when the service has no result for the text; any
// other error is a lookup fault and may succeed on retry.
type Geocoder interface {
	Resolve(ctx context.Context, locationText string) (*GeoResult, error)
}
