package domain

// Authorize decides whether requesterID may change the given item's closed
// state. Allowed iff the requester is non-empty and matches the item's
// owner. Pure function, no side effects.
func Authorize(item *Item, requesterID string) error {
	if requesterID == "" {
		return ErrUnauthenticated
	}
	if requesterID != item.OwnerID {
		return ErrForbidden
	}
	return nil
}
