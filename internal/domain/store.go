package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ItemStore is the authoritative collection of item records. It validates
// and commits mutations, writes them through to the repository, and fans
// out full ordered snapshots to live subscribers.
//
// The in-memory view is the source of truth for ordering; the repository
// is the durable collaborator. Mutations commit under a single lock, so
// every snapshot reflects a prefix of the committed mutation sequence.
type ItemStore struct {
	repo   ItemRepository
	logger *slog.Logger

	mu            sync.Mutex
	items         []Item // newest first
	revision      uint64
	lastCreatedAt time.Time
	subs          map[*Subscription]struct{}
	closed        bool
}

// NewItemStore creates a store seeded from the repository's persisted
// items.
func NewItemStore(ctx context.Context, repo ItemRepository, logger *slog.Logger) (*ItemStore, error) {
	items, err := repo.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	s := &ItemStore{
		repo:   repo,
		logger: logger,
		items:  items,
		subs:   make(map[*Subscription]struct{}),
	}
	if len(items) > 0 {
		s.lastCreatedAt = items[0].CreatedAt
	}

	logger.Info("item store ready", "items", len(items))
	return s, nil
}

// Create validates and commits a new item, assigning its id and a
// server-side timestamp that is strictly increasing with insertion order.
func (s *ItemStore) Create(ctx context.Context, req NewItem) (*Item, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, &ValidationError{Field: "title"}
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, &ValidationError{Field: "description"}
	}
	if _, err := ParseKind(string(req.Kind)); err != nil {
		return nil, &ValidationError{Field: "kind"}
	}
	if req.OwnerID == "" {
		return nil, ErrUnauthenticated
	}

	item := Item{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Kind:        req.Kind,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	item.CreatedAt = s.nextTimestampLocked()

	// Persist before exposing the item to any subscriber. Holding the lock
	// across the write keeps commit order identical to timestamp order.
	if err := s.repo.CreateItem(ctx, &item); err != nil {
		return nil, fmt.Errorf("persist item: %w", err)
	}

	s.items = append([]Item{item}, s.items...)
	s.revision++
	s.publishLocked()

	s.logger.Info("item created", "id", item.ID, "kind", item.Kind, "owner", item.OwnerID)
	return &item, nil
}

// Get retrieves an item by id. Returns ErrNotFound if absent.
func (s *ItemStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			item := s.items[i]
			return &item, nil
		}
	}
	return nil, ErrNotFound
}

// SetClosed marks an item as returned/claimed. Only the owner may close an
// item; closing an already-closed item is a no-op success.
func (s *ItemStore) SetClosed(ctx context.Context, id, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	idx := -1
	for i := range s.items {
		if s.items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	if err := Authorize(&s.items[idx], requesterID); err != nil {
		return err
	}

	if s.items[idx].Closed {
		return nil
	}

	if err := s.repo.SetClosed(ctx, id); err != nil {
		return fmt.Errorf("persist close: %w", err)
	}

	s.items[idx].Closed = true
	s.revision++
	s.publishLocked()

	s.logger.Info("item closed", "id", id, "owner", requesterID)
	return nil
}

// Subscribe opens an independent live feed of snapshots starting from the
// current state. The first snapshot is available immediately; each
// committed mutation produces a newer one. Subscribers that fall behind
// skip intermediate snapshots rather than blocking commits: every snapshot
// is the full ordered state, so the latest one always reflects all
// committed mutations.
func (s *ItemStore) Subscribe() (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	sub := &Subscription{
		store: s,
		ch:    make(chan Snapshot, 1),
	}
	s.subs[sub] = struct{}{}
	sub.ch <- s.snapshotLocked()
	return sub, nil
}

// Shutdown terminates all live subscriptions and rejects further
// operations.
func (s *ItemStore) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
	s.logger.Info("item store shut down")
}

// nextTimestampLocked returns a UTC timestamp strictly after every
// previously assigned one, so CreatedAt is a total order even when the
// clock does not advance between commits.
func (s *ItemStore) nextTimestampLocked() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastCreatedAt) {
		now = s.lastCreatedAt.Add(time.Nanosecond)
	}
	s.lastCreatedAt = now
	return now
}

func (s *ItemStore) snapshotLocked() Snapshot {
	return Snapshot{
		Revision: s.revision,
		Items:    append([]Item(nil), s.items...),
	}
}

// publishLocked delivers the current snapshot to every subscriber without
// blocking. A pending undelivered snapshot is replaced by the newer one.
func (s *ItemStore) publishLocked() {
	snap := s.snapshotLocked()
	for sub := range s.subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snap
		}
	}
}

// Subscription is one subscriber's live feed of store snapshots.
type Subscription struct {
	store *ItemStore
	ch    chan Snapshot
}

// Updates returns the snapshot channel. It is closed when the subscription
// is cancelled or the store shuts down; no snapshots are delivered after
// that.
func (sub *Subscription) Updates() <-chan Snapshot {
	return sub.ch
}

// Cancel detaches the subscription from the store. Idempotent.
func (sub *Subscription) Cancel() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()

	if _, ok := sub.store.subs[sub]; ok {
		delete(sub.store.subs, sub)
		close(sub.ch)
	}
}
