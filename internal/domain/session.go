package domain

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// SessionState is the lifecycle state of a SyncSession.
type SessionState int

const (
	// StateConnecting means the subscription is requested but no snapshot
	// has arrived yet.
	StateConnecting SessionState = iota

	// StateLive means at least one snapshot has been received; the session
	// holds the latest one.
	StateLive

	// StateClosed means the viewer cancelled the session.
	StateClosed

	// StateError means the subscription failed. Terminal: the caller must
	// open a new session to retry.
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// GeoState is the outcome of the detail view's geocode lookup.
type GeoState int

const (
	// GeoIdle means no lookup applies (empty location or no detail view).
	GeoIdle GeoState = iota

	// GeoPending means a lookup is in flight.
	GeoPending

	// GeoResolved means the location resolved to coordinates.
	GeoResolved

	// GeoNoMatch means the geocoding service had no result.
	GeoNoMatch

	// GeoFailed means the lookup faulted. Entering the detail view again
	// retries, since faults are not cached.
	GeoFailed
)

// DetailView is the per-item view state of a session: which item is being
// looked at and how its location lookup went. It is local to the session
// and never part of the item-set snapshot.
type DetailView struct {
	ItemID string
	Geo    GeoState
	Result *GeoResult
	Err    error
}

// SyncSession coordinates one viewer's live view of the store: it owns a
// subscription, holds the viewer's latest snapshot, and multiplexes
// geocode lookups for the currently viewed item. Lookups are tagged with a
// view generation; a result arriving after the view has moved on is
// discarded rather than overwriting the newer view.
type SyncSession struct {
	geocoder Geocoder
	logger   *slog.Logger

	mu         sync.Mutex
	state      SessionState
	snapshot   Snapshot
	hasSnap    bool
	subErr     error
	generation uint64
	detail     DetailView

	sub    *Subscription
	notify chan struct{}
	done   chan struct{}
}

// OpenSession subscribes to the store and starts the session's feed loop.
// If the subscription cannot be opened the session is returned already in
// StateError.
func OpenSession(store *ItemStore, geocoder Geocoder, logger *slog.Logger) *SyncSession {
	sess := &SyncSession{
		geocoder: geocoder,
		logger:   logger,
		state:    StateConnecting,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	sub, err := store.Subscribe()
	if err != nil {
		sess.state = StateError
		sess.subErr = err
		close(sess.done)
		logger.Warn("session subscription failed", "error", err)
		return sess
	}
	sess.sub = sub

	go sess.run()
	return sess
}

func (sess *SyncSession) run() {
	defer close(sess.done)

	for snap := range sess.sub.Updates() {
		sess.mu.Lock()
		if sess.state == StateClosed {
			sess.mu.Unlock()
			return
		}
		sess.state = StateLive
		sess.snapshot = snap
		sess.hasSnap = true
		sess.mu.Unlock()

		select {
		case sess.notify <- struct{}{}:
		default:
		}
	}

	// Feed ended without Close: the store shut the subscription down.
	sess.mu.Lock()
	if sess.state != StateClosed {
		sess.state = StateError
		sess.subErr = ErrStoreClosed
	}
	sess.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (sess *SyncSession) State() SessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// Err returns the subscription fault, if the session is in StateError.
func (sess *SyncSession) Err() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.subErr
}

// Latest returns the most recent snapshot and whether one has been
// received yet. Snapshots replace each other wholesale; a caller never
// observes a partial view.
func (sess *SyncSession) Latest() (Snapshot, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot, sess.hasSnap
}

// Notify returns a coalesced signal channel that receives after each new
// snapshot is held.
func (sess *SyncSession) Notify() <-chan struct{} {
	return sess.notify
}

// Done returns a channel closed when the feed loop has ended, whether by
// Close or by subscription failure.
func (sess *SyncSession) Done() <-chan struct{} {
	return sess.done
}

// Close cancels the subscription. Idempotent; no snapshot is delivered
// afterward.
func (sess *SyncSession) Close() {
	sess.mu.Lock()
	if sess.state == StateClosed || sess.state == StateError {
		sess.mu.Unlock()
		return
	}
	sess.state = StateClosed
	sess.generation++
	sess.mu.Unlock()

	if sess.sub != nil {
		sess.sub.Cancel()
	}
}

// ViewItem enters the detail view for an item in the current snapshot. If
// the item's location is non-empty a geocode lookup starts in the
// background; list snapshot delivery is never blocked by it.
func (sess *SyncSession) ViewItem(ctx context.Context, itemID string) {
	sess.mu.Lock()
	sess.generation++
	gen := sess.generation

	var location string
	for i := range sess.snapshot.Items {
		if sess.snapshot.Items[i].ID == itemID {
			location = strings.TrimSpace(sess.snapshot.Items[i].Location)
			break
		}
	}

	sess.detail = DetailView{ItemID: itemID}
	if location != "" {
		sess.detail.Geo = GeoPending
	}
	sess.mu.Unlock()

	if location == "" {
		return
	}
	go sess.resolveLocation(ctx, gen, location)
}

// LeaveDetail exits the detail view. Any in-flight lookup result for the
// previous view is discarded when it arrives.
func (sess *SyncSession) LeaveDetail() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.generation++
	sess.detail = DetailView{}
}

// Detail returns the current detail view state.
func (sess *SyncSession) Detail() DetailView {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.detail
}

func (sess *SyncSession) resolveLocation(ctx context.Context, gen uint64, location string) {
	result, err := sess.geocoder.Resolve(ctx, location)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if gen != sess.generation {
		// The viewer moved on while the lookup was in flight.
		return
	}

	switch {
	case err == nil:
		sess.detail.Geo = GeoResolved
		sess.detail.Result = result
	case errors.Is(err, ErrNoGeoMatch):
		sess.detail.Geo = GeoNoMatch
	default:
		sess.detail.Geo = GeoFailed
		sess.detail.Err = err
		sess.logger.Warn("geocode lookup failed", "location", location, "error", err)
	}
}
