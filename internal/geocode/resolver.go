// Package geocode resolves free-text locations to coordinates through a
// Nominatim-compatible HTTP API, with per-text result caching and failure
// isolation.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mwhitfield/lostfound/internal/domain"
)

const (
	defaultEndpoint = "https://nominatim.openstreetmap.org/search"
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = time.Hour
)

// LookupError is a transport or service fault from the geocoding API. It
// is never cached, so a later Resolve for the same text retries.
type LookupError struct {
	Status int
	Err    error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocode lookup: %v", e.Err)
	}
	return fmt.Sprintf("geocode lookup: status %d", e.Status)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// cacheEntry is a cached outcome for one normalized location text. A nil
// result records a recent no-match.
type cacheEntry struct {
	result    *domain.GeoResult
	expiresAt time.Time
}

// Resolver looks up location text against the external geocoding API. Safe
// for concurrent use; concurrent misses on the same key may each issue a
// network call, with identical results and last-writer-wins caching.
type Resolver struct {
	endpoint   string
	userAgent  string
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	// keyed by trimmed location text
	cache sync.Map
}

// Options configures a Resolver. UserAgent is required by the external
// service's usage policy and has no default.
type Options struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// NewResolver creates a Resolver with bounded request timeouts.
func NewResolver(opts Options, logger *slog.Logger) (*Resolver, error) {
	if opts.UserAgent == "" {
		return nil, fmt.Errorf("geocode: user agent is required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}

	return &Resolver{
		endpoint:  opts.Endpoint,
		userAgent: opts.UserAgent,
		cacheTTL:  opts.CacheTTL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}, nil
}

// nominatimResult is one entry of the API's JSON response. Coordinates
// arrive as strings.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Resolve maps location text to coordinates. Empty or whitespace-only text
// returns domain.ErrNoGeoMatch without a network call. Successes and
// no-matches are cached by the trimmed text; faults are returned as
// *LookupError and not cached.
func (r *Resolver) Resolve(ctx context.Context, locationText string) (*domain.GeoResult, error) {
	key := strings.TrimSpace(locationText)
	if key == "" {
		return nil, domain.ErrNoGeoMatch
	}

	if v, ok := r.cache.Load(key); ok {
		entry := v.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			if entry.result == nil {
				return nil, domain.ErrNoGeoMatch
			}
			res := *entry.result
			return &res, nil
		}
		r.cache.Delete(key)
	}

	results, err := r.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		r.store(key, nil)
		return nil, domain.ErrNoGeoMatch
	}

	result := &domain.GeoResult{
		Latitude:    parseCoordinate(results[0].Lat),
		Longitude:   parseCoordinate(results[0].Lon),
		DisplayName: results[0].DisplayName,
	}
	r.store(key, result)

	res := *result
	return &res, nil
}

func (r *Resolver) lookup(ctx context.Context, text string) ([]nominatimResult, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "json")
	q.Set("limit", "1")
	reqURL := r.endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &LookupError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &LookupError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LookupError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LookupError{Status: resp.StatusCode}
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, &LookupError{Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return results, nil
}

func (r *Resolver) store(key string, result *domain.GeoResult) {
	r.cache.Store(key, cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(r.cacheTTL),
	})
}

// StartEvictionJob runs a background loop that drops expired cache entries
// so the cache stays bounded even for keys that are never read again. It
// blocks until ctx is cancelled.
func (r *Resolver) StartEvictionJob(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Resolver) evictExpired() {
	now := time.Now()
	evicted := 0
	r.cache.Range(func(key, v any) bool {
		if now.After(v.(cacheEntry).expiresAt) {
			r.cache.Delete(key)
			evicted++
		}
		return true
	})
	if evicted > 0 {
		r.logger.Info("geocode cache eviction complete", "evicted", evicted)
	}
}

// parseCoordinate parses a coordinate string, falling back to 0.0 on
// malformed input rather than failing the whole result.
func parseCoordinate(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return f
}
