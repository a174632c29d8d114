package geocode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwhitfield/lostfound/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResolver(t *testing.T, handler http.HandlerFunc, opts Options) (*Resolver, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	opts.Endpoint = srv.URL
	if opts.UserAgent == "" {
		opts.UserAgent = "lostfound-test/1.0"
	}

	r, err := NewResolver(opts, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r, &calls
}

func singleResult(lat, lon, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"lat":"`+lat+`","lon":"`+lon+`","display_name":"`+name+`"}]`)
	}
}

func TestNewResolverRequiresUserAgent(t *testing.T) {
	if _, err := NewResolver(Options{}, testLogger()); err == nil {
		t.Fatal("NewResolver accepted empty user agent")
	}
}

func TestResolveEmptyTextMakesNoCall(t *testing.T) {
	r, calls := newTestResolver(t, singleResult("1", "2", "x"), Options{})

	for _, text := range []string{"", "   ", "\t\n"} {
		if _, err := r.Resolve(context.Background(), text); !errors.Is(err, domain.ErrNoGeoMatch) {
			t.Fatalf("Resolve(%q) = %v, want ErrNoGeoMatch", text, err)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("made %d network calls for empty text", n)
	}
}

func TestResolveSuccess(t *testing.T) {
	var gotUA, gotQuery string
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		gotUA = req.Header.Get("User-Agent")
		gotQuery = req.URL.Query().Get("q")
		if req.URL.Query().Get("format") != "json" || req.URL.Query().Get("limit") != "1" {
			t.Errorf("unexpected query: %s", req.URL.RawQuery)
		}
		singleResult("1.23456", "-2.34567", "Main Library, Campus")(w, req)
	}, Options{UserAgent: "lostfound-test/1.0"})

	got, err := r.Resolve(context.Background(), "Main Library")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := domain.GeoResult{Latitude: 1.23456, Longitude: -2.34567, DisplayName: "Main Library, Campus"}
	if *got != want {
		t.Fatalf("Resolve = %+v, want %+v", *got, want)
	}
	if gotUA != "lostfound-test/1.0" {
		t.Fatalf("User-Agent = %q", gotUA)
	}
	if gotQuery != "Main Library" {
		t.Fatalf("q = %q", gotQuery)
	}
}

func TestResolveCachesSuccess(t *testing.T) {
	r, calls := newTestResolver(t, singleResult("1.5", "2.5", "Somewhere"), Options{})

	first, err := r.Resolve(context.Background(), "Somewhere")
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), "Somewhere")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if *first != *second {
		t.Fatalf("cached result differs: %+v vs %+v", first, second)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("made %d network calls, want 1", n)
	}
}

func TestResolveNormalizesKey(t *testing.T) {
	r, calls := newTestResolver(t, singleResult("1", "2", "x"), Options{})

	if _, err := r.Resolve(context.Background(), "Main Library"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "  Main Library  "); err != nil {
		t.Fatalf("Resolve with padding: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("made %d network calls, want 1", n)
	}
}

func TestResolveNoMatchCached(t *testing.T) {
	r, calls := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[]`)
	}, Options{})

	if _, err := r.Resolve(context.Background(), "Nowhereville"); !errors.Is(err, domain.ErrNoGeoMatch) {
		t.Fatalf("Resolve = %v, want ErrNoGeoMatch", err)
	}
	if _, err := r.Resolve(context.Background(), "Nowhereville"); !errors.Is(err, domain.ErrNoGeoMatch) {
		t.Fatalf("second Resolve = %v, want ErrNoGeoMatch", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("made %d network calls, want 1 (no-match should be cached)", n)
	}
}

func TestResolveFailureNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	r, calls := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		singleResult("1", "2", "Recovered")(w, req)
	}, Options{})

	_, err := r.Resolve(context.Background(), "Main Library")
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("Resolve = %v, want LookupError", err)
	}
	if lookupErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("LookupError.Status = %d", lookupErr.Status)
	}

	// The fault was not cached, so a later resolve retries and succeeds.
	fail.Store(false)
	got, err := r.Resolve(context.Background(), "Main Library")
	if err != nil {
		t.Fatalf("retry Resolve: %v", err)
	}
	if got.DisplayName != "Recovered" {
		t.Fatalf("retry result = %+v", got)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("made %d network calls, want 2", n)
	}
}

func TestResolveTransportFailure(t *testing.T) {
	srv := httptest.NewServer(singleResult("1", "2", "x"))
	endpoint := srv.URL
	srv.Close()

	r, err := NewResolver(Options{Endpoint: endpoint, UserAgent: "lostfound-test/1.0"}, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	_, err = r.Resolve(context.Background(), "Main Library")
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("Resolve = %v, want LookupError", err)
	}
}

func TestResolveMalformedCoordinatesFallBackToZero(t *testing.T) {
	r, _ := newTestResolver(t, singleResult("not-a-number", "also-bad", "Odd Place"), Options{})

	got, err := r.Resolve(context.Background(), "Odd Place")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Latitude != 0.0 || got.Longitude != 0.0 {
		t.Fatalf("coordinates = (%v, %v), want (0, 0)", got.Latitude, got.Longitude)
	}
	if got.DisplayName != "Odd Place" {
		t.Fatalf("DisplayName = %q", got.DisplayName)
	}
}

func TestResolveCacheTTL(t *testing.T) {
	r, calls := newTestResolver(t, singleResult("1", "2", "x"), Options{CacheTTL: 20 * time.Millisecond})

	if _, err := r.Resolve(context.Background(), "Main Library"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := r.Resolve(context.Background(), "Main Library"); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("made %d network calls, want 2 after TTL expiry", n)
	}
}

func TestEvictExpired(t *testing.T) {
	r, _ := newTestResolver(t, singleResult("1", "2", "x"), Options{CacheTTL: 10 * time.Millisecond})

	if _, err := r.Resolve(context.Background(), "Main Library"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	r.evictExpired()

	if _, ok := r.cache.Load("Main Library"); ok {
		t.Fatal("expired entry not evicted")
	}
}

func TestResolveConcurrent(t *testing.T) {
	r, _ := newTestResolver(t, singleResult("1", "2", "x"), Options{})

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := r.Resolve(context.Background(), "Main Library")
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Resolve: %v", err)
		}
	}
	// Duplicate in-flight calls for one key are acceptable; consistency of
	// the cached result is what matters.
	got, err := r.Resolve(context.Background(), "Main Library")
	if err != nil || got.DisplayName != "x" {
		t.Fatalf("Resolve after concurrency = (%+v, %v)", got, err)
	}
}
