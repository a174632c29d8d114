package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int

	// DatabasePath is the SQLite file backing the item store.
	DatabasePath string

	// GeocoderURL is the Nominatim-compatible search endpoint.
	GeocoderURL string

	// GeocoderUserAgent identifies this deployment to the geocoding
	// service, as its usage policy requires.
	GeocoderUserAgent string

	// GeocoderTimeout bounds each outbound geocode lookup.
	GeocoderTimeout time.Duration

	// GeocodeCacheTTL is how long geocode results stay cached.
	GeocodeCacheTTL time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() (*Config, error) {
	port := 3000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
	}

	dbPath := os.Getenv("LOSTFOUND_DB_PATH")
	if dbPath == "" {
		dbPath = "lostfound.db"
	}

	geocoderURL := os.Getenv("LOSTFOUND_GEOCODER_URL")
	if geocoderURL == "" {
		geocoderURL = "https://nominatim.openstreetmap.org/search"
	}

	userAgent := os.Getenv("LOSTFOUND_GEOCODER_USER_AGENT")
	if userAgent == "" {
		userAgent = "lostfound-board/1.0"
	}

	geocoderTimeout := 10 * time.Second
	if t := os.Getenv("LOSTFOUND_GEOCODER_TIMEOUT"); t != "" {
		var err error
		geocoderTimeout, err = time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("invalid LOSTFOUND_GEOCODER_TIMEOUT: %w", err)
		}
	}

	cacheTTL := time.Hour
	if t := os.Getenv("LOSTFOUND_GEOCODE_CACHE_TTL"); t != "" {
		var err error
		cacheTTL, err = time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("invalid LOSTFOUND_GEOCODE_CACHE_TTL: %w", err)
		}
	}

	return &Config{
		Port:              port,
		DatabasePath:      dbPath,
		GeocoderURL:       geocoderURL,
		GeocoderUserAgent: userAgent,
		GeocoderTimeout:   geocoderTimeout,
		GeocodeCacheTTL:   cacheTTL,
	}, nil
}
