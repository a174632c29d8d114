// Package httpserver exposes the item store and geocoder over HTTP: a JSON
// API for mutations and reads, and a websocket feed that pushes ordered
// snapshots to connected viewers.
package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mwhitfield/lostfound/internal/config"
	"github.com/mwhitfield/lostfound/internal/domain"
)

// Server is the HTTP server for the lost & found board API.
type Server struct {
	cfg        *config.Config
	store      *domain.ItemStore
	geocoder   domain.Geocoder
	logger     *slog.Logger
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates a new HTTP server over the given store and geocoder.
func NewServer(cfg *config.Config, store *domain.ItemStore, geocoder domain.Geocoder, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		geocoder: geocoder,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/items", s.requireUser(s.handleCreateItem)).Methods(http.MethodPost)
	r.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	r.HandleFunc("/items/{id}", s.handleGetItem).Methods(http.MethodGet)
	r.HandleFunc("/items/{id}/close", s.requireUser(s.handleCloseItem)).Methods(http.MethodPost)
	r.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     withLogging(logger, r),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// requireUser extracts the authenticated user id set by the identity
// provider in front of this service. The id is passed into the store
// explicitly; handlers never read ambient identity state.
func (s *Server) requireUser(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Unauthenticated", "X-User-ID header is required")
			return
		}
		next(w, r, userID)
	}
}

type createItemRequest struct {
	Kind        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type itemResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Kind        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	IsClosed    bool   `json:"isClosed"`
	CreatedAt   string `json:"createdAt"`
}

type geoResponse struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"displayName"`
}

type snapshotResponse struct {
	Revision uint64         `json:"revision"`
	Items    []itemResponse `json:"items"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request, userID string) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return
	}

	item, err := s.store.Create(r.Context(), domain.NewItem{
		OwnerID:     userID,
		Kind:        domain.Kind(req.Kind),
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.Subscribe()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	defer sub.Cancel()

	snap := <-sub.Updates()
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	item, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := map[string]any{"item": toItemResponse(item)}

	// Best-effort enrichment scoped to this one response. A lookup fault
	// degrades the geo field, never the item itself.
	if item.Location != "" {
		geo, err := s.geocoder.Resolve(r.Context(), item.Location)
		switch {
		case err == nil:
			resp["geo"] = geoResponse{
				Latitude:    geo.Latitude,
				Longitude:   geo.Longitude,
				DisplayName: geo.DisplayName,
			}
			resp["geoStatus"] = "resolved"
		case errors.Is(err, domain.ErrNoGeoMatch):
			resp["geoStatus"] = "no_match"
		default:
			s.logger.Warn("geocode lookup failed", "item", id, "error", err)
			resp["geoStatus"] = "failed"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCloseItem(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]

	if err := s.store.SetClosed(r.Context(), id, userID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	item, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// handleFeed upgrades to a websocket and streams snapshots until the
// client disconnects or the store shuts down.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, err := s.store.Subscribe()
	if err != nil {
		s.logger.Warn("feed subscription rejected", "error", err)
		return
	}
	defer sub.Cancel()

	// Reads are only used to detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Cancel()
				return
			}
		}
	}()

	for snap := range sub.Updates() {
		if err := conn.WriteJSON(toSnapshotResponse(snap)); err != nil {
			return
		}
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "ValidationError", validationErr.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}

func toItemResponse(item *domain.Item) itemResponse {
	return itemResponse{
		ID:          item.ID,
		OwnerID:     item.OwnerID,
		Kind:        string(item.Kind),
		Title:       item.Title,
		Description: item.Description,
		Location:    item.Location,
		IsClosed:    item.Closed,
		CreatedAt:   item.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toSnapshotResponse(snap domain.Snapshot) snapshotResponse {
	items := make([]itemResponse, len(snap.Items))
	for i := range snap.Items {
		items[i] = toItemResponse(&snap.Items[i])
	}
	return snapshotResponse{Revision: snap.Revision, Items: items}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade reach the underlying connection
// through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
