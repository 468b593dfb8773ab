// Package api exposes the HTTP interface for the pagewatch service:
// health probes, Prometheus metrics, and page administration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talemon/pagewatch/internal/metrics"
	"github.com/talemon/pagewatch/internal/watch"
)

// Config controls server behavior.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
}

// Pinger reports downstream readiness. Satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the page store.
type Server struct {
	router chi.Router
	pages  watch.PageStore
	ready  Pinger
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may
// be nil when there is no downstream to probe.
func NewServer(pages watch.PageStore, ready Pinger, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	metrics.Init()

	s := &Server{
		pages:  pages,
		ready:  ready,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/pages", func(r chi.Router) {
			r.Post("/", s.createPage)
			r.Get("/", s.listPages)
			r.Route("/{page_id}", func(r chi.Router) {
				r.Get("/", s.getPage)
				r.Delete("/", s.deletePage)
				r.Post("/pause", s.pausePage)
				r.Post("/resume", s.resumePage)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createPageRequest struct {
	URL                  string `json:"url"`
	CheckIntervalSeconds int64  `json:"check_interval_seconds"`
}

// pageResponse flattens durations into seconds for API consumers.
type pageResponse struct {
	ID                   int64      `json:"id"`
	URL                  string     `json:"url"`
	URLHash              string     `json:"url_hash"`
	Domain               string     `json:"domain"`
	Status               string     `json:"status"`
	LastCleanHash        string     `json:"last_clean_hash,omitempty"`
	LastCheckAt          *time.Time `json:"last_check_at,omitempty"`
	NextCheckAt          time.Time  `json:"next_check_at"`
	CheckIntervalSeconds int64      `json:"check_interval_seconds"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toPageResponse(p watch.Page) pageResponse {
	return pageResponse{
		ID:                   p.ID,
		URL:                  p.URL,
		URLHash:              p.URLHash,
		Domain:               p.Domain,
		Status:               string(p.Status),
		LastCleanHash:        p.LastCleanHash,
		LastCheckAt:          p.LastCheckAt,
		NextCheckAt:          p.NextCheckAt,
		CheckIntervalSeconds: int64(p.CheckInterval / time.Second),
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	interval := time.Duration(req.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	page, err := s.pages.UpsertPage(r.Context(), req.URL, interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toPageResponse(page))
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	pages, err := s.pages.ListPages(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	out := make([]pageResponse, 0, len(pages))
	for _, p := range pages {
		out = append(out, toPageResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	id, ok := pageID(w, r)
	if !ok {
		return
	}
	page, err := s.pages.GetPage(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	id, ok := pageID(w, r)
	if !ok {
		return
	}
	if err := s.pages.DeletePage(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (s *Server) pausePage(w http.ResponseWriter, r *http.Request) {
	id, ok := pageID(w, r)
	if !ok {
		return
	}
	if err := s.pages.Pause(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(watch.StatusPaused)})
}

func (s *Server) resumePage(w http.ResponseWriter, r *http.Request) {
	id, ok := pageID(w, r)
	if !ok {
		return
	}
	if err := s.pages.Resume(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(watch.StatusPending)})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, watch.ErrPageNotFound) {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	s.logger.Error("page store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "page_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid page id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, routePattern(r), ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
