// Package api provides the REST API for the candidate pipeline.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/app"
	"github.com/RobinCoderZhao/aistats/internal/aistats/generator"
	"github.com/RobinCoderZhao/aistats/internal/aistats/pipeline"
	"github.com/RobinCoderZhao/aistats/internal/aistats/registry"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/internal/aistats/store"
)

// maxBodyBytes bounds JSON and spreadsheet uploads.
const maxBodyBytes = 32 << 20

// Server holds the dependencies for the API.
type Server struct {
	app       *app.App
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *slog.Logger
}

// NewServer creates a new API Server instance. An empty jwtSecret disables
// authentication, which is only meant for local development.
func NewServer(a *app.App, jwtSecret string, tokenTTL time.Duration) *Server {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if jwtSecret == "" {
		logger.Warn("API authentication disabled: no JWT secret configured")
	}
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Server{app: a, jwtSecret: []byte(jwtSecret), tokenTTL: tokenTTL, logger: logger}
}

// Routes returns the configured http.Handler (ServeMux) for the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /healthz", s.handleHealth())
	mux.Handle("GET /metrics", s.app.Metrics.Handler())

	read := func(h http.HandlerFunc) http.Handler { return s.requireRole(RoleReader, h) }
	admin := func(h http.HandlerFunc) http.Handler { return s.requireRole(RoleAdmin, h) }

	mux.Handle("POST /api/auth/token", admin(s.handleIssueToken()))

	// Candidates
	mux.Handle("GET /api/modes", read(s.handleModes()))
	mux.Handle("GET /api/candidates", read(s.handleCandidates()))
	mux.Handle("GET /api/candidates/debug", read(s.handleCandidatesDebug()))
	mux.Handle("POST /api/candidates/rescore", read(s.handleRescore()))
	mux.Handle("POST /api/keywords/expand", read(s.handleExpand()))

	// Source registry
	mux.Handle("GET /api/sources", read(s.handleListSources()))
	mux.Handle("GET /api/sources/history", admin(s.handleSourceHistory()))
	mux.Handle("GET /api/sources/history/{id}/diff", admin(s.handleSourceDiff()))
	mux.Handle("POST /api/sources/refresh", admin(s.handleRefreshSources()))
	mux.Handle("POST /api/sources/import", admin(s.handleImportSources()))
	mux.Handle("POST /api/sources/{mode}", admin(s.handleAddSource()))
	mux.Handle("DELETE /api/sources/{mode}/{index}", admin(s.handleRemoveSource()))

	// Content
	mux.Handle("POST /api/content/generate", read(s.handleGenerate()))
	mux.Handle("GET /api/llm/usage", read(s.handleLLMUsage()))

	return mux
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.app.DB.PingContext(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"catalog_version": s.app.Registry.Version(),
			"llm_configured":  s.app.Usage != nil,
		})
	}
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(out)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var qe *sources.QueryError
	switch {
	case errors.Is(err, pipeline.ErrUnknownMode), errors.Is(err, registry.ErrIndexOutOfRange),
		errors.Is(err, store.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, generator.ErrNoModel):
		return http.StatusServiceUnavailable
	case errors.Is(err, generator.ErrNoCandidates):
		return http.StatusUnprocessableEntity
	case errors.As(err, &qe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// listParam reads a comma separated query parameter, also accepting the
// parameter repeated.
func listParam(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func queryFrom(r *http.Request) (pipeline.Query, error) {
	q := pipeline.Query{
		Mode:     r.URL.Query().Get("mode"),
		Tags:     listParam(r, "tags"),
		Keywords: listParam(r, "keywords"),
	}
	if q.Mode == "" {
		return q, errors.New("mode is required")
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, errors.New("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}
