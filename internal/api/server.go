// Package api exposes the read-only HTTP surface over persisted agency data.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regwatch/regvelocity/internal/regdata"
	"github.com/regwatch/regvelocity/internal/storage/postgres"
	"github.com/regwatch/regvelocity/internal/telemetry"
	"github.com/regwatch/regvelocity/internal/velocity"
)

// reader is the slice of regdata.Store the presentation surface needs.
// It only issues read queries; all writes happen in the sync pipeline.
type reader interface {
	ListAgencies(ctx context.Context) ([]regdata.Agency, error)
	GetAgency(ctx context.Context, slug string) (regdata.Agency, error)
	AgencyHistory(ctx context.Context, slug string) ([]regdata.SeriesPoint, error)
}

// Server wires HTTP handlers to the store.
type Server struct {
	router chi.Router
	store  reader
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store reader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/agencies", func(r chi.Router) {
			r.Get("/", s.listAgencies)
			r.Get("/{slug}", s.getAgency)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listAgencies(w http.ResponseWriter, r *http.Request) {
	agencies, err := s.store.ListAgencies(r.Context())
	if err != nil {
		s.logger.Error("list agencies failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list agencies")
		return
	}
	if agencies == nil {
		agencies = []regdata.Agency{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agencies": agencies})
}

// agencyDetail is the detail view: the agency row plus its aggregate history
// and the velocity stats derived from it.
type agencyDetail struct {
	Agency regdata.Agency `json:"agency"`
	Stats  velocity.Stats `json:"stats"`
}

func (s *Server) getAgency(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	agency, err := s.store.GetAgency(r.Context(), slug)
	if errors.Is(err, postgres.ErrAgencyNotFound) {
		writeError(w, http.StatusNotFound, "agency not found")
		return
	}
	if err != nil {
		s.logger.Error("get agency failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch agency")
		return
	}
	points, err := s.store.AgencyHistory(r.Context(), slug)
	if err != nil {
		s.logger.Error("agency history failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch agency history")
		return
	}
	writeJSON(w, http.StatusOK, agencyDetail{
		Agency: agency,
		Stats:  velocity.Compute(points),
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
