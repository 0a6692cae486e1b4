// Package api exposes the read-only HTTP interface consumed by the
// dashboard and analytics readers. All endpoints query the case store;
// nothing here writes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jurisdata/lawnet-ingest/internal/ingest"
)

// Server wires HTTP handlers to the case store.
type Server struct {
	router chi.Router
	store  ingest.CaseStore
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store ingest.CaseStore, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cases", s.listCases)
		r.Get("/cases/{reference}", s.getCase)
		r.Get("/stats", s.getStats)
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

func (s *Server) listCases(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("List cases failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}
	// Full texts can run to tens of KB each; the listing carries
	// metadata only.
	type caseSummary struct {
		Reference          string    `json:"reference"`
		Court              string    `json:"court"`
		Year               int       `json:"year"`
		CaseNumber         string    `json:"case_number"`
		CaseName           string    `json:"case_name,omitempty"`
		Outcome            string    `json:"outcome,omitempty"`
		AreaOfLaw          string    `json:"area_of_law,omitempty"`
		FetchedAt          time.Time `json:"fetched_at"`
		ExtractionComplete bool      `json:"extraction_complete"`
	}
	summaries := make([]caseSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, caseSummary{
			Reference:          rec.Reference,
			Court:              rec.Court,
			Year:               rec.Year,
			CaseNumber:         rec.CaseNumber,
			CaseName:           rec.CaseName,
			Outcome:            rec.Outcome,
			AreaOfLaw:          rec.AreaOfLaw,
			FetchedAt:          rec.FetchedAt,
			ExtractionComplete: rec.ExtractionComplete,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": summaries})
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "reference")
	reference, err := url.PathUnescape(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reference")
		return
	}

	rec, err := s.store.Get(r.Context(), reference)
	if errors.Is(err, ingest.ErrNotFound) {
		writeError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		s.logger.Error("Get case failed", zap.String("reference", reference), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("Stats query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client gone
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panicked", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
