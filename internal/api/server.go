// Package api exposes the processing pipeline and learning system over
// HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/mokuren/passbook-flow/internal/engine"
	"github.com/mokuren/passbook-flow/internal/kana"
	"github.com/mokuren/passbook-flow/internal/learning"
	"github.com/mokuren/passbook-flow/internal/schema"
	"github.com/mokuren/passbook-flow/internal/service"
)

// Server routes HTTP requests into the pipeline.
type Server struct {
	router     chi.Router
	engine     *engine.Engine
	store      service.Storage
	ledger     *learning.Ledger
	registry   *schema.Registry
	normalizer *kana.Normalizer
}

// NewServer wires the API routes around the given components.
func NewServer(eng *engine.Engine, store service.Storage, ledger *learning.Ledger,
	registry *schema.Registry, normalizer *kana.Normalizer) *Server {

	s := &Server{
		router:     chi.NewRouter(),
		engine:     eng,
		store:      store,
		ledger:     ledger,
		registry:   registry,
		normalizer: normalizer,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(requestLogger)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleProcessDocument)
		r.Get("/results", s.handleListResults)
		r.Get("/results/{id}", s.handleGetResult)

		r.Route("/learning", func(r chi.Router) {
			r.Post("/corrections", s.handleRecordCorrection)
			r.Get("/patterns/analysis", s.handlePatternAnalysis)
			r.Get("/column-mappings/{scope}", s.handleGetMappings)
			r.Put("/column-mappings/{scope}", s.handleReplaceMappings)
			r.Get("/kana", s.handleListKana)
			r.Post("/kana", s.handleUpsertKana)
		})
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"dur", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	} else {
		slog.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
