package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/learning"
	"github.com/mokuren/passbook-flow/internal/model"
)

// handleRecordCorrection appends one user edit to the ledger. Mining
// runs synchronously; the response carries only the event id, never
// mining output.
func (s *Server) handleRecordCorrection(w http.ResponseWriter, r *http.Request) {
	var event model.CorrectionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid correction payload: %w", err))
		return
	}

	if event.ResultID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("result_id is required"))
		return
	}
	if !event.Kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid correction kind %q", event.Kind))
		return
	}

	if _, err := s.store.GetResult(r.Context(), event.ResultID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.ledger.Record(r.Context(), &event); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": event.ID})
}

// handlePatternAnalysis serves the derived learning-system view.
func (s *Server) handlePatternAnalysis(w http.ResponseWriter, r *http.Request) {
	analytics, err := learning.Analytics(r.Context(), s.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// handleGetMappings returns the ordered mapping set for a source
// scope.
func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")

	mappings, err := s.registry.Mappings(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "mappings": mappings})
}

// handleReplaceMappings replaces a scope's full mapping set.
func (s *Server) handleReplaceMappings(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")

	var payload struct {
		Mappings []model.ColumnMapping `json:"mappings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid mapping payload: %w", err))
		return
	}

	if err := s.registry.Upsert(r.Context(), scope, payload.Mappings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mappings, err := s.registry.Mappings(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "mappings": mappings})
}

// handleListKana returns the top dictionary entries by usage.
func (s *Server) handleListKana(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	entries, err := s.store.TopKanaEntries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleUpsertKana adds or overrides one dictionary entry and drops
// the normalizer cache so it applies immediately.
func (s *Server) handleUpsertKana(w http.ResponseWriter, r *http.Request) {
	var entry model.KanaEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid kana payload: %w", err))
		return
	}
	if entry.Confidence == 0 {
		entry.Confidence = learning.KanaSeedConfidence
	}

	if err := s.store.UpsertKanaEntry(r.Context(), &entry); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.normalizer.Invalidate()

	writeJSON(w, http.StatusCreated, entry)
}
