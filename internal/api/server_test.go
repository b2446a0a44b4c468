package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mokuren/passbook-flow/internal/engine"
	"github.com/mokuren/passbook-flow/internal/extract"
	"github.com/mokuren/passbook-flow/internal/kana"
	"github.com/mokuren/passbook-flow/internal/learning"
	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/reconcile"
	"github.com/mokuren/passbook-flow/internal/schema"
	"github.com/mokuren/passbook-flow/internal/service"
	"github.com/mokuren/passbook-flow/internal/storage"
)

// 1x1 white PNG used as an uploadable page image.
const tinyPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

type testServer struct {
	server     *Server
	store      *storage.SQLiteStorage
	structural *extract.MockExtractor
	validator  *extract.MockExtractor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	normalizer := kana.NewNormalizer(store)
	registry := schema.NewRegistry(store)
	ruleset := learning.NewRuleset(store, 0, 0)
	reconciler := reconcile.NewReconciler(normalizer, registry, 0)
	ledger := learning.NewLedger(store, normalizer, registry, ruleset, learning.Options{})

	structural := extract.NewMockExtractor("structural-mock")
	validator := extract.NewMockExtractor("validator-mock")

	eng := engine.New(structural, validator, reconciler, ruleset, registry, store, nil, engine.Options{
		Retry: service.RetryOptions{MaxAttempts: 1, InitialDelay: 1, MaxDelay: 1, Multiplier: 2},
	})

	return &testServer{
		server:     NewServer(eng, store, ledger, registry, normalizer),
		store:      store,
		structural: structural,
		validator:  validator,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func seedResult(t *testing.T, store *storage.SQLiteStorage, id string) {
	t.Helper()
	result := &model.ProcessingResult{
		ID:        id,
		Filename:  "mufg_202406.png",
		Status:    model.StatusCompleted,
		Method:    engine.MethodParallel,
		StartedAt: time.Now().UTC(),
	}
	if err := store.SaveResult(context.Background(), result); err != nil {
		t.Fatalf("Failed to seed result: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestRecordCorrection(t *testing.T) {
	ts := newTestServer(t)
	seedResult(t, ts.store, "result-1")

	event := map[string]any{
		"result_id":       "result-1",
		"correction_kind": "cell_edit",
		"source_scope":    "mufg",
		"original_data":   map[string]any{"description": "ｶ)ﾔﾏﾀﾞ"},
		"corrected_data":  map[string]any{"description": "株式会社山田"},
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/learning/corrections", event)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["id"] == "" {
		t.Error("response missing event id")
	}

	events, err := ts.store.GetCorrectionsByResult(context.Background(), "result-1")
	if err != nil {
		t.Fatalf("GetCorrectionsByResult failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestRecordCorrectionValidation(t *testing.T) {
	ts := newTestServer(t)
	seedResult(t, ts.store, "result-1")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing result id", map[string]any{"correction_kind": "cell_edit"}, http.StatusBadRequest},
		{"bad kind", map[string]any{"result_id": "result-1", "correction_kind": "resize"}, http.StatusBadRequest},
		{"unknown result", map[string]any{"result_id": "ghost", "correction_kind": "cell_edit"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/learning/corrections", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetResultEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedResult(t, ts.store, "result-1")

	rec := ts.do(t, http.MethodGet, "/api/v1/results/result-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result model.ProcessingResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.ID != "result-1" || result.Filename != "mufg_202406.png" {
		t.Errorf("result = %+v", result)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/results/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing result status = %d, want 404", rec.Code)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/results?limit=nope", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/results?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listing struct {
		Results []model.ProcessingResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	if len(listing.Results) != 1 {
		t.Errorf("got %d results, want 1", len(listing.Results))
	}
}

func TestKanaEndpoints(t *testing.T) {
	ts := newTestServer(t)

	entry := map[string]any{
		"source_text": "ｼﾝｷ",
		"target_text": "新規",
	}
	rec := ts.do(t, http.MethodPost, "/api/v1/learning/kana", entry)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created model.KanaEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode entry: %v", err)
	}
	if created.Confidence != learning.KanaSeedConfidence {
		t.Errorf("confidence = %v, want default %v", created.Confidence, learning.KanaSeedConfidence)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/learning/kana", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ｼﾝｷ") {
		t.Error("listing missing the new entry")
	}
}

func TestMappingEndpoints(t *testing.T) {
	ts := newTestServer(t)

	payload := map[string]any{
		"mappings": []map[string]any{
			{"original_label": "日付", "canonical_name": "date", "data_type": "date", "is_visible": true, "is_editable": true},
			{"original_label": "ポイント", "canonical_name": "points", "data_type": "number", "is_visible": true, "is_editable": true},
		},
	}
	rec := ts.do(t, http.MethodPut, "/api/v1/learning/column-mappings/mufg", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/learning/column-mappings/mufg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var resp struct {
		Scope    string                `json:"scope"`
		Mappings []model.ColumnMapping `json:"mappings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode mappings: %v", err)
	}
	if resp.Scope != "mufg" || len(resp.Mappings) != 2 {
		t.Errorf("response = %+v", resp)
	}

	dup := map[string]any{
		"mappings": []map[string]any{
			{"original_label": "日付"},
			{"original_label": "日付"},
		},
	}
	if rec := ts.do(t, http.MethodPut, "/api/v1/learning/column-mappings/mufg", dup); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate labels status = %d, want 400", rec.Code)
	}
}

func TestProcessDocumentUpload(t *testing.T) {
	ts := newTestServer(t)

	deposit := 250000.0
	row := model.CandidateTransaction{
		Date: "2024-06-01", Description: "給与", Deposit: &deposit,
		Balance: 250000, Confidence: 0.92,
	}
	ts.structural.Respond(&model.ExtractionCandidate{Confidence: 0.92, Transactions: []model.CandidateTransaction{row}})
	ts.validator.Respond(&model.ExtractionCandidate{Confidence: 0.91, Transactions: []model.CandidateTransaction{row}})

	page, err := base64.StdEncoding.DecodeString(tinyPNGBase64)
	if err != nil {
		t.Fatalf("Failed to decode test image: %v", err)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("pages", "mufg_page.png")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(page); err != nil {
		t.Fatalf("Failed to write page: %v", err)
	}
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result model.ProcessingResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.Status != model.StatusCompleted || len(result.Transactions) != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.SourceScope != "mufg" {
		t.Errorf("scope = %q, want mufg", result.SourceScope)
	}
}

func TestProcessDocumentRejectsEmptyUpload(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("note", "no pages here"); err != nil {
		t.Fatalf("Failed to write field: %v", err)
	}
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPatternAnalysisEndpoint(t *testing.T) {
	ts := newTestServer(t)

	pattern := &model.LearningPattern{
		Kind:       model.CorrectionCellEdit,
		Original:   "ﾃﾞﾝｷ",
		Corrected:  "電気料金",
		Frequency:  3,
		Confidence: 0.7,
	}
	if err := ts.store.CreatePattern(context.Background(), pattern); err != nil {
		t.Fatalf("CreatePattern failed: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/learning/patterns/analysis", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var analytics service.PatternAnalytics
	if err := json.Unmarshal(rec.Body.Bytes(), &analytics); err != nil {
		t.Fatalf("Failed to decode analytics: %v", err)
	}
	if analytics.Metrics.PatternCount != 1 {
		t.Errorf("pattern count = %d, want 1", analytics.Metrics.PatternCount)
	}
	if len(analytics.TopPatterns) != 1 {
		t.Errorf("top patterns = %+v", analytics.TopPatterns)
	}
}
