package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func amount(v float64) *float64 {
	return &v
}

func createTestResult(id string) *model.ProcessingResult {
	withdrawal := amount(5000)
	return &model.ProcessingResult{
		ID:          id,
		Filename:    "passbook_page1.png",
		SourceScope: "mufg",
		Status:      model.StatusCompleted,
		Method:      "staged",
		Confidence:  0.92,
		StartedAt:   time.Now().UTC().Add(-time.Minute),
		CompletedAt: time.Now().UTC(),
		Transactions: []model.Transaction{
			{Date: "2024-06-01", Description: "ATM", Withdrawal: withdrawal, Balance: 95000, Confidence: 0.96},
			{Date: "2024-06-05", Description: "給与", Deposit: amount(250000), Balance: 345000, Confidence: 0.91},
		},
	}
}

func TestSaveAndGetResult(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	result := createTestResult("res-1")
	result.Transactions[1].Extra = []model.ExtraField{
		{Key: "memo", Type: model.FieldText, Value: "会社"},
	}

	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	got, err := store.GetResult(ctx, "res-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}

	if got.Filename != result.Filename {
		t.Errorf("Filename = %q, want %q", got.Filename, result.Filename)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(got.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(got.Transactions))
	}
	if got.Transactions[0].WithdrawalAmount() != 5000 {
		t.Errorf("Withdrawal = %v, want 5000", got.Transactions[0].Withdrawal)
	}
	if got.Transactions[0].Deposit != nil {
		t.Errorf("Deposit should be nil for an empty cell")
	}
	if len(got.Transactions[1].Extra) != 1 || got.Transactions[1].Extra[0].Key != "memo" {
		t.Errorf("Extra fields not round-tripped: %+v", got.Transactions[1].Extra)
	}
}

func TestSaveResultOverwritesTransactions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	result := createTestResult("res-2")
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	result.Status = model.StatusNeedsReview
	result.Transactions = result.Transactions[:1]
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("second SaveResult failed: %v", err)
	}

	got, err := store.GetResult(ctx, "res-2")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if got.Status != model.StatusNeedsReview {
		t.Errorf("Status = %q, want needs_review", got.Status)
	}
	if len(got.Transactions) != 1 {
		t.Errorf("got %d transactions after overwrite, want 1", len(got.Transactions))
	}
}

func TestGetResultNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetResult(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRecentResults(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for i, id := range []string{"old", "mid", "new"} {
		result := createTestResult(id)
		result.StartedAt = time.Now().UTC().Add(time.Duration(i) * time.Hour)
		if err := store.SaveResult(ctx, result); err != nil {
			t.Fatalf("SaveResult(%s) failed: %v", id, err)
		}
	}

	results, err := store.ListRecentResults(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "new" || results[1].ID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", results[0].ID, results[1].ID)
	}
}

func TestCorrectionLedgerAppendAndRead(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveResult(ctx, createTestResult("res-3")); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		event := &model.CorrectionEvent{
			ID:          "evt-" + string(rune('a'+i)),
			ResultID:    "res-3",
			SourceScope: "mufg",
			Kind:        model.CorrectionCellEdit,
			Original:    map[string]any{"description": "ｼｮｳﾖ"},
			Corrected:   map[string]any{"description": "賞与"},
			Position:    &model.CellPosition{Row: i, Column: "description"},
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendCorrection(ctx, event); err != nil {
			t.Fatalf("AppendCorrection failed: %v", err)
		}
	}

	events, err := store.GetCorrectionsByResult(ctx, "res-3")
	if err != nil {
		t.Fatalf("GetCorrectionsByResult failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].ID != "evt-a" || events[2].ID != "evt-c" {
		t.Errorf("events not in append order: %s..%s", events[0].ID, events[2].ID)
	}
	if events[0].Corrected["description"] != "賞与" {
		t.Errorf("corrected data not round-tripped: %v", events[0].Corrected)
	}
	if events[0].Position == nil || events[0].Position.Column != "description" {
		t.Errorf("position not round-tripped: %+v", events[0].Position)
	}

	count, err := store.CountCorrectionsSince(ctx, base)
	if err != nil {
		t.Fatalf("CountCorrectionsSince failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	kinds, err := store.CorrectionKindCounts(ctx, base)
	if err != nil {
		t.Fatalf("CorrectionKindCounts failed: %v", err)
	}
	if kinds[model.CorrectionCellEdit] != 3 {
		t.Errorf("cell_edit count = %d, want 3", kinds[model.CorrectionCellEdit])
	}
}

func TestPatternLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetPatternByKey(ctx, model.CorrectionCellEdit, "mufg", "ｼｮｳﾖ")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	pattern := &model.LearningPattern{
		Kind:        model.CorrectionCellEdit,
		SourceScope: "mufg",
		Original:    "ｼｮｳﾖ",
		Corrected:   "賞与",
		Frequency:   1,
		Confidence:  0.5,
	}
	if err := store.CreatePattern(ctx, pattern); err != nil {
		t.Fatalf("CreatePattern failed: %v", err)
	}
	if pattern.ID == 0 {
		t.Fatal("CreatePattern did not assign an ID")
	}

	pattern.Frequency = 2
	pattern.Confidence = 0.54
	if err := store.UpdatePattern(ctx, pattern); err != nil {
		t.Fatalf("UpdatePattern failed: %v", err)
	}

	got, err := store.GetPatternByKey(ctx, model.CorrectionCellEdit, "mufg", "ｼｮｳﾖ")
	if err != nil {
		t.Fatalf("GetPatternByKey failed: %v", err)
	}
	if got.Frequency != 2 || got.Confidence != 0.54 {
		t.Errorf("pattern = freq %d conf %.2f, want 2/0.54", got.Frequency, got.Confidence)
	}
	if got.LastUsedAt != nil {
		t.Error("LastUsedAt should be nil before first use")
	}

	if err := store.TouchPatternUse(ctx, got.ID); err != nil {
		t.Fatalf("TouchPatternUse failed: %v", err)
	}
	got, err = store.GetPatternByKey(ctx, model.CorrectionCellEdit, "mufg", "ｼｮｳﾖ")
	if err != nil {
		t.Fatalf("GetPatternByKey after touch failed: %v", err)
	}
	if got.LastUsedAt == nil {
		t.Error("LastUsedAt not set by TouchPatternUse")
	}
}

func TestGetActivePatternsFiltersThresholds(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed := []model.LearningPattern{
		{Kind: model.CorrectionCellEdit, SourceScope: "mufg", Original: "a", Corrected: "b", Frequency: 5, Confidence: 0.9},
		{Kind: model.CorrectionCellEdit, SourceScope: "", Original: "c", Corrected: "d", Frequency: 3, Confidence: 0.7},
		{Kind: model.CorrectionCellEdit, SourceScope: "mufg", Original: "e", Corrected: "f", Frequency: 1, Confidence: 0.9},
		{Kind: model.CorrectionCellEdit, SourceScope: "mufg", Original: "g", Corrected: "h", Frequency: 5, Confidence: 0.3},
		{Kind: model.CorrectionCellEdit, SourceScope: "mizuho", Original: "i", Corrected: "j", Frequency: 5, Confidence: 0.9},
	}
	for i := range seed {
		if err := store.CreatePattern(ctx, &seed[i]); err != nil {
			t.Fatalf("CreatePattern failed: %v", err)
		}
	}

	active, err := store.GetActivePatterns(ctx, "mufg", 2, 0.6)
	if err != nil {
		t.Fatalf("GetActivePatterns failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active patterns, want 2", len(active))
	}
	// Highest frequency first; scoped and global both visible.
	if active[0].Original != "a" || active[1].Original != "c" {
		t.Errorf("active = %s, %s; want a, c", active[0].Original, active[1].Original)
	}
}

func TestColumnMappingReplaceAndUpsert(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	mappings := []model.ColumnMapping{
		{SourceScope: "mufg", OriginalLabel: "日付", DisplayLabel: "日付", CanonicalName: "date", Type: model.FieldDate, Position: 1, Visible: true, Editable: true},
		{SourceScope: "mufg", OriginalLabel: "摘要", DisplayLabel: "摘要", CanonicalName: "description", Type: model.FieldText, Position: 2, Visible: true, Editable: true},
	}
	if err := store.ReplaceColumnMappings(ctx, "mufg", mappings); err != nil {
		t.Fatalf("ReplaceColumnMappings failed: %v", err)
	}

	replacement := []model.ColumnMapping{
		{SourceScope: "mufg", OriginalLabel: "取引日", DisplayLabel: "取引日", CanonicalName: "date", Type: model.FieldDate, Position: 1, Visible: true, Editable: true},
	}
	if err := store.ReplaceColumnMappings(ctx, "mufg", replacement); err != nil {
		t.Fatalf("second ReplaceColumnMappings failed: %v", err)
	}

	got, err := store.GetColumnMappings(ctx, "mufg")
	if err != nil {
		t.Fatalf("GetColumnMappings failed: %v", err)
	}
	if len(got) != 1 || got[0].OriginalLabel != "取引日" {
		t.Fatalf("replace was not a full replace: %+v", got)
	}

	upsert := &model.ColumnMapping{
		SourceScope: "mufg", OriginalLabel: "取引日", DisplayLabel: "Date",
		CanonicalName: "date", Type: model.FieldDate, Position: 1, Visible: true, Editable: true,
	}
	if err := store.UpsertColumnMapping(ctx, upsert); err != nil {
		t.Fatalf("UpsertColumnMapping failed: %v", err)
	}

	got, err = store.GetColumnMappings(ctx, "mufg")
	if err != nil {
		t.Fatalf("GetColumnMappings failed: %v", err)
	}
	if len(got) != 1 || got[0].DisplayLabel != "Date" {
		t.Errorf("upsert did not update in place: %+v", got)
	}
}

func TestKanaEntrySeedAndUsage(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	entries, err := store.ListKanaEntries(ctx, "mufg")
	if err != nil {
		t.Fatalf("ListKanaEntries failed: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("migration seed dictionary is empty")
	}

	entry := &model.KanaEntry{
		SourceText:  "ｼｮｳﾖ",
		TargetText:  "賞与",
		SourceScope: "mufg",
		Confidence:  0.9,
	}
	if err := store.UpsertKanaEntry(ctx, entry); err != nil {
		t.Fatalf("UpsertKanaEntry failed: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("UpsertKanaEntry did not assign an ID")
	}

	if err := store.IncrementKanaUsage(ctx, entry.ID); err != nil {
		t.Fatalf("IncrementKanaUsage failed: %v", err)
	}

	top, err := store.TopKanaEntries(ctx, 1)
	if err != nil {
		t.Fatalf("TopKanaEntries failed: %v", err)
	}
	if len(top) != 1 || top[0].SourceText != "ｼｮｳﾖ" || top[0].UsageCount != 1 {
		t.Errorf("top entry = %+v, want ｼｮｳﾖ with 1 use", top)
	}

	if err := store.IncrementKanaUsage(ctx, 999999); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("IncrementKanaUsage on missing id = %v, want ErrNotFound", err)
	}
}

func TestMissingPatternRoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SaveResult(ctx, createTestResult("res-4")); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	missing := &model.MissingPattern{
		ResultID: "res-4",
		Kind:     model.MissingBalanceGap,
		Row:      1,
		Expected: 340000,
		Actual:   345000,
		Note:     "balance chain break, a row may be missing or misread",
	}
	if err := store.SaveMissingPattern(ctx, missing); err != nil {
		t.Fatalf("SaveMissingPattern failed: %v", err)
	}

	got, err := store.ListMissingPatterns(ctx, "res-4")
	if err != nil {
		t.Fatalf("ListMissingPatterns failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d missing patterns, want 1", len(got))
	}
	if got[0].Kind != model.MissingBalanceGap || got[0].Expected != 340000 {
		t.Errorf("missing pattern = %+v", got[0])
	}
}

func TestPatternStats(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	count, mean, err := store.PatternStats(ctx)
	if err != nil {
		t.Fatalf("PatternStats on empty store failed: %v", err)
	}
	if count != 0 || mean != 0 {
		t.Errorf("empty stats = %d/%.2f, want 0/0", count, mean)
	}

	for i, conf := range []float64{0.4, 0.8} {
		p := &model.LearningPattern{
			Kind: model.CorrectionCellEdit, SourceScope: "mufg",
			Original: string(rune('a' + i)), Corrected: "x",
			Frequency: 1, Confidence: conf,
		}
		if err := store.CreatePattern(ctx, p); err != nil {
			t.Fatalf("CreatePattern failed: %v", err)
		}
	}

	count, mean, err = store.PatternStats(ctx)
	if err != nil {
		t.Fatalf("PatternStats failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if mean < 0.59 || mean > 0.61 {
		t.Errorf("mean = %.3f, want 0.6", mean)
	}
}
