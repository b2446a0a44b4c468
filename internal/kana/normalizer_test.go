package kana

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/storage"
)

func newTestNormalizer(t *testing.T) (*Normalizer, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return NewNormalizer(store), store
}

func addEntry(t *testing.T, store *storage.SQLiteStorage, scope, source, target string) {
	t.Helper()
	entry := &model.KanaEntry{
		SourceText:  source,
		TargetText:  target,
		SourceScope: scope,
		Confidence:  0.9,
	}
	if err := store.UpsertKanaEntry(context.Background(), entry); err != nil {
		t.Fatalf("UpsertKanaEntry(%q) failed: %v", source, err)
	}
}

func TestNormalizeSubstitutesSeededEntries(t *testing.T) {
	normalizer, _ := newTestNormalizer(t)
	ctx := context.Background()

	got := normalizer.Normalize(ctx, "ﾌﾘｺﾐ ﾔﾏﾀﾞ", "")
	if got != "振込 ﾔﾏﾀﾞ" {
		t.Errorf("Normalize = %q, want %q", got, "振込 ﾔﾏﾀﾞ")
	}
}

func TestNormalizeLongestTokenFirst(t *testing.T) {
	normalizer, _ := newTestNormalizer(t)
	ctx := context.Background()

	// ﾌﾘｺﾐﾃｽｳﾘｮｳ must win over its prefix ﾌﾘｺﾐ.
	got := normalizer.Normalize(ctx, "ﾌﾘｺﾐﾃｽｳﾘｮｳ", "")
	if got != "振込手数料" {
		t.Errorf("Normalize = %q, want 振込手数料", got)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	normalizer, store := newTestNormalizer(t)
	ctx := context.Background()

	addEntry(t, store, "", "ｼｮｳﾖ", "賞与")
	normalizer.Invalidate()

	inputs := []string{
		"ｼｮｳﾖ 6ｶﾞﾂ",
		"ﾌﾘｺﾐ ｹﾝｺｳﾎｹﾝ",
		"すでに正規化済み",
		"  spaced   out  ",
	}
	for _, input := range inputs {
		once := normalizer.Normalize(ctx, input, "")
		twice := normalizer.Normalize(ctx, once, "")
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestNormalizeScopedEntryShadowsGlobal(t *testing.T) {
	normalizer, store := newTestNormalizer(t)
	ctx := context.Background()

	addEntry(t, store, "", "ﾃｽﾄ", "全体")
	addEntry(t, store, "mufg", "ﾃｽﾄ", "三菱")

	if got := normalizer.Normalize(ctx, "ﾃｽﾄ", "mufg"); got != "三菱" {
		t.Errorf("scoped Normalize = %q, want 三菱", got)
	}
	if got := normalizer.Normalize(ctx, "ﾃｽﾄ", "mizuho"); got != "全体" {
		t.Errorf("other-scope Normalize = %q, want 全体", got)
	}
}

func TestNormalizeRecordsUsage(t *testing.T) {
	normalizer, store := newTestNormalizer(t)
	ctx := context.Background()

	addEntry(t, store, "", "ｼｮｳﾖ", "賞与")
	normalizer.Invalidate()

	_ = normalizer.Normalize(ctx, "ｼｮｳﾖ", "")

	top, err := store.TopKanaEntries(ctx, 1)
	if err != nil {
		t.Fatalf("TopKanaEntries failed: %v", err)
	}
	if len(top) != 1 || top[0].SourceText != "ｼｮｳﾖ" || top[0].UsageCount != 1 {
		t.Errorf("usage not recorded: %+v", top)
	}
}

func TestInvalidatePicksUpNewEntries(t *testing.T) {
	normalizer, store := newTestNormalizer(t)
	ctx := context.Background()

	// Warm the cache before the entry exists.
	before := normalizer.Normalize(ctx, "ｼﾝｷ", "")
	if before != "ｼﾝｷ" {
		t.Fatalf("unexpected substitution before entry exists: %q", before)
	}

	addEntry(t, store, "", "ｼﾝｷ", "新規")

	if got := normalizer.Normalize(ctx, "ｼﾝｷ", ""); got != "ｼﾝｷ" {
		t.Errorf("stale cache should still return input, got %q", got)
	}

	normalizer.Invalidate()
	if got := normalizer.Normalize(ctx, "ｼﾝｷ", ""); got != "新規" {
		t.Errorf("after Invalidate got %q, want 新規", got)
	}
}
