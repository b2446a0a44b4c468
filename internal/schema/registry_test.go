package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return NewRegistry(store)
}

func TestResolveUsesGlobalSeedHeaders(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	observed := []ObservedColumn{
		{Label: "日付"},
		{Label: "摘要"},
		{Label: "残高"},
	}
	resolved, err := registry.Resolve(ctx, "mufg", observed)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("got %d mappings, want 3", len(resolved))
	}

	want := []string{"date", "description", "balance"}
	for i, m := range resolved {
		if m.CanonicalName != want[i] {
			t.Errorf("column %d canonical = %q, want %q", i, m.CanonicalName, want[i])
		}
		if m.Inferred {
			t.Errorf("seeded column %q should not be inferred", m.OriginalLabel)
		}
	}
}

func TestResolveInfersUnknownColumns(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	// A source with no stored mappings at all: every unknown raw column
	// gets an auto-inferred, visible, editable mapping.
	observed := []ObservedColumn{
		{Label: "ポイント", Samples: []any{"120", "3,400"}},
		{Label: "メモ", Samples: []any{"家賃", ""}},
	}
	resolved, err := registry.Resolve(ctx, "mufg", observed)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("got %d mappings, want 2", len(resolved))
	}

	for _, m := range resolved {
		if !m.Inferred {
			t.Errorf("column %q should be inferred", m.OriginalLabel)
		}
		if !m.Visible || !m.Editable {
			t.Errorf("inferred column %q should be visible and editable", m.OriginalLabel)
		}
	}
	if resolved[0].Type != model.FieldNumber {
		t.Errorf("numeric column type = %q, want number", resolved[0].Type)
	}
	if resolved[1].Type != model.FieldText {
		t.Errorf("text column type = %q, want text", resolved[1].Type)
	}

	// The inference is persisted for the next document from this source.
	stored, err := registry.Mappings(ctx, "mufg")
	if err != nil {
		t.Fatalf("Mappings failed: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("inferred mappings not persisted: got %d", len(stored))
	}
}

func TestResolveScopedMappingShadowsGlobal(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	scoped := []model.ColumnMapping{{
		OriginalLabel: "日付",
		DisplayLabel:  "取引日",
		CanonicalName: "date",
		Type:          model.FieldDate,
		Visible:       true,
		Editable:      true,
	}}
	if err := registry.Upsert(ctx, "smbc", scoped); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	resolved, err := registry.Resolve(ctx, "smbc", []ObservedColumn{{Label: "日付"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved) != 1 || resolved[0].DisplayLabel != "取引日" {
		t.Errorf("scoped mapping did not shadow global: %+v", resolved)
	}
}

func TestUpsertValidation(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.Upsert(ctx, "", nil); err == nil {
		t.Error("Upsert with empty scope should fail")
	}

	dup := []model.ColumnMapping{
		{OriginalLabel: "日付"},
		{OriginalLabel: "日付"},
	}
	if err := registry.Upsert(ctx, "mufg", dup); err == nil {
		t.Error("Upsert with duplicate labels should fail")
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name    string
		samples []any
		want    model.FieldType
	}{
		{"all numeric strings", []any{"100", "2,500"}, model.FieldNumber},
		{"native numbers", []any{float64(1), int64(2)}, model.FieldNumber},
		{"mixed", []any{"100", "家賃"}, model.FieldText},
		{"empty values only", []any{"", nil}, model.FieldText},
		{"no samples", nil, model.FieldText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferType(tt.samples); got != tt.want {
				t.Errorf("InferType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectSource(t *testing.T) {
	tests := []struct {
		filename string
		content  string
		want     string
	}{
		{"mufg_202406.png", "", "mufg"},
		{"scan001.png", "みずほ銀行 普通預金", "mizuho"},
		{"passbook.png", "三井住友銀行", "smbc"},
		{"unknown.png", "", ""},
	}
	for _, tt := range tests {
		if got := DetectSource(tt.filename, tt.content); got != tt.want {
			t.Errorf("DetectSource(%q, %q) = %q, want %q", tt.filename, tt.content, got, tt.want)
		}
	}
}
