// Package schema maps raw per-source column labels onto the canonical
// transaction schema, inferring entries for columns it has never seen.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/service"
)

// Registry resolves and stores column mappings per source scope.
type Registry struct {
	store service.Storage
}

// NewRegistry creates a registry backed by the given storage.
func NewRegistry(store service.Storage) *Registry {
	return &Registry{store: store}
}

// ObservedColumn is one raw column label seen in a document, with the
// values observed under it (used for type inference on unknown labels).
type ObservedColumn struct {
	Label   string
	Samples []any
}

// Resolve returns the ordered canonical schema for the raw columns
// observed in a document. Known labels use their stored mapping,
// scope-specific over global seed; unseen labels get an auto-inferred
// mapping (editable and visible by default) which is persisted so the
// source remembers it next time.
func (r *Registry) Resolve(ctx context.Context, scope string, observed []ObservedColumn) ([]model.ColumnMapping, error) {
	known, err := r.lookup(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load column mappings: %w", err)
	}

	resolved := make([]model.ColumnMapping, 0, len(observed))
	for i, col := range observed {
		if m, ok := known[col.Label]; ok {
			m.Position = i + 1
			resolved = append(resolved, m)
			continue
		}

		inferred := model.ColumnMapping{
			SourceScope:   scope,
			OriginalLabel: col.Label,
			DisplayLabel:  col.Label,
			CanonicalName: canonicalize(col.Label),
			Type:          InferType(col.Samples),
			Position:      i + 1,
			Visible:       true,
			Editable:      true,
			Inferred:      true,
		}
		if err := r.store.UpsertColumnMapping(ctx, &inferred); err != nil {
			return nil, fmt.Errorf("failed to persist inferred mapping for %q: %w", col.Label, err)
		}
		resolved = append(resolved, inferred)
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].Position < resolved[j].Position
	})

	return resolved, nil
}

// Upsert replaces the full mapping set for a scope. Uniqueness of
// (scope, original label) is enforced; conflicting concurrent upserts
// resolve last-write-wins at the storage layer.
func (r *Registry) Upsert(ctx context.Context, scope string, mappings []model.ColumnMapping) error {
	if scope == "" {
		return fmt.Errorf("source scope is required")
	}

	seen := make(map[string]bool, len(mappings))
	for i := range mappings {
		m := &mappings[i]
		if m.OriginalLabel == "" {
			return fmt.Errorf("mapping %d: original label is required", i)
		}
		if seen[m.OriginalLabel] {
			return fmt.Errorf("duplicate original label %q for scope %q", m.OriginalLabel, scope)
		}
		seen[m.OriginalLabel] = true

		m.SourceScope = scope
		if m.DisplayLabel == "" {
			m.DisplayLabel = m.OriginalLabel
		}
		if m.CanonicalName == "" {
			m.CanonicalName = canonicalize(m.OriginalLabel)
		}
		if m.Type == "" {
			m.Type = model.FieldText
		}
		if m.Position == 0 {
			m.Position = i + 1
		}
	}

	return r.store.ReplaceColumnMappings(ctx, scope, mappings)
}

// Mappings returns the stored mapping set for a scope, ordered by
// position.
func (r *Registry) Mappings(ctx context.Context, scope string) ([]model.ColumnMapping, error) {
	return r.store.GetColumnMappings(ctx, scope)
}

// lookup builds the label index for a scope, overlaying scope-specific
// mappings on the global seed set.
func (r *Registry) lookup(ctx context.Context, scope string) (map[string]model.ColumnMapping, error) {
	known := make(map[string]model.ColumnMapping)

	global, err := r.store.GetColumnMappings(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, m := range global {
		known[m.OriginalLabel] = m
	}

	if scope != "" {
		scoped, scopedErr := r.store.GetColumnMappings(ctx, scope)
		if scopedErr != nil {
			return nil, scopedErr
		}
		for _, m := range scoped {
			known[m.OriginalLabel] = m
		}
	}

	return known, nil
}

// InferType returns number when every non-empty observed value parses
// numerically, text otherwise.
func InferType(samples []any) model.FieldType {
	sawValue := false
	for _, v := range samples {
		switch val := v.(type) {
		case nil:
			continue
		case float64, float32, int, int64:
			sawValue = true
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(val, ",", ""))
			if s == "" {
				continue
			}
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				return model.FieldText
			}
			sawValue = true
		default:
			return model.FieldText
		}
	}
	if !sawValue {
		return model.FieldText
	}
	return model.FieldNumber
}

// canonicalize derives a stable canonical field name from a raw label.
func canonicalize(label string) string {
	name := strings.TrimSpace(strings.ToLower(label))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '/':
			return '_'
		default:
			return r
		}
	}, name)
	if name == "" {
		return "column"
	}
	return name
}
