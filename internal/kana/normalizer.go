// Package kana normalizes half-width katakana abbreviations found in
// passbook descriptions into their expanded full-width forms, using a
// store-backed substitution dictionary that grows as corrections are
// learned.
package kana

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/service"
)

// Normalizer applies exact-match substitution of known abbreviation
// tokens. Lookups are scoped: entries registered for a specific source
// shadow global entries with the same source text.
type Normalizer struct {
	store service.Storage
	cache map[string][]model.KanaEntry
	mu    sync.RWMutex
}

// NewNormalizer creates a normalizer backed by the given storage.
func NewNormalizer(store service.Storage) *Normalizer {
	return &Normalizer{
		store: store,
		cache: make(map[string][]model.KanaEntry),
	}
}

// Normalize substitutes every known abbreviation token found in text,
// longest token first so that longer tokens are not shadowed by their
// prefixes, and collapses runs of whitespace. Normalizing already
// normalized text returns it unchanged: targets are full-width
// expansions that no source token matches.
func (n *Normalizer) Normalize(ctx context.Context, text, scope string) string {
	if text == "" {
		return text
	}

	entries, err := n.entries(ctx, scope)
	if err != nil {
		slog.Warn("kana dictionary unavailable, returning input unchanged",
			"scope", scope, "error", err)
		return collapseWhitespace(text)
	}

	result := text
	for _, entry := range entries {
		if entry.SourceText == "" || entry.SourceText == entry.TargetText {
			continue
		}
		// An entry whose expansion still contains its own source text
		// would defeat idempotence; never apply it.
		if strings.Contains(entry.TargetText, entry.SourceText) {
			continue
		}
		if !strings.Contains(result, entry.SourceText) {
			continue
		}
		result = strings.ReplaceAll(result, entry.SourceText, entry.TargetText)
		n.recordUsage(ctx, entry.ID)
	}

	return collapseWhitespace(result)
}

// Invalidate drops the cached dictionary. Called after every successful
// dictionary write so the next Normalize sees fresh entries.
func (n *Normalizer) Invalidate() {
	n.mu.Lock()
	n.cache = make(map[string][]model.KanaEntry)
	n.mu.Unlock()
}

// entries returns the substitution list for a scope: scoped entries
// first (they win ties on source text), then globals, longest source
// text first within each group.
func (n *Normalizer) entries(ctx context.Context, scope string) ([]model.KanaEntry, error) {
	n.mu.RLock()
	cached, ok := n.cache[scope]
	n.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := n.store.ListKanaEntries(ctx, scope)
	if err != nil {
		return nil, err
	}

	// Scoped entries shadow globals for the same source text.
	seen := make(map[string]bool, len(raw))
	merged := make([]model.KanaEntry, 0, len(raw))
	for _, pass := range []bool{true, false} {
		for _, e := range raw {
			scoped := e.SourceScope != ""
			if scoped != pass || seen[e.SourceText] {
				continue
			}
			seen[e.SourceText] = true
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return len(merged[i].SourceText) > len(merged[j].SourceText)
	})

	n.mu.Lock()
	n.cache[scope] = merged
	n.mu.Unlock()

	return merged, nil
}

// recordUsage bumps the entry's usage counter. Best-effort: dictionary
// bookkeeping must never fail a normalization.
func (n *Normalizer) recordUsage(ctx context.Context, id int64) {
	if err := n.store.IncrementKanaUsage(ctx, id); err != nil {
		slog.Warn("failed to record kana entry usage", "entry_id", id, "error", err)
	}
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
