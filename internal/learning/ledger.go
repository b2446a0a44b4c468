// Package learning records user corrections and mines them into
// reusable patterns that feed back into future extractions.
package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/kana"
	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/schema"
	"github.com/mokuren/passbook-flow/internal/service"
)

// Learning rate and activation defaults. The blend weights are tunable
// approximations, not contracts; adjust against observed convergence.
const (
	DefaultTextAlpha       = 0.08
	DefaultKanaAlpha       = 0.05
	DefaultMinSupport      = 2
	DefaultActivation      = 0.6
	NewPatternConfidence   = 0.5
	KanaSeedConfidence     = 0.9
	humanObservationWeight = 1.0
)

// Options tunes the miner.
type Options struct {
	TextAlpha  float64
	KanaAlpha  float64
	MinSupport int
	Activation float64
}

func (o *Options) applyDefaults() {
	if o.TextAlpha <= 0 {
		o.TextAlpha = DefaultTextAlpha
	}
	if o.KanaAlpha <= 0 {
		o.KanaAlpha = DefaultKanaAlpha
	}
	if o.MinSupport <= 0 {
		o.MinSupport = DefaultMinSupport
	}
	if o.Activation <= 0 {
		o.Activation = DefaultActivation
	}
}

// Ledger is the append-only correction log plus the pattern miner that
// runs synchronously after every append.
type Ledger struct {
	store      service.Storage
	normalizer *kana.Normalizer
	registry   *schema.Registry
	ruleset    *Ruleset
	opts       Options

	// Serializes the read-modify-write cycle on pattern rows.
	mineMu sync.Mutex
}

// NewLedger creates a correction ledger.
func NewLedger(store service.Storage, normalizer *kana.Normalizer, registry *schema.Registry, ruleset *Ruleset, opts Options) *Ledger {
	opts.applyDefaults()
	return &Ledger{
		store:      store,
		normalizer: normalizer,
		registry:   registry,
		ruleset:    ruleset,
		opts:       opts,
	}
}

// Record appends one correction event and mines it. The append is
// authoritative; a mining failure is logged and does not roll back the
// event.
func (l *Ledger) Record(ctx context.Context, event *model.CorrectionEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if !event.Kind.Valid() {
		return fmt.Errorf("invalid correction kind: %s", event.Kind)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := l.store.AppendCorrection(ctx, event); err != nil {
		return fmt.Errorf("failed to append correction: %w", err)
	}

	if err := l.mine(ctx, event); err != nil {
		common.LogError(err, "pattern mining failed", common.Fields{
			"event_id": event.ID,
			"kind":     string(event.Kind),
		})
	}

	return nil
}

// mine updates the learning state for one event.
func (l *Ledger) mine(ctx context.Context, event *model.CorrectionEvent) error {
	switch event.Kind {
	case model.CorrectionCellEdit:
		return l.mineCellEdit(ctx, event)
	case model.CorrectionColumnAdd, model.CorrectionColumnRename:
		return l.mineColumnChange(ctx, event)
	case model.CorrectionRowAdd, model.CorrectionRowDelete:
		// Row shape changes carry no reusable text pattern; the event
		// itself is the record.
		return nil
	default:
		return fmt.Errorf("unhandled correction kind: %s", event.Kind)
	}
}

// mineCellEdit reinforces the (kind, scope, original) pattern and, for
// katakana description fixes with enough support, promotes the pair
// into the kana dictionary.
func (l *Ledger) mineCellEdit(ctx context.Context, event *model.CorrectionEvent) error {
	original, corrected, ok := correctionText(event)
	if !ok || original == corrected {
		return nil
	}

	l.mineMu.Lock()
	defer l.mineMu.Unlock()

	pattern, err := l.reinforce(ctx, event.Kind, event.SourceScope, original, corrected)
	if err != nil {
		return err
	}
	l.ruleset.Invalidate()

	if containsHalfWidthKana(original) && pattern.Frequency >= l.opts.MinSupport {
		if err := l.promoteKana(ctx, event.SourceScope, original, corrected); err != nil {
			return err
		}
	}

	return nil
}

// reinforce creates the pattern on first sight, or bumps its frequency
// and blends its confidence toward a confirmed human observation.
func (l *Ledger) reinforce(ctx context.Context, kind model.CorrectionKind, scope, original, corrected string) (*model.LearningPattern, error) {
	pattern, err := l.store.GetPatternByKey(ctx, kind, scope, original)
	if errors.Is(err, common.ErrNotFound) {
		pattern = &model.LearningPattern{
			Kind:        kind,
			SourceScope: scope,
			Original:    original,
			Corrected:   corrected,
			Frequency:   1,
			Confidence:  NewPatternConfidence,
		}
		if createErr := l.store.CreatePattern(ctx, pattern); createErr != nil {
			return nil, fmt.Errorf("failed to create pattern: %w", createErr)
		}
		return pattern, nil
	}
	if err != nil {
		return nil, err
	}

	pattern.Frequency++
	pattern.Corrected = corrected
	pattern.Confidence = blend(pattern.Confidence, humanObservationWeight, l.opts.TextAlpha)
	if err := l.store.UpdatePattern(ctx, pattern); err != nil {
		return nil, fmt.Errorf("failed to update pattern: %w", err)
	}
	return pattern, nil
}

// promoteKana pushes a repeated katakana correction into the
// dictionary and drops the normalizer's cache so the entry applies to
// the next document.
func (l *Ledger) promoteKana(ctx context.Context, scope, original, corrected string) error {
	confidence := KanaSeedConfidence
	if existing := l.findKanaEntry(ctx, scope, original); existing != nil {
		confidence = blend(existing.Confidence, humanObservationWeight, l.opts.KanaAlpha)
	}

	entry := &model.KanaEntry{
		SourceText:  original,
		TargetText:  corrected,
		SourceScope: scope,
		Confidence:  confidence,
	}
	if err := l.store.UpsertKanaEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to promote kana entry: %w", err)
	}

	l.normalizer.Invalidate()
	return nil
}

func (l *Ledger) findKanaEntry(ctx context.Context, scope, source string) *model.KanaEntry {
	entries, err := l.store.ListKanaEntries(ctx, scope)
	if err != nil {
		return nil
	}
	for i := range entries {
		if entries[i].SourceText == source && entries[i].SourceScope == scope {
			return &entries[i]
		}
	}
	return nil
}

// mineColumnChange routes schema corrections straight into the column
// registry.
func (l *Ledger) mineColumnChange(ctx context.Context, event *model.CorrectionEvent) error {
	if event.SourceScope == "" {
		return fmt.Errorf("column correction requires a source scope")
	}

	label, _ := stringField(event.Corrected, "original_label")
	if label == "" && event.Position != nil {
		label = event.Position.Column
	}
	if label == "" {
		return fmt.Errorf("column correction carries no label")
	}

	display, _ := stringField(event.Corrected, "display_label")
	canonical, _ := stringField(event.Corrected, "canonical_name")
	dataType, _ := stringField(event.Corrected, "data_type")

	mapping := &model.ColumnMapping{
		SourceScope:   event.SourceScope,
		OriginalLabel: label,
		DisplayLabel:  display,
		CanonicalName: canonical,
		Type:          model.FieldType(dataType),
		Visible:       true,
		Editable:      true,
	}
	if mapping.DisplayLabel == "" {
		mapping.DisplayLabel = label
	}
	if mapping.Type == "" {
		mapping.Type = model.FieldText
	}
	if mapping.CanonicalName == "" {
		mapping.CanonicalName = label
	}

	if err := l.store.UpsertColumnMapping(ctx, mapping); err != nil {
		return fmt.Errorf("failed to apply column correction: %w", err)
	}
	return nil
}

// blend moves a confidence toward an observation by learning rate
// alpha.
func blend(old, observed, alpha float64) float64 {
	v := old*(1-alpha) + observed*alpha
	if v > 1 {
		return 1
	}
	return v
}

// correctionText pulls the before/after strings out of a cell edit.
// The edited column is named by the position; description is the
// fallback for legacy events without one.
func correctionText(event *model.CorrectionEvent) (original, corrected string, ok bool) {
	key := "description"
	if event.Position != nil && event.Position.Column != "" {
		key = event.Position.Column
	}

	original, okOrig := stringField(event.Original, key)
	corrected, okCorr := stringField(event.Corrected, key)
	if !okOrig || !okCorr || original == "" || corrected == "" {
		return "", "", false
	}
	return original, corrected, true
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// containsHalfWidthKana reports whether s contains characters in the
// half-width katakana block (U+FF61 through U+FF9F).
func containsHalfWidthKana(s string) bool {
	for _, r := range s {
		if r >= 0xFF61 && r <= 0xFF9F {
			return true
		}
	}
	return false
}
