package model

import (
	"time"
)

// LearningPattern is a mined, reusable correction rule. Frequency only
// ever increases; patterns are never deleted, only superseded by
// higher-confidence duplicates.
type LearningPattern struct {
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastUsedAt  *time.Time     `json:"last_used_at,omitempty"`
	Original    string         `json:"original_pattern"`
	Corrected   string         `json:"corrected_pattern"`
	SourceScope string         `json:"source_scope,omitempty"`
	Kind        CorrectionKind `json:"pattern_kind"`
	ID          int64          `json:"id"`
	Frequency   int            `json:"frequency"`
	Confidence  float64        `json:"confidence_score"`
}

// Active reports whether the pattern has crossed both thresholds and is
// eligible to be auto-applied to future raw extractions.
func (p *LearningPattern) Active(minSupport int, threshold float64) bool {
	return p.Frequency >= minSupport && p.Confidence >= threshold
}

// MissingPattern records content the reconciler believes exists in the
// source document but was not extracted, kept for future recall tuning.
type MissingPattern struct {
	CreatedAt time.Time `json:"created_at"`
	ResultID  string    `json:"result_id"`
	Kind      string    `json:"kind"`
	Note      string    `json:"note,omitempty"`
	ID        int64     `json:"id"`
	Row       int       `json:"row"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
}

// MissingBalanceGap is the kind recorded when the running balance chain
// breaks between two adjacent rows.
const MissingBalanceGap = "balance_gap"
