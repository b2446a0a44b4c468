package model

import (
	"time"
)

// KanaEntry is one lexical substitution rule: a half-width phonetic or
// abbreviated token and its expanded form. Source text is unique within
// its scope; an empty scope means the entry is global.
type KanaEntry struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SourceText  string    `json:"source_text"`
	TargetText  string    `json:"target_text"`
	SourceScope string    `json:"source_scope,omitempty"`
	ID          int64     `json:"id"`
	Confidence  float64   `json:"confidence_score"`
	UsageCount  int       `json:"usage_count"`
}
