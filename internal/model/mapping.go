package model

import (
	"time"
)

// ColumnMapping maps one raw column label observed in a document source
// to the canonical transaction schema. Unique per (source scope,
// original label).
type ColumnMapping struct {
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SourceScope   string    `json:"source_scope"`
	OriginalLabel string    `json:"original_label"`
	DisplayLabel  string    `json:"display_label"`
	CanonicalName string    `json:"canonical_name"`
	Type          FieldType `json:"data_type"`
	ID            int64     `json:"id"`
	Position      int       `json:"position"`
	Visible       bool      `json:"is_visible"`
	Editable      bool      `json:"is_editable"`
	Required      bool      `json:"is_required"`
	Inferred      bool      `json:"is_inferred"`
}

// Canonical field names recognized by the registry.
const (
	CanonicalDate        = "date"
	CanonicalDescription = "description"
	CanonicalWithdrawal  = "withdrawal"
	CanonicalDeposit     = "deposit"
	CanonicalBalance     = "balance"
)
