// Package model defines the core data structures for the passbook pipeline.
package model

import (
	"time"
)

// FieldType describes the declared type of a column value.
type FieldType string

// Field type constants.
const (
	FieldDate     FieldType = "date"
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldCurrency FieldType = "currency"
)

// ExtraField carries one schema-driven custom column value on a
// transaction. Canonical fields are first-class struct members; anything
// the extractors return beyond them is carried here, in column order.
type ExtraField struct {
	Value any       `json:"value"`
	Key   string    `json:"key"`
	Type  FieldType `json:"type"`
}

// Transaction is one canonical ledger row produced by reconciliation.
type Transaction struct {
	Date                string       `json:"date"`
	Description         string       `json:"description"`
	Withdrawal          *float64     `json:"withdrawal,omitempty"`
	Deposit             *float64     `json:"deposit,omitempty"`
	Extra               []ExtraField `json:"extra,omitempty"`
	Balance             float64      `json:"balance"`
	Confidence          float64      `json:"confidence_score"`
	BalanceInconsistent bool         `json:"balance_inconsistent,omitempty"`
}

// WithdrawalAmount returns the withdrawal value, treating nil as zero.
func (t *Transaction) WithdrawalAmount() float64 {
	if t.Withdrawal == nil {
		return 0
	}
	return *t.Withdrawal
}

// DepositAmount returns the deposit value, treating nil as zero.
func (t *Transaction) DepositAmount() float64 {
	if t.Deposit == nil {
		return 0
	}
	return *t.Deposit
}

// ProcessingStatus tracks a document through the pipeline.
type ProcessingStatus string

// Processing status constants. Completed, needs_review and failed are
// terminal.
const (
	StatusPending     ProcessingStatus = "pending"
	StatusProcessing  ProcessingStatus = "processing"
	StatusCompleted   ProcessingStatus = "completed"
	StatusNeedsReview ProcessingStatus = "needs_review"
	StatusFailed      ProcessingStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNeedsReview, StatusFailed:
		return true
	default:
		return false
	}
}

// ProcessingResult is one document's processing session.
type ProcessingResult struct {
	StartedAt            time.Time        `json:"started_at"`
	CompletedAt          time.Time        `json:"completed_at,omitempty"`
	StructuralConfidence *float64         `json:"structural_confidence,omitempty"`
	ValidatorConfidence  *float64         `json:"validator_confidence,omitempty"`
	AgreementScore       *float64         `json:"agreement_score,omitempty"`
	ID                   string           `json:"id"`
	Filename             string           `json:"filename"`
	SourceScope          string           `json:"source_scope,omitempty"`
	Method               string           `json:"processing_method"`
	Status               ProcessingStatus `json:"status"`
	Transactions         []Transaction    `json:"transactions"`
	Confidence           float64          `json:"confidence_score"`
}

// Duration returns the elapsed processing time, or zero while the
// session is still in flight.
func (r *ProcessingResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
