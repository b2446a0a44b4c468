package model

// LegRole identifies which extraction leg produced a candidate set.
type LegRole string

// Leg role constants.
const (
	RoleStructural LegRole = "structural"
	RoleValidator  LegRole = "validator"
)

// CandidateTransaction is one raw transaction tuple as reported by a
// single extraction leg, before reconciliation.
type CandidateTransaction struct {
	Withdrawal      *float64           `json:"withdrawal"`
	Deposit         *float64           `json:"deposit"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
	Extra           map[string]any     `json:"extra,omitempty"`
	Date            string             `json:"date"`
	Description     string             `json:"description"`
	Balance         float64            `json:"balance"`
	Confidence      float64            `json:"confidence_score"`
}

// ExtractionCandidate is the full output of one extraction leg for one
// page. Candidates live only for the duration of an orchestration run
// and are never persisted.
type ExtractionCandidate struct {
	Role         LegRole                `json:"role"`
	Provider     string                 `json:"provider"`
	RawColumns   []string               `json:"raw_columns,omitempty"`
	Transactions []CandidateTransaction `json:"transactions"`
	Confidence   float64                `json:"confidence"`
}
