package model

import (
	"time"
)

// CorrectionKind classifies a user edit.
type CorrectionKind string

// Correction kind constants.
const (
	CorrectionCellEdit     CorrectionKind = "cell_edit"
	CorrectionRowAdd       CorrectionKind = "row_add"
	CorrectionRowDelete    CorrectionKind = "row_delete"
	CorrectionColumnAdd    CorrectionKind = "column_add"
	CorrectionColumnRename CorrectionKind = "column_rename"
)

// Valid reports whether the kind is one of the known correction kinds.
func (k CorrectionKind) Valid() bool {
	switch k {
	case CorrectionCellEdit, CorrectionRowAdd, CorrectionRowDelete,
		CorrectionColumnAdd, CorrectionColumnRename:
		return true
	default:
		return false
	}
}

// CellPosition locates a correction within a result's transaction grid.
type CellPosition struct {
	Column string `json:"column,omitempty"`
	Row    int    `json:"row"`
}

// CorrectionEvent is an immutable record of one user edit against a
// finalized result. Events are append-only: they are never mutated or
// deleted once recorded.
type CorrectionEvent struct {
	CreatedAt   time.Time      `json:"created_at"`
	Original    map[string]any `json:"original_data"`
	Corrected   map[string]any `json:"corrected_data"`
	Position    *CellPosition  `json:"position,omitempty"`
	ID          string         `json:"id"`
	ResultID    string         `json:"result_id"`
	SourceScope string         `json:"source_scope,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	Kind        CorrectionKind `json:"correction_kind"`
}
