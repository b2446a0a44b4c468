package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mokuren/passbook-flow/internal/model"
)

const mappingColumns = `id, source_scope, original_label, display_label, canonical_name,
	data_type, position, is_visible, is_editable, is_required, is_inferred,
	created_at, updated_at`

// GetColumnMappings returns the mapping set for one source scope,
// ordered by position.
func (s *SQLiteStorage) GetColumnMappings(ctx context.Context, scope string) ([]model.ColumnMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mappingColumns+`
		FROM column_mappings
		WHERE source_scope = ?
		ORDER BY position ASC, id ASC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get column mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []model.ColumnMapping
	for rows.Next() {
		var m model.ColumnMapping
		err := rows.Scan(
			&m.ID, &m.SourceScope, &m.OriginalLabel, &m.DisplayLabel, &m.CanonicalName,
			&m.Type, &m.Position, &m.Visible, &m.Editable, &m.Required, &m.Inferred,
			&m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan column mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column mappings: %w", err)
	}

	return mappings, nil
}

// ReplaceColumnMappings atomically replaces the full mapping set for a
// scope. Concurrent replacements for the same scope resolve
// last-write-wins.
func (s *SQLiteStorage) ReplaceColumnMappings(ctx context.Context, scope string, mappings []model.ColumnMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(scope, "scope"); err != nil {
		return err
	}
	for i := range mappings {
		if err := validateMapping(&mappings[i]); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM column_mappings WHERE source_scope = ?`, scope); err != nil {
		return fmt.Errorf("failed to clear column mappings: %w", err)
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO column_mappings (
			source_scope, original_label, display_label, canonical_name,
			data_type, position, is_visible, is_editable, is_required, is_inferred,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mapping insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range mappings {
		m := &mappings[i]
		_, err = stmt.ExecContext(ctx,
			scope, m.OriginalLabel, m.DisplayLabel, m.CanonicalName,
			m.Type, m.Position, m.Visible, m.Editable, m.Required, m.Inferred,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert mapping %q: %w", m.OriginalLabel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit column mappings: %w", err)
	}
	return nil
}

// UpsertColumnMapping inserts or replaces one mapping keyed by
// (source scope, original label).
func (s *SQLiteStorage) UpsertColumnMapping(ctx context.Context, mapping *model.ColumnMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMapping(mapping); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO column_mappings (
			source_scope, original_label, display_label, canonical_name,
			data_type, position, is_visible, is_editable, is_required, is_inferred,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_scope, original_label) DO UPDATE SET
			display_label = excluded.display_label,
			canonical_name = excluded.canonical_name,
			data_type = excluded.data_type,
			position = excluded.position,
			is_visible = excluded.is_visible,
			is_editable = excluded.is_editable,
			is_required = excluded.is_required,
			is_inferred = excluded.is_inferred,
			updated_at = excluded.updated_at
	`,
		mapping.SourceScope, mapping.OriginalLabel, mapping.DisplayLabel, mapping.CanonicalName,
		mapping.Type, mapping.Position, mapping.Visible, mapping.Editable, mapping.Required,
		mapping.Inferred, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert column mapping: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil && id > 0 {
		mapping.ID = id
	}
	mapping.UpdatedAt = now
	return nil
}
