package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mokuren/passbook-flow/internal/model"
)

// SaveMissingPattern records content detected but not extracted, such
// as a row implied by a break in the balance chain.
func (s *SQLiteStorage) SaveMissingPattern(ctx context.Context, missing *model.MissingPattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if missing == nil {
		return fmt.Errorf("%w: missing", ErrNilParameter)
	}
	if err := validateString(missing.ResultID, "missing.ResultID"); err != nil {
		return err
	}
	if err := validateString(missing.Kind, "missing.Kind"); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO missing_patterns (result_id, kind, row_index, expected, actual, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		missing.ResultID, missing.Kind, missing.Row,
		missing.Expected, missing.Actual, nullString(missing.Note), now,
	)
	if err != nil {
		return fmt.Errorf("failed to save missing pattern: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		missing.ID = id
	}
	missing.CreatedAt = now
	return nil
}

// ListMissingPatterns returns the missing-content records for a result.
func (s *SQLiteStorage) ListMissingPatterns(ctx context.Context, resultID string) ([]model.MissingPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(resultID, "resultID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, result_id, kind, row_index, expected, actual, note, created_at
		FROM missing_patterns
		WHERE result_id = ?
		ORDER BY row_index ASC, id ASC
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.MissingPattern
	for rows.Next() {
		var mp model.MissingPattern
		var note nullStringScanner
		if err := rows.Scan(&mp.ID, &mp.ResultID, &mp.Kind, &mp.Row,
			&mp.Expected, &mp.Actual, &note, &mp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan missing pattern: %w", err)
		}
		mp.Note = note.value
		patterns = append(patterns, mp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating missing patterns: %w", err)
	}

	return patterns, nil
}

// nullStringScanner reads a nullable TEXT column into a plain string.
type nullStringScanner struct {
	value string
}

func (n *nullStringScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.value = ""
	case string:
		n.value = v
	case []byte:
		n.value = string(v)
	default:
		return fmt.Errorf("unsupported type %T for string column", src)
	}
	return nil
}
