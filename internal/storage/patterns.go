package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/model"
)

const patternColumns = `id, pattern_kind, source_scope, original_pattern, corrected_pattern,
	frequency, confidence, last_used_at, created_at, updated_at`

// GetPatternByKey retrieves the pattern for a (kind, scope, original)
// key, or common.ErrNotFound.
func (s *SQLiteStorage) GetPatternByKey(ctx context.Context, kind model.CorrectionKind, scope, original string) (*model.LearningPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(original, "original"); err != nil {
		return nil, err
	}

	pattern, err := scanPattern(s.db.QueryRowContext(ctx, `
		SELECT `+patternColumns+`
		FROM learning_patterns
		WHERE pattern_kind = ? AND source_scope = ? AND original_pattern = ?
	`, kind, scope, original))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pattern (%s, %q, %q): %w", kind, scope, original, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return pattern, nil
}

// CreatePattern inserts a new learning pattern.
func (s *SQLiteStorage) CreatePattern(ctx context.Context, pattern *model.LearningPattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_patterns (
			pattern_kind, source_scope, original_pattern, corrected_pattern,
			frequency, confidence, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		pattern.Kind, pattern.SourceScope, pattern.Original, pattern.Corrected,
		pattern.Frequency, pattern.Confidence, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get pattern ID: %w", err)
	}

	pattern.ID = id
	pattern.CreatedAt = now
	pattern.UpdatedAt = now
	return nil
}

// UpdatePattern persists a pattern's frequency, confidence and
// corrected value after a repeat observation.
func (s *SQLiteStorage) UpdatePattern(ctx context.Context, pattern *model.LearningPattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE learning_patterns SET
			corrected_pattern = ?, frequency = ?, confidence = ?, updated_at = ?
		WHERE id = ?
	`,
		pattern.Corrected, pattern.Frequency, pattern.Confidence, now, pattern.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pattern %d: %w", pattern.ID, common.ErrNotFound)
	}

	pattern.UpdatedAt = now
	return nil
}

// TouchPatternUse records that an active pattern was auto-applied.
func (s *SQLiteStorage) TouchPatternUse(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE learning_patterns SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch pattern use: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// GetActivePatterns returns patterns for a scope (plus globals) that
// have crossed both activation thresholds, highest frequency first.
func (s *SQLiteStorage) GetActivePatterns(ctx context.Context, scope string, minSupport int, threshold float64) ([]model.LearningPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM learning_patterns
		WHERE (source_scope = ? OR source_scope = '')
			AND frequency >= ? AND confidence >= ?
		ORDER BY frequency DESC, id ASC
	`, scope, minSupport, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to get active patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPatterns(rows)
}

// ListPatternsByFrequency returns the most frequently observed
// patterns.
func (s *SQLiteStorage) ListPatternsByFrequency(ctx context.Context, limit int) ([]model.LearningPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM learning_patterns
		ORDER BY frequency DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPatterns(rows)
}

// PatternKindCounts returns the number of patterns per kind.
func (s *SQLiteStorage) PatternKindCounts(ctx context.Context) (map[model.CorrectionKind]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern_kind, COUNT(*) FROM learning_patterns GROUP BY pattern_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count patterns by kind: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.CorrectionKind]int)
	for rows.Next() {
		var kind model.CorrectionKind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan pattern count: %w", err)
		}
		counts[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pattern counts: %w", err)
	}
	return counts, nil
}

// PatternScopeCounts returns the number of patterns per source scope,
// excluding globals.
func (s *SQLiteStorage) PatternScopeCounts(ctx context.Context) (map[string]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_scope, COUNT(*)
		FROM learning_patterns
		WHERE source_scope != ''
		GROUP BY source_scope
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count patterns by scope: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var scope string
		var count int
		if err := rows.Scan(&scope, &count); err != nil {
			return nil, fmt.Errorf("failed to scan scope count: %w", err)
		}
		counts[scope] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scope counts: %w", err)
	}
	return counts, nil
}

// PatternStats returns the distinct pattern count and mean confidence.
func (s *SQLiteStorage) PatternStats(ctx context.Context) (int, float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, 0, err
	}

	var count int
	var mean sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(confidence) FROM learning_patterns`).Scan(&count, &mean)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pattern stats: %w", err)
	}
	return count, mean.Float64, nil
}

func scanPattern(row rowScanner) (*model.LearningPattern, error) {
	var pattern model.LearningPattern
	var lastUsed sql.NullTime
	err := row.Scan(
		&pattern.ID, &pattern.Kind, &pattern.SourceScope,
		&pattern.Original, &pattern.Corrected,
		&pattern.Frequency, &pattern.Confidence,
		&lastUsed, &pattern.CreatedAt, &pattern.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		pattern.LastUsedAt = &lastUsed.Time
	}
	return &pattern, nil
}

func collectPatterns(rows *sql.Rows) ([]model.LearningPattern, error) {
	var patterns []model.LearningPattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, *pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}
	return patterns, nil
}
