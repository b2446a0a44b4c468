package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/model"
)

const kanaColumns = `id, source_text, target_text, source_scope, confidence, usage_count,
	created_at, updated_at`

// ListKanaEntries returns all entries visible to a scope: the scope's
// own entries plus the global set.
func (s *SQLiteStorage) ListKanaEntries(ctx context.Context, scope string) ([]model.KanaEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+kanaColumns+`
		FROM kana_dictionary
		WHERE source_scope = ? OR source_scope = ''
		ORDER BY LENGTH(source_text) DESC, usage_count DESC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list kana entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectKanaEntries(rows)
}

// TopKanaEntries returns the most used entries across all scopes.
func (s *SQLiteStorage) TopKanaEntries(ctx context.Context, limit int) ([]model.KanaEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+kanaColumns+`
		FROM kana_dictionary
		ORDER BY usage_count DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top kana entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectKanaEntries(rows)
}

// UpsertKanaEntry inserts or overrides an entry keyed by
// (source scope, source text).
func (s *SQLiteStorage) UpsertKanaEntry(ctx context.Context, entry *model.KanaEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateKanaEntry(entry); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO kana_dictionary (
			source_text, target_text, source_scope, confidence, usage_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_scope, source_text) DO UPDATE SET
			target_text = excluded.target_text,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`,
		entry.SourceText, entry.TargetText, entry.SourceScope,
		entry.Confidence, entry.UsageCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert kana entry: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil && id > 0 {
		entry.ID = id
	}
	entry.UpdatedAt = now
	return nil
}

// IncrementKanaUsage bumps an entry's usage counter.
func (s *SQLiteStorage) IncrementKanaUsage(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE kana_dictionary
		SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment kana usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("kana entry %d: %w", id, common.ErrNotFound)
	}
	return nil
}

func collectKanaEntries(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.KanaEntry, error) {
	var entries []model.KanaEntry
	for rows.Next() {
		var entry model.KanaEntry
		err := rows.Scan(
			&entry.ID, &entry.SourceText, &entry.TargetText, &entry.SourceScope,
			&entry.Confidence, &entry.UsageCount, &entry.CreatedAt, &entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kana entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kana entries: %w", err)
	}
	return entries, nil
}
