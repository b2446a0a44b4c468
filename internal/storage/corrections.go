package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mokuren/passbook-flow/internal/model"
)

// AppendCorrection records one user edit. The correction history is an
// append-only audit trail: there is no update or delete path.
func (s *SQLiteStorage) AppendCorrection(ctx context.Context, event *model.CorrectionEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCorrection(event); err != nil {
		return err
	}

	original, err := json.Marshal(event.Original)
	if err != nil {
		return fmt.Errorf("failed to marshal original data: %w", err)
	}
	corrected, err := json.Marshal(event.Corrected)
	if err != nil {
		return fmt.Errorf("failed to marshal corrected data: %w", err)
	}

	var position any
	if event.Position != nil {
		data, marshalErr := json.Marshal(event.Position)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal position: %w", marshalErr)
		}
		position = string(data)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correction_history (
			id, result_id, source_scope, correction_kind,
			original_data, corrected_data, position_info, actor_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.ResultID, event.SourceScope, event.Kind,
		string(original), string(corrected), position,
		nullString(event.ActorID), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append correction: %w", err)
	}
	return nil
}

// GetCorrectionsByResult returns all corrections recorded against a
// result, oldest first.
func (s *SQLiteStorage) GetCorrectionsByResult(ctx context.Context, resultID string) ([]model.CorrectionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(resultID, "resultID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, result_id, source_scope, correction_kind,
			original_data, corrected_data, position_info, actor_id, created_at
		FROM correction_history
		WHERE result_id = ?
		ORDER BY created_at ASC, id ASC
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to get corrections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.CorrectionEvent
	for rows.Next() {
		var event model.CorrectionEvent
		var original, corrected string
		var position, actor sql.NullString

		err := rows.Scan(&event.ID, &event.ResultID, &event.SourceScope, &event.Kind,
			&original, &corrected, &position, &actor, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}

		if err := json.Unmarshal([]byte(original), &event.Original); err != nil {
			return nil, fmt.Errorf("failed to unmarshal original data: %w", err)
		}
		if err := json.Unmarshal([]byte(corrected), &event.Corrected); err != nil {
			return nil, fmt.Errorf("failed to unmarshal corrected data: %w", err)
		}
		if position.Valid && position.String != "" {
			event.Position = &model.CellPosition{}
			if err := json.Unmarshal([]byte(position.String), event.Position); err != nil {
				return nil, fmt.Errorf("failed to unmarshal position: %w", err)
			}
		}
		event.ActorID = actor.String

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating corrections: %w", err)
	}

	return events, nil
}

// CountCorrectionsSince counts corrections recorded at or after the
// given time.
func (s *SQLiteStorage) CountCorrectionsSince(ctx context.Context, since time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM correction_history WHERE created_at >= ?`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count corrections: %w", err)
	}
	return count, nil
}

// CorrectionKindCounts returns per-kind correction counts since the
// given time.
func (s *SQLiteStorage) CorrectionKindCounts(ctx context.Context, since time.Time) (map[model.CorrectionKind]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT correction_kind, COUNT(*)
		FROM correction_history
		WHERE created_at >= ?
		GROUP BY correction_kind
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count corrections by kind: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.CorrectionKind]int)
	for rows.Next() {
		var kind model.CorrectionKind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan correction count: %w", err)
		}
		counts[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating correction counts: %w", err)
	}

	return counts, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
