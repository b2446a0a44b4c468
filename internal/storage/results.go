package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/model"
)

// SaveResult persists a processing result and its transactions. Saving
// an existing id replaces the stored transactions wholesale, which is
// how post-review edits land back in storage.
func (s *SQLiteStorage) SaveResult(ctx context.Context, result *model.ProcessingResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateResult(result); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO processing_results (
			id, filename, source_scope, status, method, confidence,
			structural_confidence, validator_confidence, agreement_score,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			method = excluded.method,
			confidence = excluded.confidence,
			structural_confidence = excluded.structural_confidence,
			validator_confidence = excluded.validator_confidence,
			agreement_score = excluded.agreement_score,
			completed_at = excluded.completed_at
	`,
		result.ID, result.Filename, result.SourceScope, result.Status,
		result.Method, result.Confidence,
		nullFloat(result.StructuralConfidence), nullFloat(result.ValidatorConfidence),
		nullFloat(result.AgreementScore),
		result.StartedAt, nullTime(result.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save processing result: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE result_id = ?`, result.ID); err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			result_id, position, date, description, withdrawal, deposit,
			balance, confidence, balance_inconsistent, extra_fields
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, txn := range result.Transactions {
		var extra any
		if len(txn.Extra) > 0 {
			data, marshalErr := json.Marshal(txn.Extra)
			if marshalErr != nil {
				return fmt.Errorf("failed to marshal extra fields at row %d: %w", i, marshalErr)
			}
			extra = string(data)
		}

		_, err = stmt.ExecContext(ctx,
			result.ID, i, txn.Date, txn.Description,
			nullFloat(txn.Withdrawal), nullFloat(txn.Deposit),
			txn.Balance, txn.Confidence, txn.BalanceInconsistent, extra,
		)
		if err != nil {
			return fmt.Errorf("failed to save transaction at row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

// GetResult retrieves a processing result with its transactions in row order.
func (s *SQLiteStorage) GetResult(ctx context.Context, id string) (*model.ProcessingResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	result, err := s.scanResult(s.db.QueryRowContext(ctx, `
		SELECT id, filename, source_scope, status, method, confidence,
			structural_confidence, validator_confidence, agreement_score,
			started_at, completed_at
		FROM processing_results WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("processing result %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get processing result: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, description, withdrawal, deposit, balance, confidence,
			balance_inconsistent, extra_fields
		FROM transactions WHERE result_id = ? ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var txn model.Transaction
		var withdrawal, deposit sql.NullFloat64
		var extra sql.NullString
		if err := rows.Scan(&txn.Date, &txn.Description, &withdrawal, &deposit,
			&txn.Balance, &txn.Confidence, &txn.BalanceInconsistent, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if withdrawal.Valid {
			txn.Withdrawal = &withdrawal.Float64
		}
		if deposit.Valid {
			txn.Deposit = &deposit.Float64
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &txn.Extra); err != nil {
				return nil, fmt.Errorf("failed to unmarshal extra fields: %w", err)
			}
		}
		result.Transactions = append(result.Transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return result, nil
}

// ListRecentResults returns the most recently started results, newest
// first, without their transactions.
func (s *SQLiteStorage) ListRecentResults(ctx context.Context, limit int) ([]model.ProcessingResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, source_scope, status, method, confidence,
			structural_confidence, validator_confidence, agreement_score,
			started_at, completed_at
		FROM processing_results
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.ProcessingResult
	for rows.Next() {
		result, scanErr := s.scanResult(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan result: %w", scanErr)
		}
		results = append(results, *result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanResult(row rowScanner) (*model.ProcessingResult, error) {
	var result model.ProcessingResult
	var structural, validator, agreement sql.NullFloat64
	var completedAt sql.NullTime

	err := row.Scan(
		&result.ID, &result.Filename, &result.SourceScope, &result.Status,
		&result.Method, &result.Confidence,
		&structural, &validator, &agreement,
		&result.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if structural.Valid {
		result.StructuralConfidence = &structural.Float64
	}
	if validator.Valid {
		result.ValidatorConfidence = &validator.Float64
	}
	if agreement.Valid {
		result.AgreementScore = &agreement.Float64
	}
	if completedAt.Valid {
		result.CompletedAt = completedAt.Time
	}

	return &result, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
