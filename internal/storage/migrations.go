package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS processing_results (
					id TEXT PRIMARY KEY,
					filename TEXT NOT NULL,
					source_scope TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					method TEXT NOT NULL DEFAULT '',
					confidence REAL NOT NULL DEFAULT 0,
					structural_confidence REAL,
					validator_confidence REAL,
					agreement_score REAL,
					started_at DATETIME NOT NULL,
					completed_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_results_status ON processing_results(status)`,
				`CREATE INDEX idx_results_scope ON processing_results(source_scope)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					result_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					date TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					withdrawal REAL,
					deposit REAL,
					balance REAL NOT NULL DEFAULT 0,
					confidence REAL NOT NULL DEFAULT 0,
					balance_inconsistent INTEGER NOT NULL DEFAULT 0,
					extra_fields TEXT,
					UNIQUE(result_id, position),
					FOREIGN KEY (result_id) REFERENCES processing_results(id)
				)`,
				`CREATE INDEX idx_transactions_result ON transactions(result_id)`,

				`CREATE TABLE IF NOT EXISTS correction_history (
					id TEXT PRIMARY KEY,
					result_id TEXT NOT NULL,
					source_scope TEXT NOT NULL DEFAULT '',
					correction_kind TEXT NOT NULL,
					original_data TEXT NOT NULL,
					corrected_data TEXT NOT NULL,
					position_info TEXT,
					actor_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_corrections_result ON correction_history(result_id)`,
				`CREATE INDEX idx_corrections_created ON correction_history(created_at)`,

				`CREATE TABLE IF NOT EXISTS learning_patterns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					pattern_kind TEXT NOT NULL,
					source_scope TEXT NOT NULL DEFAULT '',
					original_pattern TEXT NOT NULL,
					corrected_pattern TEXT NOT NULL,
					frequency INTEGER NOT NULL DEFAULT 1,
					confidence REAL NOT NULL DEFAULT 0.5,
					last_used_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(pattern_kind, source_scope, original_pattern)
				)`,
				`CREATE INDEX idx_patterns_frequency ON learning_patterns(frequency DESC)`,

				`CREATE TABLE IF NOT EXISTS column_mappings (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					source_scope TEXT NOT NULL DEFAULT '',
					original_label TEXT NOT NULL,
					display_label TEXT NOT NULL,
					canonical_name TEXT NOT NULL,
					data_type TEXT NOT NULL DEFAULT 'text',
					position INTEGER NOT NULL DEFAULT 0,
					is_visible INTEGER NOT NULL DEFAULT 1,
					is_editable INTEGER NOT NULL DEFAULT 1,
					is_required INTEGER NOT NULL DEFAULT 0,
					is_inferred INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(source_scope, original_label)
				)`,

				`CREATE TABLE IF NOT EXISTS kana_dictionary (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					source_text TEXT NOT NULL,
					target_text TEXT NOT NULL,
					source_scope TEXT NOT NULL DEFAULT '',
					confidence REAL NOT NULL DEFAULT 0.5,
					usage_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(source_scope, source_text)
				)`,
				`CREATE INDEX idx_kana_usage ON kana_dictionary(usage_count DESC)`,

				`CREATE TABLE IF NOT EXISTS missing_patterns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					result_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					row_index INTEGER NOT NULL DEFAULT 0,
					expected REAL,
					actual REAL,
					note TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_missing_result ON missing_patterns(result_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Seed base kana dictionary",
		Up: func(tx *sql.Tx) error {
			seeds := []struct {
				source string
				target string
			}{
				// Business and service names commonly misread by OCR
				{"ｱｿｼｴｰｼｮﾝ", "アソシエーション"},
				{"ﾓﾉﾀﾛｰ", "モノタロー"},
				{"ﾗｲﾌ", "ライフ"},
				{"ｸﾚｼﾞｯﾄ", "クレジット"},
				{"ﾋﾞｻﾞ", "ビザ"},
				{"ｾﾌﾞﾝ", "セブン"},
				{"ﾀｲﾑｽﾞｶｰ", "タイムズカー"},
				{"ﾁｸﾎｳ", "チクホウ"},
				{"ﾕｱｰｽﾞ", "ユアーズ"},
				{"ｽﾏｯｸ", "スマック"},
				// Common banking terms
				{"ｸﾚｼﾞｯﾄｶｰﾄﾞ", "クレジットカード"},
				{"ﾃﾞﾋﾞｯﾄ", "デビット"},
				{"ﾌﾘｺﾐ", "振込"},
				{"ﾌﾘｺﾐﾃｽｳﾘｮｳ", "振込手数料"},
				{"ｿｳｺﾞｳﾌﾘｺﾐ", "総合振込"},
				{"ｹﾝｺｳﾎｹﾝ", "健康保険"},
				{"ｲﾘｮｳﾎｹﾝ", "医療保険"},
				{"ｼｬｶｲﾎｹﾝ", "社会保険"},
				{"ｱｲﾃｨｰｴﾑ", "ATM"},
				{"ﾘﾖｳﾃｽｳﾘｮｳ", "利用手数料"},
			}

			stmt, err := tx.Prepare(`
				INSERT INTO kana_dictionary (source_text, target_text, source_scope, confidence)
				VALUES (?, ?, '', 0.9)
				ON CONFLICT(source_scope, source_text) DO NOTHING
			`)
			if err != nil {
				return fmt.Errorf("failed to prepare kana seed statement: %w", err)
			}
			defer func() { _ = stmt.Close() }()

			for _, seed := range seeds {
				if _, err := stmt.Exec(seed.source, seed.target); err != nil {
					return fmt.Errorf("failed to seed kana entry %q: %w", seed.source, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Seed global column header mappings",
		Up: func(tx *sql.Tx) error {
			seeds := []struct {
				label     string
				canonical string
				dataType  string
			}{
				{"日付", "date", "date"},
				{"取引日", "date", "date"},
				{"摘要", "description", "text"},
				{"お取引内容", "description", "text"},
				{"出金", "withdrawal", "currency"},
				{"お引出し", "withdrawal", "currency"},
				{"支払金額", "withdrawal", "currency"},
				{"入金", "deposit", "currency"},
				{"お預入れ", "deposit", "currency"},
				{"預り金額", "deposit", "currency"},
				{"残高", "balance", "currency"},
				{"差引残高", "balance", "currency"},
				{"お取引後残高", "balance", "currency"},
			}

			stmt, err := tx.Prepare(`
				INSERT INTO column_mappings
					(source_scope, original_label, display_label, canonical_name, data_type, position)
				VALUES ('', ?, ?, ?, ?, ?)
				ON CONFLICT(source_scope, original_label) DO NOTHING
			`)
			if err != nil {
				return fmt.Errorf("failed to prepare mapping seed statement: %w", err)
			}
			defer func() { _ = stmt.Close() }()

			for i, seed := range seeds {
				if _, err := stmt.Exec(seed.label, seed.label, seed.canonical, seed.dataType, i+1); err != nil {
					return fmt.Errorf("failed to seed mapping %q: %w", seed.label, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
