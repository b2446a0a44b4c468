// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/mokuren/passbook-flow/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Processing result operations
	SaveResult(ctx context.Context, result *model.ProcessingResult) error
	GetResult(ctx context.Context, id string) (*model.ProcessingResult, error)
	ListRecentResults(ctx context.Context, limit int) ([]model.ProcessingResult, error)

	// Correction ledger operations. The ledger is append-only: there is
	// deliberately no update or delete.
	AppendCorrection(ctx context.Context, event *model.CorrectionEvent) error
	GetCorrectionsByResult(ctx context.Context, resultID string) ([]model.CorrectionEvent, error)
	CountCorrectionsSince(ctx context.Context, since time.Time) (int, error)
	CorrectionKindCounts(ctx context.Context, since time.Time) (map[model.CorrectionKind]int, error)

	// Learning pattern operations
	GetPatternByKey(ctx context.Context, kind model.CorrectionKind, scope, original string) (*model.LearningPattern, error)
	CreatePattern(ctx context.Context, pattern *model.LearningPattern) error
	UpdatePattern(ctx context.Context, pattern *model.LearningPattern) error
	TouchPatternUse(ctx context.Context, id int64) error
	GetActivePatterns(ctx context.Context, scope string, minSupport int, threshold float64) ([]model.LearningPattern, error)
	ListPatternsByFrequency(ctx context.Context, limit int) ([]model.LearningPattern, error)
	PatternKindCounts(ctx context.Context) (map[model.CorrectionKind]int, error)
	PatternScopeCounts(ctx context.Context) (map[string]int, error)
	PatternStats(ctx context.Context) (count int, meanConfidence float64, err error)

	// Column mapping operations
	GetColumnMappings(ctx context.Context, scope string) ([]model.ColumnMapping, error)
	ReplaceColumnMappings(ctx context.Context, scope string, mappings []model.ColumnMapping) error
	UpsertColumnMapping(ctx context.Context, mapping *model.ColumnMapping) error

	// Kana dictionary operations
	ListKanaEntries(ctx context.Context, scope string) ([]model.KanaEntry, error)
	TopKanaEntries(ctx context.Context, limit int) ([]model.KanaEntry, error)
	UpsertKanaEntry(ctx context.Context, entry *model.KanaEntry) error
	IncrementKanaUsage(ctx context.Context, id int64) error

	// Missing pattern operations
	SaveMissingPattern(ctx context.Context, missing *model.MissingPattern) error
	ListMissingPatterns(ctx context.Context, resultID string) ([]model.MissingPattern, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// ProgressSink receives ordered progress events from the pipeline.
// Implementations must be non-blocking; emission is best-effort and a
// sink failure never fails the pipeline.
type ProgressSink interface {
	Emit(stage string, percent int)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// PatternAnalytics is the read-only aggregate view served by the
// pattern analytics endpoint. Derived, never authoritative.
type PatternAnalytics struct {
	KindCounts   map[model.CorrectionKind]int `json:"kind_counts"`
	ScopeCounts  map[string]int               `json:"scope_counts"`
	TopPatterns  []model.LearningPattern      `json:"top_patterns"`
	Metrics      LearningMetrics              `json:"metrics"`
}

// LearningMetrics summarizes learning-system health.
type LearningMetrics struct {
	RecentCorrections int     `json:"recent_corrections"`
	PatternCount      int     `json:"pattern_count"`
	MeanConfidence    float64 `json:"mean_confidence"`
}
