package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/mokuren/passbook-flow/internal/service"
)

// recentWindow bounds the "recent corrections" metric.
const recentWindow = 30 * 24 * time.Hour

// topPatternLimit caps the frequency-ranked pattern list in analytics
// responses.
const topPatternLimit = 50

// Analytics assembles the read-only aggregate view of the learning
// system. Everything here is derived from the ledger and pattern
// store; nothing is authoritative.
func Analytics(ctx context.Context, store service.Storage) (*service.PatternAnalytics, error) {
	kindCounts, err := store.PatternKindCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate pattern kinds: %w", err)
	}

	scopeCounts, err := store.PatternScopeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate pattern scopes: %w", err)
	}

	top, err := store.ListPatternsByFrequency(ctx, topPatternLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank patterns: %w", err)
	}

	count, meanConfidence, err := store.PatternStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern stats: %w", err)
	}

	recent, err := store.CountCorrectionsSince(ctx, time.Now().UTC().Add(-recentWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent corrections: %w", err)
	}

	return &service.PatternAnalytics{
		KindCounts:  kindCounts,
		ScopeCounts: scopeCounts,
		TopPatterns: top,
		Metrics: service.LearningMetrics{
			RecentCorrections: recent,
			PatternCount:      count,
			MeanConfidence:    meanConfidence,
		},
	}, nil
}
