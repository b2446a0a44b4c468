package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mokuren/passbook-flow/internal/learning"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect mined correction patterns",
	}

	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsStatsCmd())

	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patterns by observation frequency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			patterns, err := store.ListPatternsByFrequency(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list patterns: %w", err)
			}

			if len(patterns) == 0 {
				slog.Info("No patterns mined yet")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tKIND\tSCOPE\tORIGINAL\tCORRECTED\tFREQ\tCONFIDENCE")
			for _, p := range patterns {
				scope := p.SourceScope
				if scope == "" {
					scope = "(global)"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%.2f\n",
					p.ID, p.Kind, scope, p.Original, p.Corrected,
					p.Frequency, p.Confidence)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntP("limit", "n", 50, "maximum patterns to show")
	return cmd
}

func patternsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show learning-system summary metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			analytics, err := learning.Analytics(cmd.Context(), store)
			if err != nil {
				return fmt.Errorf("failed to aggregate analytics: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "Patterns\t%d\n", analytics.Metrics.PatternCount)
			_, _ = fmt.Fprintf(w, "Mean confidence\t%.2f\n", analytics.Metrics.MeanConfidence)
			_, _ = fmt.Fprintf(w, "Corrections (30d)\t%d\n", analytics.Metrics.RecentCorrections)
			for kind, count := range analytics.KindCounts {
				_, _ = fmt.Fprintf(w, "Kind %s\t%d\n", kind, count)
			}
			for scope, count := range analytics.ScopeCounts {
				_, _ = fmt.Fprintf(w, "Scope %s\t%d\n", scope, count)
			}
			return w.Flush()
		},
	}
}
