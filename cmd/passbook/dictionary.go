package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mokuren/passbook-flow/internal/learning"
	"github.com/mokuren/passbook-flow/internal/model"
)

func dictionaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dictionary",
		Aliases: []string{"dict"},
		Short:   "Manage the kana normalization dictionary",
	}

	cmd.AddCommand(dictionaryListCmd())
	cmd.AddCommand(dictionaryAddCmd())

	return cmd
}

func dictionaryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dictionary entries by usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.TopKanaEntries(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list dictionary entries: %w", err)
			}

			if len(entries) == 0 {
				slog.Info("Dictionary is empty, run migrate to load the seed set")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "SOURCE\tTARGET\tSCOPE\tCONFIDENCE\tUSES")
			for _, e := range entries {
				scope := e.SourceScope
				if scope == "" {
					scope = "(global)"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\n",
					e.SourceText, e.TargetText, scope, e.Confidence, e.UsageCount)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntP("limit", "n", 50, "maximum entries to show")
	return cmd
}

func dictionaryAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <source-text> <target-text>",
		Short: "Add or override a dictionary entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			confidence, _ := cmd.Flags().GetFloat64("confidence")

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entry := &model.KanaEntry{
				SourceText:  args[0],
				TargetText:  args[1],
				SourceScope: scope,
				Confidence:  confidence,
			}
			if err := store.UpsertKanaEntry(cmd.Context(), entry); err != nil {
				return fmt.Errorf("failed to save dictionary entry: %w", err)
			}

			slog.Info("Dictionary entry saved",
				"source", entry.SourceText,
				"target", entry.TargetText,
				"scope", scope)
			return nil
		},
	}

	cmd.Flags().StringP("scope", "s", "", "source scope (empty for global)")
	cmd.Flags().Float64P("confidence", "c", learning.KanaSeedConfidence, "entry confidence")
	return cmd
}
