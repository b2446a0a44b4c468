package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect processing results",
	}

	cmd.AddCommand(resultsListCmd())
	cmd.AddCommand(resultsShowCmd())

	return cmd
}

func resultsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent processing sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			results, err := store.ListRecentResults(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list results: %w", err)
			}

			if len(results) == 0 {
				slog.Info("No processing results found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tFILE\tSOURCE\tSTATUS\tMETHOD\tCONFIDENCE\tSTARTED")
			for _, r := range results {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
					r.ID, r.Filename, r.SourceScope, r.Status, r.Method,
					r.Confidence, r.StartedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "maximum sessions to show")
	return cmd
}

func resultsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <result-id>",
		Short: "Show one result with its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := store.GetResult(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get result: %w", err)
			}

			return writeResult(result, "")
		},
	}
}
