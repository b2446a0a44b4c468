package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/schema"
)

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage per-source column mappings",
	}

	cmd.AddCommand(mappingsListCmd())
	cmd.AddCommand(mappingsReplaceCmd())

	return cmd
}

func mappingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <scope>",
		Short: "List the column mappings for a source scope",
		Long: `List the stored column layout for one source scope. Use an empty
scope ("") to inspect the global header seed set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			registry := schema.NewRegistry(store)
			mappings, err := registry.Mappings(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load mappings: %w", err)
			}

			if len(mappings) == 0 {
				slog.Info("No mappings for scope", "scope", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "POS\tLABEL\tDISPLAY\tCANONICAL\tTYPE\tFLAGS")
			for _, m := range mappings {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					m.Position, m.OriginalLabel, m.DisplayLabel,
					m.CanonicalName, m.Type, mappingFlags(m))
			}
			return w.Flush()
		},
	}
}

func mappingFlags(m model.ColumnMapping) string {
	flags := ""
	if m.Visible {
		flags += "v"
	}
	if m.Editable {
		flags += "e"
	}
	if m.Required {
		flags += "r"
	}
	if m.Inferred {
		flags += "i"
	}
	if flags == "" {
		flags = "-"
	}
	return flags
}

func mappingsReplaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replace <scope> <mappings.json>",
		Short: "Replace a scope's full mapping set from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1]) // #nosec G304 -- user-supplied input path
			if err != nil {
				return fmt.Errorf("failed to read %q: %w", args[1], err)
			}

			var mappings []model.ColumnMapping
			if err := json.Unmarshal(data, &mappings); err != nil {
				return fmt.Errorf("invalid mapping file: %w", err)
			}

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			registry := schema.NewRegistry(store)
			if err := registry.Upsert(cmd.Context(), args[0], mappings); err != nil {
				return fmt.Errorf("failed to replace mappings: %w", err)
			}

			slog.Info("Column mappings replaced",
				"scope", args[0],
				"count", len(mappings))
			return nil
		},
	}
}
