package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mokuren/passbook-flow/internal/engine"
	"github.com/mokuren/passbook-flow/internal/model"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <page-image> [more-pages...]",
		Short: "Process passbook page images into transactions",
		Long: `Run one document through the extraction pipeline. Pass one image
per page, in page order. The result is printed as JSON and persisted
to the local database.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runProcess,
	}

	cmd.Flags().StringP("output", "o", "", "write the result JSON to a file instead of stdout")
	cmd.Flags().Bool("quiet", false, "suppress the progress bar")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")

	doc := engine.Document{Filename: args[0]}
	for _, path := range args {
		page, err := os.ReadFile(path) // #nosec G304 -- user-supplied input path
		if err != nil {
			return fmt.Errorf("failed to read page %q: %w", path, err)
		}
		doc.Pages = append(doc.Pages, page)
	}

	var sink engine.SinkFunc
	if !quiet {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("processing"),
			progressbar.OptionShowCount(),
		)
		sink = func(stage string, percent int) {
			bar.Describe(stage)
			_ = bar.Set(percent)
		}
	} else {
		sink = func(string, int) {}
	}

	p, err := buildPipeline(cmd.Context(), sink)
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.engine.Process(cmd.Context(), doc)
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	if err := writeResult(result, output); err != nil {
		return err
	}

	if result.Status == model.StatusNeedsReview {
		fmt.Fprintln(os.Stderr, "result needs review: check flagged rows before accepting")
	}
	return nil
}

func writeResult(result *model.ProcessingResult, output string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')

	if output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}

	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %q: %w", output, err)
	}
	return nil
}
