package extract

import (
	"fmt"
	"strings"

	"github.com/mokuren/passbook-flow/internal/model"
)

const structuralSystemPrompt = "You are a bank passbook transcription engine. " +
	"Read the page image row by row and transcribe every transaction line exactly as printed, " +
	"including half-width katakana descriptions. Respond with ONLY a valid JSON object. " +
	"Start your response directly with { and end with }."

const validatorSystemPrompt = "You are a bank passbook verification engine. " +
	"Independently read the page image and report what you see, row by row. " +
	"Do not guess values you cannot read; lower the field confidence instead. " +
	"Respond with ONLY a valid JSON object. Start your response directly with { and end with }."

// buildExtractionPrompt assembles the user prompt for one leg. Hints
// from the schema registry and the active ruleset are appended so a
// leg can anchor on the known column layout of the source.
func buildExtractionPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("Transcribe every transaction row on this passbook page.\n\n")
	b.WriteString("Return JSON with this shape:\n")
	b.WriteString(`{"columns": ["..."], "transactions": [{"date": "YYYY-MM-DD", "description": "...", ` +
		`"withdrawal": null, "deposit": null, "balance": 0, "confidence": 0.0, ` +
		`"field_confidence": {"date": 0.0}, "extra": {}}], "confidence": 0.0}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Use null, not 0, for an empty withdrawal or deposit cell.\n")
	b.WriteString("- Keep descriptions verbatim, including half-width katakana.\n")
	b.WriteString("- Report columns in left-to-right page order.\n")
	b.WriteString("- Confidence values are between 0.0 and 1.0.\n")

	if req.Hints.SourceScope != "" {
		fmt.Fprintf(&b, "\nThis page is from a %s passbook.\n", req.Hints.SourceScope)
	}

	if len(req.Hints.Columns) > 0 {
		b.WriteString("\nKnown column layout for this source:\n")
		for _, col := range req.Hints.Columns {
			fmt.Fprintf(&b, "- %q maps to %s (%s)\n", col.OriginalLabel, col.CanonicalName, col.Type)
		}
	}

	if len(req.Hints.Patterns) > 0 {
		b.WriteString("\nKnown transcription corrections from past reviews:\n")
		for _, p := range req.Hints.Patterns {
			fmt.Fprintf(&b, "- %q should read %q\n", p.Original, p.Corrected)
		}
	}

	if req.Prior != nil {
		b.WriteString("\nA first reading of this page produced the candidate below. ")
		b.WriteString("Verify it against the image: confirm rows you agree with, correct rows you read differently, ")
		b.WriteString("and add any rows it missed. Return the full corrected transaction set.\n")
		b.WriteString(formatPriorCandidate(req.Prior))
	}

	return b.String()
}

func formatPriorCandidate(candidate *model.ExtractionCandidate) string {
	var b strings.Builder
	for i, tx := range candidate.Transactions {
		fmt.Fprintf(&b, "%d. date=%s description=%q withdrawal=%s deposit=%s balance=%.2f\n",
			i+1, tx.Date, tx.Description, formatAmount(tx.Withdrawal), formatAmount(tx.Deposit), tx.Balance)
	}
	return b.String()
}

func formatAmount(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
