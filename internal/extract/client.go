// Package extract provides the vision extraction legs that read
// passbook page images into candidate transaction sets.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/model"
)

// Hints carries the active ruleset context injected into extraction
// prompts: known column layout and mined correction patterns for the
// document's source scope.
type Hints struct {
	SourceScope string
	Columns     []model.ColumnMapping
	Patterns    []model.LearningPattern
}

// Request describes one extraction call against a single page image.
// Prior is set only on the validation pass of a staged run, where the
// second leg reviews the first leg's candidate instead of extracting
// from scratch.
type Request struct {
	Prior     *model.ExtractionCandidate
	MediaType string
	Image     []byte
	Hints     Hints
	Role      model.LegRole
}

// Extractor is a single extraction leg backed by one vision provider.
type Extractor interface {
	// Extract reads one page image and returns a candidate transaction
	// set. Candidates are in-memory only and never persisted.
	Extract(ctx context.Context, req Request) (*model.ExtractionCandidate, error)

	// Provider returns the provider name for logging and result records.
	Provider() string
}

// Config holds provider-agnostic extractor configuration.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Image format magic numbers.
var (
	magicPNG  = []byte{0x89, 'P', 'N', 'G'}
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPDF  = []byte("%PDF")
)

// SniffMediaType identifies a page image's format from its leading
// bytes. PDFs are rejected: pages must be rasterized before they reach
// the pipeline.
func SniffMediaType(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, magicPNG):
		return "image/png", nil
	case bytes.HasPrefix(data, magicJPEG):
		return "image/jpeg", nil
	case bytes.HasPrefix(data, magicPDF):
		return "", fmt.Errorf("PDF pages must be rasterized to images first: %w", common.ErrUnsupportedFormat)
	default:
		return "", fmt.Errorf("unrecognized image format: %w", common.ErrUnsupportedFormat)
	}
}

// extractionPayload is the JSON document both providers are prompted
// to return.
type extractionPayload struct {
	Columns      []string `json:"columns"`
	Transactions []struct {
		Date            string             `json:"date"`
		Description     string             `json:"description"`
		Withdrawal      *float64           `json:"withdrawal"`
		Deposit         *float64           `json:"deposit"`
		Balance         float64            `json:"balance"`
		Confidence      float64            `json:"confidence"`
		FieldConfidence map[string]float64 `json:"field_confidence"`
		Extra           map[string]any     `json:"extra"`
	} `json:"transactions"`
	Confidence float64 `json:"confidence"`
}

// parseCandidate decodes a provider's JSON text into a candidate set.
func parseCandidate(content string, role model.LegRole, provider string) (*model.ExtractionCandidate, error) {
	content = cleanMarkdownWrapper(content)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	candidate := &model.ExtractionCandidate{
		Role:       role,
		Provider:   provider,
		RawColumns: payload.Columns,
		Confidence: clampUnit(payload.Confidence),
	}

	for _, tx := range payload.Transactions {
		candidate.Transactions = append(candidate.Transactions, model.CandidateTransaction{
			Date:            tx.Date,
			Description:     tx.Description,
			Withdrawal:      tx.Withdrawal,
			Deposit:         tx.Deposit,
			Balance:         tx.Balance,
			Confidence:      clampUnit(tx.Confidence),
			FieldConfidence: tx.FieldConfidence,
			Extra:           tx.Extra,
		})
	}

	return candidate, nil
}

// cleanMarkdownWrapper strips markdown code fences that vision models
// sometimes wrap around JSON output.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx >= 0 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
