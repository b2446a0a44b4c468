// Package storage provides the data persistence layer for the passbook pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mokuren/passbook-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
	ErrInvalidStatus     = errors.New("invalid processing status")
	ErrInvalidKind       = errors.New("invalid correction kind")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateConfidence ensures a confidence value is within [0, 1].
func validateConfidence(v float64, paramName string) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %s = %v", ErrInvalidConfidence, paramName, v)
	}
	return nil
}

// validateResult validates a processing result before persistence.
func validateResult(result *model.ProcessingResult) error {
	if result == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if err := validateString(result.ID, "result.ID"); err != nil {
		return err
	}
	if err := validateString(result.Filename, "result.Filename"); err != nil {
		return err
	}
	switch result.Status {
	case model.StatusPending, model.StatusProcessing, model.StatusCompleted,
		model.StatusNeedsReview, model.StatusFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, result.Status)
	}
	return validateConfidence(result.Confidence, "result.Confidence")
}

// validateCorrection validates a correction event before appending.
func validateCorrection(event *model.CorrectionEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if err := validateString(event.ID, "event.ID"); err != nil {
		return err
	}
	if err := validateString(event.ResultID, "event.ResultID"); err != nil {
		return err
	}
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, event.Kind)
	}
	return nil
}

// validatePattern validates a learning pattern.
func validatePattern(pattern *model.LearningPattern) error {
	if pattern == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	if !pattern.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, pattern.Kind)
	}
	if err := validateString(pattern.Original, "pattern.Original"); err != nil {
		return err
	}
	if pattern.Frequency < 0 {
		return fmt.Errorf("frequency cannot be negative")
	}
	return validateConfidence(pattern.Confidence, "pattern.Confidence")
}

// validateMapping validates a column mapping.
func validateMapping(mapping *model.ColumnMapping) error {
	if mapping == nil {
		return fmt.Errorf("%w: mapping", ErrNilParameter)
	}
	if err := validateString(mapping.OriginalLabel, "mapping.OriginalLabel"); err != nil {
		return err
	}
	return validateString(mapping.CanonicalName, "mapping.CanonicalName")
}

// validateKanaEntry validates a kana dictionary entry.
func validateKanaEntry(entry *model.KanaEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.SourceText, "entry.SourceText"); err != nil {
		return err
	}
	if err := validateString(entry.TargetText, "entry.TargetText"); err != nil {
		return err
	}
	return validateConfidence(entry.Confidence, "entry.Confidence")
}
