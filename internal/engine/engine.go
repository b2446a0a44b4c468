// Package engine orchestrates the extraction legs and hands their
// candidates to the reconciler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/extract"
	"github.com/mokuren/passbook-flow/internal/learning"
	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/reconcile"
	"github.com/mokuren/passbook-flow/internal/schema"
	"github.com/mokuren/passbook-flow/internal/service"
)

// Processing method names recorded on results.
const (
	MethodSingleLeg = "single_leg"
	MethodStaged    = "staged"
	MethodParallel  = "parallel"
)

// DefaultLegTimeout bounds one extraction call including retries.
const DefaultLegTimeout = 3 * time.Minute

// Document is one rasterized passbook document, one image per page.
// Pages are processed independently and concatenated in page order.
type Document struct {
	Filename string
	Pages    [][]byte
}

// Options tunes the orchestrator.
type Options struct {
	LegTimeout time.Duration
	Retry      service.RetryOptions
}

func (o *Options) applyDefaults() {
	if o.LegTimeout <= 0 {
		o.LegTimeout = DefaultLegTimeout
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = service.RetryOptions{
			MaxAttempts:  2,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		}
	}
}

// Engine drives a document through quality scoring, strategy
// selection, one or two extraction legs, and reconciliation, then
// persists the result.
type Engine struct {
	structural extract.Extractor
	validator  extract.Extractor
	reconciler *reconcile.Reconciler
	ruleset    *learning.Ruleset
	registry   *schema.Registry
	store      service.Storage
	progress   service.ProgressSink
	opts       Options
}

// New creates an engine. A nil progress sink is replaced with a no-op.
func New(structural, validator extract.Extractor, reconciler *reconcile.Reconciler,
	ruleset *learning.Ruleset, registry *schema.Registry, store service.Storage,
	progress service.ProgressSink, opts Options) *Engine {

	if progress == nil {
		progress = NoopSink{}
	}
	opts.applyDefaults()

	return &Engine{
		structural: structural,
		validator:  validator,
		reconciler: reconciler,
		ruleset:    ruleset,
		registry:   registry,
		store:      store,
		progress:   progress,
		opts:       opts,
	}
}

// Process runs one document through the pipeline. The returned result
// is persisted, including failed runs, so every attempt is auditable.
func (e *Engine) Process(ctx context.Context, doc Document) (*model.ProcessingResult, error) {
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	result := &model.ProcessingResult{
		ID:          uuid.New().String(),
		Filename:    doc.Filename,
		SourceScope: schema.DetectSource(doc.Filename, ""),
		Status:      model.StatusProcessing,
		StartedAt:   time.Now().UTC(),
	}
	e.emit("received", 0)

	quality, err := e.scoreDocument(doc)
	if err != nil {
		return e.fail(ctx, result, err)
	}
	e.emit("quality_check", 10)

	result.Method = strategyFor(quality)
	common.LogInfo("strategy selected", common.Fields{
		"result_id": result.ID,
		"filename":  doc.Filename,
		"quality":   quality,
		"method":    result.Method,
	})

	hints, err := e.buildHints(ctx, result.SourceScope)
	if err != nil {
		common.LogError(err, "failed to load extraction hints", common.Fields{"scope": result.SourceScope})
		hints = extract.Hints{SourceScope: result.SourceScope}
	}

	outcomes, legStats, err := e.processPages(ctx, doc, result.Method, hints)
	if err != nil {
		return e.fail(ctx, result, err)
	}
	e.emit("reconciling", 80)

	mergeOutcomes(result, outcomes, legStats)

	for i := range result.Transactions {
		result.Transactions[i].Description = e.ruleset.Apply(ctx, result.SourceScope, result.Transactions[i].Description)
	}

	result.CompletedAt = time.Now().UTC()
	e.emit("persisting", 95)

	if err := e.persist(ctx, result, outcomes); err != nil {
		return nil, err
	}

	e.emit("done", 100)
	return result, nil
}

// scoreDocument sniffs every page and returns the document quality:
// the worst page decides the strategy.
func (e *Engine) scoreDocument(doc Document) (float64, error) {
	quality := 1.0
	for i, page := range doc.Pages {
		if _, err := extract.SniffMediaType(page); err != nil {
			return 0, fmt.Errorf("page %d: %w", i+1, err)
		}
		if q := extract.ScoreQuality(page); q < quality {
			quality = q
		}
	}
	return quality, nil
}

func strategyFor(quality float64) string {
	switch {
	case quality > extract.QualitySingleLeg:
		return MethodSingleLeg
	case quality >= extract.QualityStaged:
		return MethodStaged
	default:
		return MethodParallel
	}
}

// legStats accumulates per-leg confidences across pages.
type legStats struct {
	structuralSum float64
	structuralN   int
	validatorSum  float64
	validatorN    int
}

// processPages runs the selected strategy over each page in order.
func (e *Engine) processPages(ctx context.Context, doc Document, method string, hints extract.Hints) ([]*reconcile.Outcome, *legStats, error) {
	outcomes := make([]*reconcile.Outcome, 0, len(doc.Pages))
	stats := &legStats{}

	for i, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		mediaType, err := extract.SniffMediaType(page)
		if err != nil {
			return nil, nil, fmt.Errorf("page %d: %w", i+1, err)
		}

		req := extract.Request{
			Image:     page,
			MediaType: mediaType,
			Hints:     hints,
		}

		outcome, err := e.processPage(ctx, method, req, hints, stats)
		if err != nil {
			return nil, nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		outcomes = append(outcomes, outcome)

		e.emit("extracting", 10+(i+1)*60/len(doc.Pages))
	}

	return outcomes, stats, nil
}

func (e *Engine) processPage(ctx context.Context, method string, req extract.Request, hints extract.Hints, stats *legStats) (*reconcile.Outcome, error) {
	switch method {
	case MethodSingleLeg:
		return e.runSingleLeg(ctx, req, hints, stats)
	case MethodStaged:
		return e.runStaged(ctx, req, hints, stats)
	default:
		return e.runParallel(ctx, req, hints, stats)
	}
}

// runSingleLeg runs only the structural extractor; its confidence is
// taken directly, without a degradation penalty.
func (e *Engine) runSingleLeg(ctx context.Context, req extract.Request, hints extract.Hints, stats *legStats) (*reconcile.Outcome, error) {
	req.Role = model.RoleStructural
	candidate, err := e.runLeg(ctx, e.structural, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrAllLegsFailed, err)
	}
	stats.addStructural(candidate.Confidence)

	return e.reconciler.Reconcile(ctx, reconcile.Input{
		Structural:  candidate,
		SourceScope: hints.SourceScope,
	})
}

// runStaged runs the structural leg first and hands its candidate to
// the validator for verification. Either leg failing degrades to the
// surviving leg.
func (e *Engine) runStaged(ctx context.Context, req extract.Request, hints extract.Hints, stats *legStats) (*reconcile.Outcome, error) {
	structuralReq := req
	structuralReq.Role = model.RoleStructural
	structural, structuralErr := e.runLeg(ctx, e.structural, structuralReq)
	if structural != nil {
		stats.addStructural(structural.Confidence)
	}

	validatorReq := req
	validatorReq.Role = model.RoleValidator
	validatorReq.Prior = structural
	validator, validatorErr := e.runLeg(ctx, e.validator, validatorReq)
	if validator != nil {
		stats.addValidator(validator.Confidence)
	}

	return e.join(ctx, hints.SourceScope, structural, structuralErr, validator, validatorErr)
}

// runParallel runs both legs concurrently against the raw page and
// compares results at full detail. Cancellation propagates from the
// parent context into both legs.
func (e *Engine) runParallel(ctx context.Context, req extract.Request, hints extract.Hints, stats *legStats) (*reconcile.Outcome, error) {
	var wg sync.WaitGroup
	var structural, validator *model.ExtractionCandidate
	var structuralErr, validatorErr error

	structuralReq := req
	structuralReq.Role = model.RoleStructural
	validatorReq := req
	validatorReq.Role = model.RoleValidator

	wg.Add(2)
	go func() {
		defer wg.Done()
		structural, structuralErr = e.runLeg(ctx, e.structural, structuralReq)
	}()
	go func() {
		defer wg.Done()
		validator, validatorErr = e.runLeg(ctx, e.validator, validatorReq)
	}()
	wg.Wait()

	if structural != nil {
		stats.addStructural(structural.Confidence)
	}
	if validator != nil {
		stats.addValidator(validator.Confidence)
	}

	return e.join(ctx, hints.SourceScope, structural, structuralErr, validator, validatorErr)
}

// join reconciles whatever the legs produced: both candidates at full
// detail, one candidate with the degraded penalty, or an error when
// both legs failed.
func (e *Engine) join(ctx context.Context, scope string, structural *model.ExtractionCandidate, structuralErr error,
	validator *model.ExtractionCandidate, validatorErr error) (*reconcile.Outcome, error) {

	switch {
	case structuralErr == nil && validatorErr == nil:
		return e.reconciler.Reconcile(ctx, reconcile.Input{
			Structural:  structural,
			Validator:   validator,
			SourceScope: scope,
		})
	case structuralErr == nil:
		common.LogError(validatorErr, "validator leg failed, degrading to structural leg", nil)
		return e.reconciler.ReconcileDegraded(ctx, reconcile.Input{
			Structural:  structural,
			SourceScope: scope,
		})
	case validatorErr == nil:
		common.LogError(structuralErr, "structural leg failed, degrading to validator leg", nil)
		return e.reconciler.ReconcileDegraded(ctx, reconcile.Input{
			Validator:   validator,
			SourceScope: scope,
		})
	default:
		return nil, fmt.Errorf("%w: structural: %v; validator: %v",
			common.ErrAllLegsFailed, structuralErr, validatorErr)
	}
}

// runLeg executes one extraction call under the leg timeout, retrying
// once on retryable failures.
func (e *Engine) runLeg(ctx context.Context, extractor extract.Extractor, req extract.Request) (*model.ExtractionCandidate, error) {
	legCtx, cancel := context.WithTimeout(ctx, e.opts.LegTimeout)
	defer cancel()

	var candidate *model.ExtractionCandidate
	err := common.WithRetry(legCtx, func() error {
		var extractErr error
		candidate, extractErr = extractor.Extract(legCtx, req)
		return extractErr
	}, e.opts.Retry)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s leg: %w", extractor.Provider(), common.ErrLegTimeout)
		}
		return nil, fmt.Errorf("%s leg: %w: %w", extractor.Provider(), common.ErrLegFailed, err)
	}
	return candidate, nil
}

// buildHints loads the source's known column layout and active
// patterns for prompt injection.
func (e *Engine) buildHints(ctx context.Context, scope string) (extract.Hints, error) {
	hints := extract.Hints{SourceScope: scope}

	if scope != "" {
		columns, err := e.registry.Mappings(ctx, scope)
		if err != nil {
			return hints, err
		}
		hints.Columns = columns
	}

	patterns, err := e.ruleset.ActivePatterns(ctx, scope)
	if err != nil {
		return hints, err
	}
	hints.Patterns = patterns

	return hints, nil
}

// mergeOutcomes concatenates page outcomes in page order and rolls up
// confidence, agreement and status onto the result.
func mergeOutcomes(result *model.ProcessingResult, outcomes []*reconcile.Outcome, stats *legStats) {
	result.Status = model.StatusCompleted

	var confidenceSum, agreementSum float64
	var agreementN int
	for _, outcome := range outcomes {
		result.Transactions = append(result.Transactions, outcome.Transactions...)
		confidenceSum += outcome.Confidence
		if outcome.AgreementScore != nil {
			agreementSum += *outcome.AgreementScore
			agreementN++
		}
		if outcome.Status == model.StatusNeedsReview {
			result.Status = model.StatusNeedsReview
		}
	}

	if len(outcomes) > 0 {
		result.Confidence = confidenceSum / float64(len(outcomes))
	}
	if agreementN > 0 {
		agreement := agreementSum / float64(agreementN)
		result.AgreementScore = &agreement
	}
	if stats.structuralN > 0 {
		mean := stats.structuralSum / float64(stats.structuralN)
		result.StructuralConfidence = &mean
	}
	if stats.validatorN > 0 {
		mean := stats.validatorSum / float64(stats.validatorN)
		result.ValidatorConfidence = &mean
	}
}

// persist saves the result and its missing-content records. The result
// write is authoritative; missing-pattern write failures are logged
// and swallowed.
func (e *Engine) persist(ctx context.Context, result *model.ProcessingResult, outcomes []*reconcile.Outcome) error {
	if err := e.store.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}

	rowOffset := 0
	for _, outcome := range outcomes {
		for _, missing := range outcome.Missing {
			missing.ResultID = result.ID
			missing.Row += rowOffset
			if err := e.store.SaveMissingPattern(ctx, &missing); err != nil {
				common.LogError(err, "failed to save missing pattern", common.Fields{
					"result_id": result.ID,
					"row":       missing.Row,
				})
			}
		}
		rowOffset += len(outcome.Transactions)
	}

	return nil
}

// fail finalizes and persists a failed run.
func (e *Engine) fail(ctx context.Context, result *model.ProcessingResult, cause error) (*model.ProcessingResult, error) {
	result.Status = model.StatusFailed
	result.CompletedAt = time.Now().UTC()

	if err := e.store.SaveResult(ctx, result); err != nil {
		common.LogError(err, "failed to persist failed result", common.Fields{"result_id": result.ID})
	}

	return result, cause
}

func (e *Engine) emit(stage string, percent int) {
	e.progress.Emit(stage, percent)
}

func (s *legStats) addStructural(v float64) {
	s.structuralSum += v
	s.structuralN++
}

func (s *legStats) addValidator(v float64) {
	s.validatorSum += v
	s.validatorN++
}
