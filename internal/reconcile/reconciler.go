// Package reconcile merges extraction leg candidates into scored
// canonical transactions.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mokuren/passbook-flow/internal/kana"
	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/schema"
)

// Comparison epsilons. Amount comparison absorbs rounding between
// legs; balance chain tolerance absorbs single-yen interest rounding.
const (
	AmountEpsilon  = 0.01
	BalanceEpsilon = 1.0
)

// Agreement tiers for the two-leg confidence rule.
const (
	StrongAgreement   = 0.95
	ModerateAgreement = 0.85
	AgreementBonus    = 0.05
	DisagreePenalty   = 0.7
)

// DegradedPenalty is subtracted from a leg's confidence when the other
// leg failed and the result is produced from one leg alone.
const DegradedPenalty = 0.1

// DefaultReviewThreshold flags degraded results for human review.
const DefaultReviewThreshold = 0.85

// Input is one reconciliation request. Validator is nil on single-leg
// and degraded runs.
type Input struct {
	Structural  *model.ExtractionCandidate
	Validator   *model.ExtractionCandidate
	SourceScope string
}

// Outcome is the merged, scored transaction set plus the review
// signals the orchestrator persists onto the processing result.
type Outcome struct {
	Transactions   []model.Transaction
	Missing        []model.MissingPattern
	AgreementScore *float64
	Confidence     float64
	Status         model.ProcessingStatus
}

// Reconciler merges one or two candidate sets into canonical
// transactions, then post-processes descriptions through the kana
// dictionary and raw columns through the schema registry.
type Reconciler struct {
	normalizer      *kana.Normalizer
	registry        *schema.Registry
	reviewThreshold float64
}

// NewReconciler creates a reconciler. A non-positive reviewThreshold
// falls back to the default.
func NewReconciler(normalizer *kana.Normalizer, registry *schema.Registry, reviewThreshold float64) *Reconciler {
	if reviewThreshold <= 0 {
		reviewThreshold = DefaultReviewThreshold
	}
	return &Reconciler{
		normalizer:      normalizer,
		registry:        registry,
		reviewThreshold: reviewThreshold,
	}
}

// Reconcile merges the input candidates. With two candidates it aligns
// rows by position and applies the tiered agreement rule; with one it
// applies the degraded single-leg penalty.
func (r *Reconciler) Reconcile(ctx context.Context, input Input) (*Outcome, error) {
	if input.Structural == nil && input.Validator == nil {
		return nil, fmt.Errorf("no candidates to reconcile")
	}

	var outcome *Outcome
	if input.Structural != nil && input.Validator != nil {
		outcome = r.mergeTwoLegs(ctx, input)
	} else {
		outcome = r.singleLeg(input)
	}

	r.checkBalanceChain(outcome)

	for i := range outcome.Transactions {
		outcome.Transactions[i].Description = r.normalizer.Normalize(ctx, outcome.Transactions[i].Description, input.SourceScope)
	}

	if err := r.resolveColumns(ctx, input, outcome); err != nil {
		return nil, err
	}

	return outcome, nil
}

// mergeTwoLegs aligns both candidate sets by row position and scores
// each row with the tiered agreement rule. Structural values win on
// disagreement; the validator fills amounts the structural leg missed.
func (r *Reconciler) mergeTwoLegs(ctx context.Context, input Input) *Outcome {
	structural := input.Structural.Transactions
	validator := input.Validator.Transactions

	rows := len(structural)
	if len(validator) > rows {
		rows = len(validator)
	}

	outcome := &Outcome{Status: model.StatusCompleted}
	var agreementSum, confidenceSum float64

	for i := 0; i < rows; i++ {
		var sTx, vTx *model.CandidateTransaction
		if i < len(structural) {
			sTx = &structural[i]
		}
		if i < len(validator) {
			vTx = &validator[i]
		}

		var g float64
		var merged model.Transaction
		switch {
		case sTx != nil && vTx != nil:
			g = r.rowAgreement(ctx, sTx, vTx, input.SourceScope)
			merged = mergeRow(sTx, vTx)
		case sTx != nil:
			// Row the validator never saw. Counts as full disagreement.
			g = 0
			merged = candidateToTransaction(sTx)
		default:
			g = 0
			merged = candidateToTransaction(vTx)
		}

		a := legConfidence(sTx, input.Structural.Confidence)
		b := legConfidence(vTx, input.Validator.Confidence)
		merged.Confidence = tieredConfidence(a, b, g)
		if g < ModerateAgreement {
			outcome.Status = model.StatusNeedsReview
		}

		agreementSum += g
		confidenceSum += merged.Confidence
		outcome.Transactions = append(outcome.Transactions, merged)
	}

	if rows > 0 {
		agreement := agreementSum / float64(rows)
		outcome.AgreementScore = &agreement
		outcome.Confidence = confidenceSum / float64(rows)
	}

	return outcome
}

// singleLeg produces a degraded result from whichever leg succeeded.
func (r *Reconciler) singleLeg(input Input) *Outcome {
	candidate := input.Structural
	if candidate == nil {
		candidate = input.Validator
	}

	outcome := &Outcome{Status: model.StatusCompleted}
	var confidenceSum float64

	for i := range candidate.Transactions {
		tx := candidateToTransaction(&candidate.Transactions[i])
		tx.Confidence = legConfidence(&candidate.Transactions[i], candidate.Confidence)
		confidenceSum += tx.Confidence
		outcome.Transactions = append(outcome.Transactions, tx)
	}

	if len(outcome.Transactions) > 0 {
		outcome.Confidence = confidenceSum / float64(len(outcome.Transactions))
	} else {
		outcome.Confidence = candidate.Confidence
	}

	return outcome
}

// ReconcileDegraded scores a result from the one leg that survived a
// two-leg strategy: fixed penalty, review below the threshold.
func (r *Reconciler) ReconcileDegraded(ctx context.Context, input Input) (*Outcome, error) {
	outcome, err := r.Reconcile(ctx, input)
	if err != nil {
		return nil, err
	}

	outcome.Confidence = clampUnit(outcome.Confidence - DegradedPenalty)
	for i := range outcome.Transactions {
		outcome.Transactions[i].Confidence = clampUnit(outcome.Transactions[i].Confidence - DegradedPenalty)
	}
	if outcome.Confidence < r.reviewThreshold {
		outcome.Status = model.StatusNeedsReview
	}

	return outcome, nil
}

// rowAgreement computes the fraction of compared fields that agree
// between two legs' readings of the same row.
func (r *Reconciler) rowAgreement(ctx context.Context, a, b *model.CandidateTransaction, scope string) float64 {
	agreed := 0
	if normalizeDate(a.Date) == normalizeDate(b.Date) {
		agreed++
	}
	if r.normalizer.Normalize(ctx, a.Description, scope) == r.normalizer.Normalize(ctx, b.Description, scope) {
		agreed++
	}
	if amountsEqual(a.Withdrawal, b.Withdrawal) {
		agreed++
	}
	if amountsEqual(a.Deposit, b.Deposit) {
		agreed++
	}
	if math.Abs(a.Balance-b.Balance) <= AmountEpsilon {
		agreed++
	}
	return float64(agreed) / 5.0
}

// tieredConfidence applies the agreement-tiered confidence rule over
// the two legs' confidences a and b given row agreement g.
func tieredConfidence(a, b, g float64) float64 {
	switch {
	case g > StrongAgreement:
		return clampUnit(math.Min(a, b) + AgreementBonus)
	case g >= ModerateAgreement:
		return (a + b) / 2
	default:
		return math.Max(a, b) * DisagreePenalty
	}
}

// checkBalanceChain verifies every row's balance against the running
// chain. Violations mark the row and force review but never abort.
func (r *Reconciler) checkBalanceChain(outcome *Outcome) {
	for i := 1; i < len(outcome.Transactions); i++ {
		prev := &outcome.Transactions[i-1]
		curr := &outcome.Transactions[i]

		expected := prev.Balance - curr.WithdrawalAmount() + curr.DepositAmount()
		if math.Abs(curr.Balance-expected) <= BalanceEpsilon {
			continue
		}

		curr.BalanceInconsistent = true
		outcome.Status = model.StatusNeedsReview
		outcome.Missing = append(outcome.Missing, model.MissingPattern{
			Kind:     model.MissingBalanceGap,
			Row:      i,
			Expected: expected,
			Actual:   curr.Balance,
			Note:     "balance chain break, a row may be missing or misread",
		})
	}
}

// resolveColumns maps raw column labels through the schema registry
// and types each transaction's extra-field bag. Columns with no known
// mapping surface as custom columns with an inferred type.
func (r *Reconciler) resolveColumns(ctx context.Context, input Input, outcome *Outcome) error {
	labels := rawColumns(input)
	if len(labels) == 0 {
		return nil
	}

	canonical := map[string]bool{
		model.CanonicalDate: true, model.CanonicalDescription: true,
		model.CanonicalWithdrawal: true, model.CanonicalDeposit: true,
		model.CanonicalBalance: true,
	}

	observed := make([]schema.ObservedColumn, 0, len(labels))
	for _, label := range labels {
		col := schema.ObservedColumn{Label: label}
		for i := range outcome.Transactions {
			if v, ok := extraValue(input, i, label); ok {
				col.Samples = append(col.Samples, v)
			}
		}
		observed = append(observed, col)
	}

	mappings, err := r.registry.Resolve(ctx, input.SourceScope, observed)
	if err != nil {
		return fmt.Errorf("failed to resolve columns: %w", err)
	}

	for _, m := range mappings {
		if canonical[m.CanonicalName] {
			continue
		}
		for i := range outcome.Transactions {
			v, ok := extraValue(input, i, m.OriginalLabel)
			if !ok {
				continue
			}
			outcome.Transactions[i].Extra = append(outcome.Transactions[i].Extra, model.ExtraField{
				Key:   m.CanonicalName,
				Type:  m.Type,
				Value: v,
			})
		}
	}

	return nil
}

// rawColumns prefers the structural leg's column reading.
func rawColumns(input Input) []string {
	if input.Structural != nil && len(input.Structural.RawColumns) > 0 {
		return input.Structural.RawColumns
	}
	if input.Validator != nil {
		return input.Validator.RawColumns
	}
	return nil
}

// extraValue reads a raw extra value for row i, structural leg first.
func extraValue(input Input, i int, label string) (any, bool) {
	for _, candidate := range []*model.ExtractionCandidate{input.Structural, input.Validator} {
		if candidate == nil || i >= len(candidate.Transactions) {
			continue
		}
		if v, ok := candidate.Transactions[i].Extra[label]; ok {
			return v, true
		}
	}
	return nil, false
}

// mergeRow combines two legs' readings of one row. Structural values
// win; the validator fills amounts the structural leg left empty.
func mergeRow(s, v *model.CandidateTransaction) model.Transaction {
	merged := candidateToTransaction(s)
	if merged.Withdrawal == nil && v.Withdrawal != nil {
		merged.Withdrawal = copyAmount(v.Withdrawal)
	}
	if merged.Deposit == nil && v.Deposit != nil {
		merged.Deposit = copyAmount(v.Deposit)
	}
	if merged.Description == "" {
		merged.Description = v.Description
	}
	if merged.Date == "" {
		merged.Date = v.Date
	}
	return merged
}

func candidateToTransaction(c *model.CandidateTransaction) model.Transaction {
	return model.Transaction{
		Date:        normalizeDate(c.Date),
		Description: c.Description,
		Withdrawal:  copyAmount(c.Withdrawal),
		Deposit:     copyAmount(c.Deposit),
		Balance:     c.Balance,
	}
}

// legConfidence returns a row's own confidence, falling back to the
// leg-level score when the row carries none.
func legConfidence(tx *model.CandidateTransaction, legLevel float64) float64 {
	if tx == nil {
		return 0
	}
	if tx.Confidence > 0 {
		return tx.Confidence
	}
	return legLevel
}

// normalizeDate canonicalizes date separators so "2024/06/01" and
// "2024-06-01" compare equal.
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	date = strings.ReplaceAll(date, "/", "-")
	date = strings.ReplaceAll(date, ".", "-")
	return date
}

func amountsEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) <= AmountEpsilon
}

func copyAmount(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
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
