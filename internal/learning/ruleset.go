package learning

import (
	"context"
	"sync"

	"github.com/mokuren/passbook-flow/internal/common"
	"github.com/mokuren/passbook-flow/internal/model"
	"github.com/mokuren/passbook-flow/internal/service"
)

// Ruleset is the active-pattern cache consulted by the orchestrator on
// every document. Entries load lazily per source scope and every
// successful ledger write drops the whole cache. Callers hold the
// handle explicitly; there is no package-level instance.
type Ruleset struct {
	store      service.Storage
	minSupport int
	activation float64

	mu    sync.RWMutex
	cache map[string][]model.LearningPattern
}

// NewRuleset creates a ruleset cache. Non-positive thresholds fall
// back to the defaults.
func NewRuleset(store service.Storage, minSupport int, activation float64) *Ruleset {
	if minSupport <= 0 {
		minSupport = DefaultMinSupport
	}
	if activation <= 0 {
		activation = DefaultActivation
	}
	return &Ruleset{
		store:      store,
		minSupport: minSupport,
		activation: activation,
		cache:      make(map[string][]model.LearningPattern),
	}
}

// ActivePatterns returns the patterns eligible for auto-application to
// documents from the given scope, highest frequency first.
func (r *Ruleset) ActivePatterns(ctx context.Context, scope string) ([]model.LearningPattern, error) {
	r.mu.RLock()
	cached, ok := r.cache[scope]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	patterns, err := r.store.GetActivePatterns(ctx, scope, r.minSupport, r.activation)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[scope] = patterns
	r.mu.Unlock()
	return patterns, nil
}

// Apply rewrites a description through the active ruleset, recording a
// use on every pattern that fired. Touch failures are logged and do
// not affect the rewritten value.
func (r *Ruleset) Apply(ctx context.Context, scope, text string) string {
	patterns, err := r.ActivePatterns(ctx, scope)
	if err != nil {
		common.LogError(err, "failed to load active patterns", common.Fields{"scope": scope})
		return text
	}

	for i := range patterns {
		p := &patterns[i]
		if text != p.Original {
			continue
		}
		text = p.Corrected
		if touchErr := r.store.TouchPatternUse(ctx, p.ID); touchErr != nil {
			common.LogError(touchErr, "failed to record pattern use", common.Fields{"pattern_id": p.ID})
		}
	}
	return text
}

// Invalidate drops all cached scopes. Called after every ledger write.
func (r *Ruleset) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string][]model.LearningPattern)
}
