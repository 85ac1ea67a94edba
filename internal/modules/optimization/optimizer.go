// Package optimization implements the bounded iterative allocation repair
// loop: validate, adjust per violation, renormalize, repeat until compliant
// or out of iteration budget. It is heuristic repair, not a solver: no
// optimality or feasibility guarantee, and non-convergence is a normal,
// reportable outcome.
package optimization

import (
	"context"
	"fmt"
	"math"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/procurehq/spendguard/internal/modules/rules"
	"github.com/procurehq/spendguard/internal/modules/validation"
	"github.com/procurehq/spendguard/internal/utils"
	"github.com/rs/zerolog"
)

// Defaults for the repair tunables. These values are tuning choices rather
// than invariants and are overridable through Config.
const (
	DefaultMaxIterations      = 5
	DefaultMaxTransferPerPass = 10.0 // percentage points moved per index adjustment
	DefaultMinShareEpsilon    = 1.0  // shares below this are dropped at renormalization
	DefaultSeedShare          = 5.0  // share granted to a newly introduced entity
	DefaultSumEpsilon         = 0.5  // allowed deviation of the share sum from 100
)

// Config holds the repair tunables for one optimizer instance.
type Config struct {
	MaxIterations      int
	MaxTransferPerPass float64
	MinShareEpsilon    float64
	SeedShare          float64
	SumEpsilon         float64
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      DefaultMaxIterations,
		MaxTransferPerPass: DefaultMaxTransferPerPass,
		MinShareEpsilon:    DefaultMinShareEpsilon,
		SeedShare:          DefaultSeedShare,
		SumEpsilon:         DefaultSumEpsilon,
	}
}

// Optimizer repairs violating allocations against a rule catalog.
// One optimization run owns its allocation exclusively; the catalog is
// shared read-only, so concurrent runs need no locking.
type Optimizer struct {
	validator *validation.Validator
	cfg       Config
	log       zerolog.Logger
}

// New creates an allocation optimizer.
func New(validator *validation.Validator, cfg Config, log zerolog.Logger) *Optimizer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTransferPerPass <= 0 {
		cfg.MaxTransferPerPass = DefaultMaxTransferPerPass
	}
	if cfg.MinShareEpsilon <= 0 {
		cfg.MinShareEpsilon = DefaultMinShareEpsilon
	}
	if cfg.SeedShare <= 0 {
		cfg.SeedShare = DefaultSeedShare
	}
	if cfg.SumEpsilon <= 0 {
		cfg.SumEpsilon = DefaultSumEpsilon
	}
	return &Optimizer{
		validator: validator,
		cfg:       cfg,
		log:       log.With().Str("component", "allocation_optimizer").Logger(),
	}
}

// Optimize runs the bounded repair loop for up to maxIterations passes.
// The initial allocation must sum to 100 within the configured epsilon and
// maxIterations must be positive; anything else is a caller contract
// violation rejected before the first iteration. Cancellation is checked
// once per iteration boundary - there are no finer suspension points.
//
// The returned result reports convergence honestly: Converged is true iff
// the final validation pass has zero Violation-status records (warnings do
// not block convergence). If the initial allocation is already compliant it
// is returned unchanged with zero iterations used.
func (o *Optimizer) Optimize(
	ctx context.Context,
	initial domain.Allocation,
	catalog *rules.Catalog,
	provider domain.MetricProvider,
	evalCtx domain.EvaluationContext,
	maxIterations int,
) (domain.OptimizationResult, error) {
	if maxIterations <= 0 {
		return domain.OptimizationResult{}, fmt.Errorf("maxIterations must be positive, got %d", maxIterations)
	}
	if len(initial) == 0 {
		return domain.OptimizationResult{}, fmt.Errorf("allocation is empty")
	}
	if sum := initial.Sum(); math.Abs(sum-100) > o.cfg.SumEpsilon {
		return domain.OptimizationResult{}, fmt.Errorf("allocation shares sum to %.2f, expected 100 within %.2f", sum, o.cfg.SumEpsilon)
	}

	defer utils.OperationTimer("optimize", o.log)()

	current := initial.Clone()
	env := &adjustEnv{cfg: o.cfg, evalCtx: evalCtx, log: o.log}

	var history []domain.Allocation
	var result domain.ValidationResult
	iteration := 0

	for {
		if err := ctx.Err(); err != nil {
			return domain.OptimizationResult{}, fmt.Errorf("optimization cancelled after %d iterations: %w", iteration, err)
		}

		snapshot := provider(current)
		result = o.validator.Validate(catalog, snapshot)

		if result.IsCompliant || iteration >= maxIterations {
			break
		}

		// Most severe violations first, so one iteration can never spend
		// its adjustments on a Low violation while a Critical one waits.
		for _, violation := range result.Violations {
			rule, ok := catalog.Get(violation.RuleID)
			if !ok {
				continue
			}
			heuristicFor(rule.Metric.Kind()).apply(current, violation, rule, env)
		}

		o.renormalize(current)
		iteration++
		history = append(history, current.Clone())

		o.log.Debug().
			Int("iteration", iteration).
			Int("violations", len(result.Violations)).
			Int("entities", len(current)).
			Msg("Completed repair iteration")
	}

	o.log.Info().
		Bool("converged", result.IsCompliant).
		Int("iterations_used", iteration).
		Int("residual_violations", len(result.Violations)).
		Msg("Optimization finished")

	return domain.OptimizationResult{
		FinalAllocation:    current,
		Converged:          result.IsCompliant,
		IterationsUsed:     iteration,
		ResidualViolations: result,
		History:            history,
	}, nil
}

// renormalize folds sub-epsilon fragments into the largest entity and
// assigns the rounding residual to it, so every candidate handed back to
// validation sums to exactly 100.
func (o *Optimizer) renormalize(alloc domain.Allocation) {
	largest, _ := alloc.Largest()
	if largest == "" {
		return
	}

	for entity, share := range alloc {
		if entity == largest {
			continue
		}
		if share < o.cfg.MinShareEpsilon {
			alloc[largest] += share
			delete(alloc, entity)
		}
	}

	largest, _ = alloc.Largest()
	alloc[largest] += 100 - alloc.Sum()
}
