package rules

import (
	"math"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultWarningBand is the fraction of the threshold's magnitude that
// defines the warning band on the compliant side of a rule. A metric inside
// the band is compliant but close enough to the limit to flag.
const DefaultWarningBand = 0.10

// comparisonEpsilon guards the strict threshold comparisons against float
// drift introduced by repeated repair arithmetic: a share clamped to its
// cap must not re-flag as violating by 1e-13.
const comparisonEpsilon = 1e-9

// Interpreter evaluates rule definitions against metric snapshots.
// It is read-only: neither the rule nor the snapshot is ever mutated.
type Interpreter struct {
	warningBand float64
	log         zerolog.Logger
}

// NewInterpreter creates a rule interpreter. warningBand <= 0 selects the
// default band.
func NewInterpreter(warningBand float64, log zerolog.Logger) *Interpreter {
	if warningBand <= 0 {
		warningBand = DefaultWarningBand
	}
	return &Interpreter{
		warningBand: warningBand,
		log:         log.With().Str("component", "rule_interpreter").Logger(),
	}
}

// Evaluate classifies one rule against one snapshot. The second return is
// false when the rule's metric is absent from the snapshot: the rule was
// not evaluated, which callers must surface distinctly from compliance.
func (i *Interpreter) Evaluate(rule domain.RuleDefinition, snapshot domain.MetricSnapshot) (domain.ViolationRecord, bool) {
	current, present := snapshot.Value(rule.Metric)
	if !present {
		i.log.Debug().
			Str("rule_id", rule.ID).
			Str("metric", string(rule.Metric)).
			Msg("Metric missing from snapshot - rule not evaluated")
		return domain.ViolationRecord{}, false
	}

	var exceeds bool
	if rule.Operator == domain.OpGreaterThan {
		exceeds = current > rule.Threshold+comparisonEpsilon
	} else {
		exceeds = current < rule.Threshold-comparisonEpsilon
	}

	status := domain.StatusCompliant
	band := i.warningBand * math.Abs(rule.Threshold)
	switch {
	case exceeds:
		status = domain.StatusViolation
	case rule.Operator == domain.OpGreaterThan && current > rule.Threshold-band:
		status = domain.StatusWarning
	case rule.Operator == domain.OpLessThan && current < rule.Threshold+band:
		status = domain.StatusWarning
	}

	return domain.ViolationRecord{
		RuleID:         rule.ID,
		Status:         status,
		CurrentValue:   current,
		Threshold:      rule.Threshold,
		Gap:            current - rule.Threshold,
		AffectedEntity: snapshot.Entity(rule.Metric),
		Severity:       domain.SeverityScore(rule.Risk, status),
	}, true
}
