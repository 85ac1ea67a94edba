// Package validation runs the rule catalog over metric snapshots and
// aggregates the results into a compliance verdict.
package validation

import (
	"sort"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/procurehq/spendguard/internal/modules/rules"
	"github.com/rs/zerolog"
)

// Validator evaluates every rule in a catalog independently against one
// metric snapshot. It mutates neither input and is deterministic for
// identical inputs, which the optimizer's convergence check relies on.
type Validator struct {
	interp *rules.Interpreter
	log    zerolog.Logger
}

// NewValidator creates a constraint validator around a rule interpreter.
func NewValidator(interp *rules.Interpreter, log zerolog.Logger) *Validator {
	return &Validator{
		interp: interp,
		log:    log.With().Str("component", "constraint_validator").Logger(),
	}
}

// Validate evaluates the full catalog against the snapshot and partitions
// the results. IsCompliant is true iff no rule has Violation status; rules
// whose metric was missing are reported separately and never count toward
// compliance either way.
func (v *Validator) Validate(catalog *rules.Catalog, snapshot domain.MetricSnapshot) domain.ValidationResult {
	result := domain.ValidationResult{}

	for _, rule := range catalog.Rules() {
		record, evaluated := v.interp.Evaluate(rule, snapshot)
		if !evaluated {
			result.NotEvaluated = append(result.NotEvaluated, domain.NotEvaluatedRule{
				RuleID: rule.ID,
				Metric: rule.Metric,
			})
			continue
		}

		switch record.Status {
		case domain.StatusViolation:
			result.Violations = append(result.Violations, record)
		case domain.StatusWarning:
			result.Warnings = append(result.Warnings, record)
		default:
			// Compliant results are kept as a counter only
			result.CompliantCount++
		}
	}

	sortBySeverity(result.Violations)
	sortBySeverity(result.Warnings)
	result.IsCompliant = len(result.Violations) == 0

	v.log.Debug().
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Int("compliant", result.CompliantCount).
		Int("not_evaluated", len(result.NotEvaluated)).
		Bool("is_compliant", result.IsCompliant).
		Msg("Validation pass completed")

	return result
}

// sortBySeverity orders records by severity descending, then by gap
// descending, then by rule id for a fully deterministic order.
func sortBySeverity(records []domain.ViolationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Severity != records[j].Severity {
			return records[i].Severity > records[j].Severity
		}
		if records[i].Gap != records[j].Gap {
			return records[i].Gap > records[j].Gap
		}
		return records[i].RuleID < records[j].RuleID
	})
}
