package domain

// ViolationRecord is the classified result of evaluating one rule against
// one metric snapshot. Gap is always currentValue - threshold regardless of
// status, so callers can rank rules by how close a metric sits to its limit.
type ViolationRecord struct {
	RuleID         string  `json:"rule_id"`
	Status         Status  `json:"status"`
	CurrentValue   float64 `json:"current_value"`
	Threshold      float64 `json:"threshold"`
	Gap            float64 `json:"gap"`
	AffectedEntity string  `json:"affected_entity,omitempty"`
	Severity       int     `json:"severity"`
}

// NotEvaluatedRule marks a rule whose metric was missing from the snapshot.
// Surfaced separately from compliance so coverage gaps stay visible.
type NotEvaluatedRule struct {
	RuleID string    `json:"rule_id"`
	Metric MetricKey `json:"metric"`
}

// ValidationResult aggregates one full evaluation pass over the catalog.
// Compliant results are retained only as a counter to bound memory;
// violations and warnings keep their full records.
type ValidationResult struct {
	IsCompliant    bool               `json:"is_compliant"`
	Violations     []ViolationRecord  `json:"violations"`
	Warnings       []ViolationRecord  `json:"warnings"`
	NotEvaluated   []NotEvaluatedRule `json:"not_evaluated,omitempty"`
	CompliantCount int                `json:"compliant_count"`
}

// OptimizationResult is the final output of one allocation repair run.
// Converged=false is a normal outcome, not an error: the best allocation
// found and the exact residual violations are always reported.
type OptimizationResult struct {
	FinalAllocation    Allocation       `json:"final_allocation"`
	Converged          bool             `json:"converged"`
	IterationsUsed     int              `json:"iterations_used"`
	ResidualViolations ValidationResult `json:"residual_violations"`

	// History holds the allocation after each completed iteration, for
	// audit and debugging. Bounded by the iteration budget.
	History []Allocation `json:"history,omitempty"`
}
