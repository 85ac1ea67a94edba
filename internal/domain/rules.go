// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
)

// Status represents the three-tier classification of a rule evaluation,
// plus the "not evaluated" marker used when a required metric is missing.
type Status string

const (
	StatusCompliant    Status = "COMPLIANT"
	StatusWarning      Status = "WARNING"
	StatusViolation    Status = "VIOLATION"
	StatusNotEvaluated Status = "NOT_EVALUATED"
)

// RiskLevel represents the business risk attached to a rule
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// Rank returns the numeric ordering of a risk level (higher = more severe).
// Unknown levels rank below Low so malformed data never outranks real risk.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// ParseRiskLevel normalizes a free-text risk level from the catalog source.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return RiskCritical, nil
	case "HIGH":
		return RiskHigh, nil
	case "MEDIUM", "MED":
		return RiskMedium, nil
	case "LOW":
		return RiskLow, nil
	default:
		return "", fmt.Errorf("unknown risk level: %q", s)
	}
}

// ComparisonOperator defines how a metric value is compared against a threshold.
type ComparisonOperator string

const (
	// OpGreaterThan means the rule is violated when the metric exceeds the threshold
	OpGreaterThan ComparisonOperator = "GREATER_THAN"
	// OpLessThan means the rule is violated when the metric falls below the threshold
	OpLessThan ComparisonOperator = "LESS_THAN"
)

// RuleCategory is the remediation category tag attached to a rule.
// It drives strategy selection, not evaluation.
type RuleCategory string

const (
	CategoryGeographicRisk        RuleCategory = "GEOGRAPHIC_RISK"
	CategorySupplyChainRisk       RuleCategory = "SUPPLY_CHAIN_RISK"
	CategoryCostManagement        RuleCategory = "COST_MANAGEMENT"
	CategoryQualityAssurance      RuleCategory = "QUALITY_ASSURANCE"
	CategoryFinancialRisk         RuleCategory = "FINANCIAL_RISK"
	CategorySustainability        RuleCategory = "SUSTAINABILITY_ESG"
	CategoryContractManagement    RuleCategory = "CONTRACT_MANAGEMENT"
	CategoryOperationalEfficiency RuleCategory = "OPERATIONAL_EFFICIENCY"
	CategoryComplianceSecurity    RuleCategory = "COMPLIANCE_SECURITY"
	CategoryStrategicInnovation   RuleCategory = "STRATEGIC_INNOVATION"
	CategoryUnknown               RuleCategory = "UNKNOWN"
)

// ParseRuleCategory maps free-text category names from the catalog source
// to the fixed category set. Unrecognized text maps to CategoryUnknown
// rather than failing: category only selects remediation strategies, so a
// bad category must not reject an otherwise valid rule.
func ParseRuleCategory(s string) RuleCategory {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(normalized)
	switch normalized {
	case "GEOGRAPHIC_RISK", "GEOGRAPHY", "GEOGRAPHIC":
		return CategoryGeographicRisk
	case "SUPPLY_CHAIN_RISK", "SUPPLY_CHAIN":
		return CategorySupplyChainRisk
	case "COST_MANAGEMENT", "COST":
		return CategoryCostManagement
	case "QUALITY_ASSURANCE", "QUALITY":
		return CategoryQualityAssurance
	case "FINANCIAL_RISK", "FINANCIAL":
		return CategoryFinancialRisk
	case "SUSTAINABILITY_ESG", "SUSTAINABILITY", "ESG":
		return CategorySustainability
	case "CONTRACT_MANAGEMENT", "CONTRACT":
		return CategoryContractManagement
	case "OPERATIONAL_EFFICIENCY", "OPERATIONS":
		return CategoryOperationalEfficiency
	case "COMPLIANCE_SECURITY", "COMPLIANCE", "SECURITY":
		return CategoryComplianceSecurity
	case "STRATEGIC_INNOVATION", "INNOVATION":
		return CategoryStrategicInnovation
	default:
		return CategoryUnknown
	}
}

// MetricKind classifies a metric by the shape of adjustment it admits.
// The optimizer dispatches its repair heuristics on this tag.
type MetricKind int

const (
	// KindShareCeiling - a single share (or aggregate of the largest shares)
	// that must stay below a cap
	KindShareCeiling MetricKind = iota
	// KindShareFloor - the smallest active share must stay above a floor
	KindShareFloor
	// KindCountFloor - the number of active entities must stay above a floor
	KindCountFloor
	// KindIndexCeiling - a concentration index that must stay below a ceiling
	KindIndexCeiling
	// KindCompositeShare - an aggregate share across a named entity set
	// that must stay below a cap
	KindCompositeShare
)

// MetricKey identifies one of the supported metrics. The set is closed and
// versioned: catalog rows referencing anything else are rejected at load time.
type MetricKey string

const (
	MetricMaxSupplierShare    MetricKey = "max_supplier_share"
	MetricMaxRegionShare      MetricKey = "max_region_share"
	MetricMinSupplierShare    MetricKey = "min_supplier_share"
	MetricTop3SupplierShare   MetricKey = "top3_supplier_share"
	MetricHerfindahlIndex     MetricKey = "herfindahl_index"
	MetricActiveSupplierCount MetricKey = "active_supplier_count"
	MetricHighRiskRegionShare MetricKey = "high_risk_region_share"
)

// KnownMetricKeys lists every supported metric in a stable order.
var KnownMetricKeys = []MetricKey{
	MetricMaxSupplierShare,
	MetricMaxRegionShare,
	MetricMinSupplierShare,
	MetricTop3SupplierShare,
	MetricHerfindahlIndex,
	MetricActiveSupplierCount,
	MetricHighRiskRegionShare,
}

// Kind returns the adjustment shape for this metric.
func (m MetricKey) Kind() MetricKind {
	switch m {
	case MetricMaxSupplierShare, MetricMaxRegionShare, MetricTop3SupplierShare:
		return KindShareCeiling
	case MetricMinSupplierShare:
		return KindShareFloor
	case MetricActiveSupplierCount:
		return KindCountFloor
	case MetricHerfindahlIndex:
		return KindIndexCeiling
	case MetricHighRiskRegionShare:
		return KindCompositeShare
	default:
		return KindShareCeiling
	}
}

// RuleDefinition is one immutable compliance rule. Threshold is parsed once
// at catalog load; evaluation never re-parses text.
type RuleDefinition struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Metric            MetricKey          `json:"metric"`
	Operator          ComparisonOperator `json:"operator"`
	Threshold         float64            `json:"threshold"`
	ThresholdUnit     string             `json:"threshold_unit"`
	Risk              RiskLevel          `json:"risk_level"`
	Category          RuleCategory       `json:"category"`
	RecommendedAction string             `json:"recommended_action"`
}

// SeverityScore derives the ordering key used to rank evaluation results.
// Violations always outrank warnings of any risk level; within a status
// tier the rule's risk level breaks ties.
func SeverityScore(risk RiskLevel, status Status) int {
	switch status {
	case StatusViolation:
		return risk.Rank() + 4
	case StatusWarning:
		return risk.Rank()
	default:
		return 0
	}
}
