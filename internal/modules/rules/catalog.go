// Package rules provides compliance rule catalog loading and rule evaluation.
package rules

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
)

// Catalog is an immutable set of rule definitions, loaded once and shared
// by reference across evaluation sessions. It is never mutated after load.
type Catalog struct {
	rules []domain.RuleDefinition
	byID  map[string]domain.RuleDefinition
}

// NewCatalog builds a catalog from already-validated rule definitions.
// Duplicate ids are a programmer error here; the CSV loader rejects them
// per-row before this point.
func NewCatalog(rules []domain.RuleDefinition) (*Catalog, error) {
	byID := make(map[string]domain.RuleDefinition, len(rules))
	for _, rule := range rules {
		if _, exists := byID[rule.ID]; exists {
			return nil, fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		byID[rule.ID] = rule
	}
	copied := make([]domain.RuleDefinition, len(rules))
	copy(copied, rules)
	return &Catalog{rules: copied, byID: byID}, nil
}

// Rules returns the rule definitions in load order. Callers must treat the
// slice as read-only.
func (c *Catalog) Rules() []domain.RuleDefinition {
	return c.rules
}

// Get returns the rule with the given id.
func (c *Catalog) Get(id string) (domain.RuleDefinition, bool) {
	rule, ok := c.byID[id]
	return rule, ok
}

// Len returns the number of loaded rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// LoadError describes a single catalog row rejected at load time.
// A bad row never disables the rest of the catalog.
type LoadError struct {
	Line   int    `json:"line"`
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

func (e LoadError) Error() string {
	return fmt.Sprintf("rule %q (line %d): %s", e.RuleID, e.Line, e.Reason)
}

// Expected CSV column layout for the catalog source file.
const (
	colRuleID = iota
	colRuleName
	colRuleDescription
	colThresholdValue
	colComparisonLogic
	colRiskLevel
	colActionRecommendation
	colCategory
	columnCount
)

// thresholdSuffix maps a known unit suffix to its informational unit name.
type thresholdSuffix struct {
	suffix string
	unit   string
}

// Longer suffixes are listed before shorter ones sharing a tail.
var thresholdSuffixes = []thresholdSuffix{
	{"%", "percent"},
	{" suppliers", "count"},
	{" months", "months"},
	{" rating", "rating"},
	{" years", "years"},
	{" hours", "hours"},
	{" days", "days"},
}

// ParseThreshold parses a textual threshold such as "40%", "10 suppliers"
// or "2500" into its numeric value and informational unit. NaN, infinite
// and negative values are rejected: a threshold is never defaulted, since a
// silently zeroed threshold changes rule semantics.
func ParseThreshold(s string) (float64, string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, "", fmt.Errorf("empty threshold")
	}

	unit := ""
	lower := strings.ToLower(trimmed)
	for _, ts := range thresholdSuffixes {
		if strings.HasSuffix(lower, ts.suffix) {
			trimmed = strings.TrimSpace(trimmed[:len(trimmed)-len(ts.suffix)])
			unit = ts.unit
			break
		}
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, "", fmt.Errorf("threshold %q is not numeric", s)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, "", fmt.Errorf("threshold %q is not finite", s)
	}
	if value < 0 {
		return 0, "", fmt.Errorf("threshold %q is negative", s)
	}

	return value, unit, nil
}

// metricIdentifiers maps every supported identifier spelling (including
// source-system spellings seen in Comparison_Logic expressions) to its
// canonical metric key. The list is fixed and versioned with the binary:
// an expression matching none of these rejects the row at load time.
var metricIdentifiers = map[string]domain.MetricKey{
	"max_supplier_share":        domain.MetricMaxSupplierShare,
	"supplier_spend_percentage": domain.MetricMaxSupplierShare,
	"max_region_share":          domain.MetricMaxRegionShare,
	"spend_region_percentage":   domain.MetricMaxRegionShare,
	"region_spend_percentage":   domain.MetricMaxRegionShare,
	"min_supplier_share":        domain.MetricMinSupplierShare,
	"minimum_supplier_share":    domain.MetricMinSupplierShare,
	"top3_supplier_share":       domain.MetricTop3SupplierShare,
	"top_3_supplier_share":      domain.MetricTop3SupplierShare,
	"herfindahl_index":          domain.MetricHerfindahlIndex,
	"hhi":                       domain.MetricHerfindahlIndex,
	"active_supplier_count":     domain.MetricActiveSupplierCount,
	"min_active_suppliers":      domain.MetricActiveSupplierCount,
	"supplier_count":            domain.MetricActiveSupplierCount,
	"high_risk_region_share":    domain.MetricHighRiskRegionShare,
	"high_risk_spend_share":     domain.MetricHighRiskRegionShare,
}

// parseComparison extracts the metric key and comparison operator from a
// Comparison_Logic expression such as "Spend_Region_Percentage > Threshold".
func parseComparison(expr string) (domain.MetricKey, domain.ComparisonOperator, error) {
	lower := strings.ToLower(expr)

	// Match longest identifiers first so e.g. "min_active_suppliers"
	// cannot be shadowed by a shorter overlapping spelling.
	identifiers := make([]string, 0, len(metricIdentifiers))
	for id := range metricIdentifiers {
		identifiers = append(identifiers, id)
	}
	sort.Slice(identifiers, func(i, j int) bool {
		if len(identifiers[i]) != len(identifiers[j]) {
			return len(identifiers[i]) > len(identifiers[j])
		}
		return identifiers[i] < identifiers[j]
	})

	var metric domain.MetricKey
	found := false
	for _, id := range identifiers {
		if strings.Contains(lower, id) {
			metric = metricIdentifiers[id]
			found = true
			break
		}
	}
	if !found {
		return "", "", fmt.Errorf("no supported metric identifier in %q", expr)
	}

	switch {
	case strings.Contains(expr, ">"):
		return metric, domain.OpGreaterThan, nil
	case strings.Contains(expr, "<"):
		return metric, domain.OpLessThan, nil
	default:
		return "", "", fmt.Errorf("no comparison operator in %q", expr)
	}
}

// LoadCSV loads the rule catalog from a CSV file. Malformed rows are
// rejected individually and returned as LoadErrors; loading continues for
// the rest of the catalog.
func LoadCSV(path string, log zerolog.Logger) (*Catalog, []LoadError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open rule catalog %s: %w", path, err)
	}
	defer f.Close()

	return ParseCatalog(f, log)
}

// ParseCatalog reads catalog rows from r. See LoadCSV.
func ParseCatalog(r io.Reader, log zerolog.Logger) (*Catalog, []LoadError, error) {
	log = log.With().Str("component", "rule_catalog").Logger()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // row length validated per-row below

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rule catalog: %w", err)
	}

	var rules []domain.RuleDefinition
	var loadErrors []LoadError
	seen := make(map[string]int)

	for i, record := range records {
		line := i + 1

		// Skip the header row
		if i == 0 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[colRuleID]), "Rule_ID") {
			continue
		}

		rule, reason := parseRow(record)
		if reason == "" {
			if firstLine, dup := seen[rule.ID]; dup {
				reason = fmt.Sprintf("duplicate rule id (first seen on line %d)", firstLine)
			}
		}
		if reason != "" {
			id := ""
			if len(record) > colRuleID {
				id = strings.TrimSpace(record[colRuleID])
			}
			loadErrors = append(loadErrors, LoadError{Line: line, RuleID: id, Reason: reason})
			log.Warn().
				Int("line", line).
				Str("rule_id", id).
				Str("reason", reason).
				Msg("Rejected rule definition")
			continue
		}

		seen[rule.ID] = line
		rules = append(rules, rule)
	}

	catalog, err := NewCatalog(rules)
	if err != nil {
		return nil, loadErrors, err
	}

	log.Info().
		Int("loaded", catalog.Len()).
		Int("rejected", len(loadErrors)).
		Msg("Rule catalog loaded")

	return catalog, loadErrors, nil
}

// parseRow validates and converts one CSV record. An empty reason means
// the row parsed cleanly.
func parseRow(record []string) (domain.RuleDefinition, string) {
	if len(record) < columnCount {
		return domain.RuleDefinition{}, fmt.Sprintf("expected %d columns, got %d", columnCount, len(record))
	}

	id := strings.TrimSpace(record[colRuleID])
	if id == "" {
		return domain.RuleDefinition{}, "missing rule id"
	}

	threshold, unit, err := ParseThreshold(record[colThresholdValue])
	if err != nil {
		return domain.RuleDefinition{}, err.Error()
	}

	metric, operator, err := parseComparison(record[colComparisonLogic])
	if err != nil {
		return domain.RuleDefinition{}, err.Error()
	}

	risk, err := domain.ParseRiskLevel(record[colRiskLevel])
	if err != nil {
		return domain.RuleDefinition{}, err.Error()
	}

	return domain.RuleDefinition{
		ID:                id,
		Name:              strings.TrimSpace(record[colRuleName]),
		Description:       strings.TrimSpace(record[colRuleDescription]),
		Metric:            metric,
		Operator:          operator,
		Threshold:         threshold,
		ThresholdUnit:     unit,
		Risk:              risk,
		Category:          domain.ParseRuleCategory(record[colCategory]),
		RecommendedAction: strings.TrimSpace(record[colActionRecommendation]),
	}, ""
}
