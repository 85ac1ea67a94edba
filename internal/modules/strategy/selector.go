// Package strategy maps rule categories to remediation strategies.
package strategy

import "github.com/procurehq/spendguard/internal/domain"

// Strategy names a remediation approach and the data it needs as input.
// Selection is advisory: it feeds the report layer, never the optimizer's
// arithmetic, and can therefore never block an optimization run.
type Strategy struct {
	Primary          string   `json:"primary"`
	Secondary        string   `json:"secondary"`
	RequiredDataKeys []string `json:"required_data_keys"`
}

// fallback is returned for any category without a table entry.
var fallback = Strategy{
	Primary:          "diversify_allocation",
	Secondary:        "review_supplier_base",
	RequiredDataKeys: []string{"spend_by_supplier"},
}

// table holds one entry per rule category.
var table = map[domain.RuleCategory]Strategy{
	domain.CategoryGeographicRisk: {
		Primary:          "regional_diversification",
		Secondary:        "nearshore_alternatives",
		RequiredDataKeys: []string{"spend_by_region", "tariff_exposure"},
	},
	domain.CategorySupplyChainRisk: {
		Primary:          "dual_sourcing",
		Secondary:        "qualify_backup_suppliers",
		RequiredDataKeys: []string{"spend_by_supplier", "supplier_lead_times"},
	},
	domain.CategoryCostManagement: {
		Primary:          "renegotiate_top_contracts",
		Secondary:        "consolidate_tail_spend",
		RequiredDataKeys: []string{"spend_by_supplier", "cost_benchmarks"},
	},
	domain.CategoryQualityAssurance: {
		Primary:          "supplier_quality_audit",
		Secondary:        "shift_volume_to_rated_suppliers",
		RequiredDataKeys: []string{"supplier_quality_ratings"},
	},
	domain.CategoryFinancialRisk: {
		Primary:          "rebalance_concentration",
		Secondary:        "credit_review_top_suppliers",
		RequiredDataKeys: []string{"spend_by_supplier", "supplier_financials"},
	},
	domain.CategorySustainability: {
		Primary:          "shift_to_certified_suppliers",
		Secondary:        "supplier_esg_improvement_plan",
		RequiredDataKeys: []string{"supplier_esg_scores"},
	},
	domain.CategoryContractManagement: {
		Primary:          "renew_expiring_contracts",
		Secondary:        "standardize_contract_terms",
		RequiredDataKeys: []string{"contract_expiry_dates"},
	},
	domain.CategoryOperationalEfficiency: {
		Primary:          "consolidate_fragmented_spend",
		Secondary:        "automate_reordering",
		RequiredDataKeys: []string{"spend_by_supplier", "order_frequency"},
	},
	domain.CategoryComplianceSecurity: {
		Primary:          "exit_noncompliant_suppliers",
		Secondary:        "remediation_deadline",
		RequiredDataKeys: []string{"supplier_compliance_status"},
	},
	domain.CategoryStrategicInnovation: {
		Primary:          "allocate_innovation_quota",
		Secondary:        "pilot_new_suppliers",
		RequiredDataKeys: []string{"supplier_capability_scores"},
	},
}

// Select returns the remediation strategy pair for a rule category.
// Unknown categories get the generic fallback, never an error.
func Select(category domain.RuleCategory) Strategy {
	if s, ok := table[category]; ok {
		return s
	}
	return fallback
}
