package rules

import (
	"database/sql"
	"fmt"

	"github.com/procurehq/spendguard/internal/database"
	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists the loaded rule catalog and its load errors so the
// server can serve and reload rules without the CSV source present.
// Database: config.db (compliance_rules, rule_load_errors tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new rules repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rules").Logger(),
	}
}

// Init creates the backing tables if they do not exist.
func (r *Repository) Init() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS compliance_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			metric TEXT NOT NULL,
			operator TEXT NOT NULL,
			threshold REAL NOT NULL,
			threshold_unit TEXT NOT NULL DEFAULT '',
			risk_level TEXT NOT NULL,
			category TEXT NOT NULL,
			recommended_action TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create compliance_rules table: %w", err)
	}

	_, err = r.db.Exec(`
		CREATE TABLE IF NOT EXISTS rule_load_errors (
			line INTEGER NOT NULL,
			rule_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create rule_load_errors table: %w", err)
	}

	return nil
}

// ReplaceCatalog replaces the stored catalog and load errors atomically.
func (r *Repository) ReplaceCatalog(catalog *Catalog, loadErrors []LoadError) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM compliance_rules"); err != nil {
			return fmt.Errorf("failed to clear compliance_rules: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM rule_load_errors"); err != nil {
			return fmt.Errorf("failed to clear rule_load_errors: %w", err)
		}

		for position, rule := range catalog.Rules() {
			_, err := tx.Exec(`
				INSERT INTO compliance_rules (
					id, name, description, metric, operator, threshold,
					threshold_unit, risk_level, category, recommended_action, position
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				rule.ID,
				rule.Name,
				rule.Description,
				string(rule.Metric),
				string(rule.Operator),
				rule.Threshold,
				rule.ThresholdUnit,
				string(rule.Risk),
				string(rule.Category),
				rule.RecommendedAction,
				position,
			)
			if err != nil {
				return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
			}
		}

		for _, loadErr := range loadErrors {
			_, err := tx.Exec(
				"INSERT INTO rule_load_errors (line, rule_id, reason) VALUES (?, ?, ?)",
				loadErr.Line, loadErr.RuleID, loadErr.Reason,
			)
			if err != nil {
				return fmt.Errorf("failed to insert load error: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Int("rules", catalog.Len()).
		Int("load_errors", len(loadErrors)).
		Msg("Stored rule catalog")

	return nil
}

// LoadCatalog reads the stored catalog back, in original load order.
func (r *Repository) LoadCatalog() (*Catalog, error) {
	rows, err := r.db.Query(`
		SELECT id, name, description, metric, operator, threshold,
		       threshold_unit, risk_level, category, recommended_action
		FROM compliance_rules
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query compliance_rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.RuleDefinition
	for rows.Next() {
		var rule domain.RuleDefinition
		var metric, operator, risk, category string

		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Description,
			&metric,
			&operator,
			&rule.Threshold,
			&rule.ThresholdUnit,
			&risk,
			&category,
			&rule.RecommendedAction,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.Metric = domain.MetricKey(metric)
		rule.Operator = domain.ComparisonOperator(operator)
		rule.Risk = domain.RiskLevel(risk)
		rule.Category = domain.RuleCategory(category)
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compliance_rules: %w", err)
	}

	return NewCatalog(rules)
}

// ListLoadErrors returns the load errors recorded for the stored catalog.
func (r *Repository) ListLoadErrors() ([]LoadError, error) {
	rows, err := r.db.Query("SELECT line, rule_id, reason FROM rule_load_errors ORDER BY line")
	if err != nil {
		return nil, fmt.Errorf("failed to query rule_load_errors: %w", err)
	}
	defer rows.Close()

	var loadErrors []LoadError
	for rows.Next() {
		var loadErr LoadError
		if err := rows.Scan(&loadErr.Line, &loadErr.RuleID, &loadErr.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan load error: %w", err)
		}
		loadErrors = append(loadErrors, loadErr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule_load_errors: %w", err)
	}

	return loadErrors, nil
}
