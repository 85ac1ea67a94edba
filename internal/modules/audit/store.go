package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RunRecord is one persisted optimization run: the input it started from,
// the evaluation context it ran under, and the full result including the
// per-iteration history.
type RunRecord struct {
	ID            string                    `json:"id"`
	ClientID      string                    `json:"client_id"`
	Category      domain.RuleCategory       `json:"category"`
	EntityType    string                    `json:"entity_type"`
	CreatedAt     time.Time                 `json:"created_at"`
	MaxIterations int                       `json:"max_iterations"`
	Initial       domain.Allocation         `json:"initial_allocation"`
	Context       domain.EvaluationContext  `json:"context"`
	Result        domain.OptimizationResult `json:"result"`
}

// RunSummary is the list-view projection of a run.
type RunSummary struct {
	ID             string              `json:"id"`
	ClientID       string              `json:"client_id"`
	Category       domain.RuleCategory `json:"category"`
	CreatedAt      time.Time           `json:"created_at"`
	Converged      bool                `json:"converged"`
	IterationsUsed int                 `json:"iterations_used"`
	ViolationCount int                 `json:"violation_count"`
}

// RunStore persists optimization runs for audit and later review.
// Database: data.db (optimization_runs table)
type RunStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunStore creates a new run store.
func NewRunStore(db *sql.DB, log zerolog.Logger) *RunStore {
	return &RunStore{
		db:  db,
		log: log.With().Str("repo", "audit").Logger(),
	}
}

// Init creates the backing table if it does not exist.
func (s *RunStore) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS optimization_runs (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			entity_type TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			max_iterations INTEGER NOT NULL,
			converged INTEGER NOT NULL,
			iterations_used INTEGER NOT NULL,
			violation_count INTEGER NOT NULL,
			initial_allocation TEXT NOT NULL,
			eval_context TEXT NOT NULL,
			result_json TEXT NOT NULL,
			history_blob BLOB
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create optimization_runs table: %w", err)
	}
	return nil
}

// SaveRun stores a completed run and returns its generated id.
func (s *RunStore) SaveRun(record RunRecord) (string, error) {
	newUUID := uuid.New().String()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	initialJSON, err := json.Marshal(record.Initial)
	if err != nil {
		return "", fmt.Errorf("failed to marshal initial allocation: %w", err)
	}
	contextJSON, err := json.Marshal(record.Context)
	if err != nil {
		return "", fmt.Errorf("failed to marshal evaluation context: %w", err)
	}

	// History can grow to maxIterations full allocations per run, so it is
	// stored as a compact msgpack blob rather than JSON.
	history := record.Result.History
	record.Result.History = nil
	resultJSON, err := json.Marshal(record.Result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	historyBlob, err := msgpack.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO optimization_runs (
			id, client_id, category, entity_type, created_at, max_iterations,
			converged, iterations_used, violation_count,
			initial_allocation, eval_context, result_json, history_blob
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		newUUID,
		record.ClientID,
		string(record.Category),
		record.EntityType,
		createdAt.Unix(),
		record.MaxIterations,
		record.Result.Converged,
		record.Result.IterationsUsed,
		len(record.Result.ResidualViolations.Violations),
		string(initialJSON),
		string(contextJSON),
		string(resultJSON),
		historyBlob,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	s.log.Info().
		Str("run_id", newUUID).
		Bool("converged", record.Result.Converged).
		Int("iterations_used", record.Result.IterationsUsed).
		Msg("Stored optimization run")

	return newUUID, nil
}

// GetRun loads one run by id, including its iteration history.
// Returns sql.ErrNoRows when the id is unknown.
func (s *RunStore) GetRun(id string) (RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, client_id, category, entity_type, created_at, max_iterations,
		       initial_allocation, eval_context, result_json, history_blob
		FROM optimization_runs
		WHERE id = ?
	`, id)

	var record RunRecord
	var category string
	var createdAt int64
	var initialJSON, contextJSON, resultJSON string
	var historyBlob []byte

	if err := row.Scan(
		&record.ID,
		&record.ClientID,
		&category,
		&record.EntityType,
		&createdAt,
		&record.MaxIterations,
		&initialJSON,
		&contextJSON,
		&resultJSON,
		&historyBlob,
	); err != nil {
		return RunRecord{}, err
	}

	record.Category = domain.RuleCategory(category)
	record.CreatedAt = time.Unix(createdAt, 0).UTC()

	if err := json.Unmarshal([]byte(initialJSON), &record.Initial); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal initial allocation: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &record.Context); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal evaluation context: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &record.Result); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	if len(historyBlob) > 0 {
		if err := msgpack.Unmarshal(historyBlob, &record.Result.History); err != nil {
			return RunRecord{}, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}

	return record, nil
}

// ListRuns returns summaries of the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, client_id, category, created_at, converged,
		       iterations_used, violation_count
		FROM optimization_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var summary RunSummary
		var category string
		var createdAt int64

		if err := rows.Scan(
			&summary.ID,
			&summary.ClientID,
			&category,
			&createdAt,
			&summary.Converged,
			&summary.IterationsUsed,
			&summary.ViolationCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}

		summary.Category = domain.RuleCategory(category)
		summary.CreatedAt = time.Unix(createdAt, 0).UTC()
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return summaries, nil
}

// RunsSince returns summaries of runs created at or after the given time,
// newest first. Used by the compliance monitor to revalidate recent output.
func (s *RunStore) RunsSince(since time.Time) ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, client_id, category, created_at, converged,
		       iterations_used, violation_count
		FROM optimization_runs
		WHERE created_at >= ?
		ORDER BY created_at DESC, id
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var summary RunSummary
		var category string
		var createdAt int64

		if err := rows.Scan(
			&summary.ID,
			&summary.ClientID,
			&category,
			&createdAt,
			&summary.Converged,
			&summary.IterationsUsed,
			&summary.ViolationCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}

		summary.Category = domain.RuleCategory(category)
		summary.CreatedAt = time.Unix(createdAt, 0).UTC()
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return summaries, nil
}
