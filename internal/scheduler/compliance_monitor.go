package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/procurehq/spendguard/internal/modules/audit"
	"github.com/procurehq/spendguard/internal/modules/metrics"
	"github.com/procurehq/spendguard/internal/modules/rules"
	"github.com/procurehq/spendguard/internal/modules/validation"
	"github.com/procurehq/spendguard/internal/utils"
)

// ComplianceMonitorJob revalidates recent optimization runs against the
// current rule catalog. A run that was compliant when produced can drift
// into violation after a catalog reload or a risk-set update; the monitor
// surfaces those in the logs before the next client request does.
type ComplianceMonitorJob struct {
	runStore  *audit.RunStore
	catalog   *rules.Catalog
	validator *validation.Validator
	window    time.Duration
	log       zerolog.Logger
}

// NewComplianceMonitorJob creates a compliance monitor job.
func NewComplianceMonitorJob(
	runStore *audit.RunStore,
	catalog *rules.Catalog,
	validator *validation.Validator,
	window time.Duration,
	log zerolog.Logger,
) *ComplianceMonitorJob {
	return &ComplianceMonitorJob{
		runStore:  runStore,
		catalog:   catalog,
		validator: validator,
		window:    window,
		log:       log.With().Str("job", "compliance_monitor").Logger(),
	}
}

// Name implements the Job interface.
func (j *ComplianceMonitorJob) Name() string {
	return "compliance_monitor"
}

// Run revalidates all runs recorded inside the monitor window.
func (j *ComplianceMonitorJob) Run() error {
	defer utils.OperationTimer("compliance_monitor_pass", j.log)()

	since := time.Now().UTC().Add(-j.window)

	summaries, err := j.runStore.RunsSince(since)
	if err != nil {
		return fmt.Errorf("failed to load recent runs: %w", err)
	}

	drifted := 0
	for _, summary := range summaries {
		record, err := j.runStore.GetRun(summary.ID)
		if err != nil {
			j.log.Error().Err(err).Str("run_id", summary.ID).Msg("Failed to load run for revalidation")
			continue
		}

		entityType := metrics.EntityType(record.EntityType)
		if entityType == "" {
			entityType = metrics.EntityTypeSupplier
		}

		provider := metrics.NewProvider(entityType, record.Context, j.log)
		result := j.validator.Validate(j.catalog, provider.Snapshot(record.Result.FinalAllocation))

		if result.IsCompliant {
			continue
		}

		drifted++
		j.log.Warn().
			Str("run_id", record.ID).
			Str("client_id", record.ClientID).
			Bool("was_converged", record.Result.Converged).
			Int("violations", len(result.Violations)).
			Msg("Stored allocation no longer compliant with current catalog")
	}

	j.log.Info().
		Int("checked", len(summaries)).
		Int("drifted", drifted).
		Msg("Compliance monitor pass finished")

	return nil
}
