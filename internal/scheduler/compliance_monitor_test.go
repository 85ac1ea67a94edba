package scheduler

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/procurehq/spendguard/internal/modules/audit"
	"github.com/procurehq/spendguard/internal/modules/rules"
	"github.com/procurehq/spendguard/internal/modules/validation"

	_ "modernc.org/sqlite"
)

func newMonitorFixture(t *testing.T, threshold float64) (*ComplianceMonitorJob, *audit.RunStore) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runStore := audit.NewRunStore(db, zerolog.Nop())
	require.NoError(t, runStore.Init())

	catalog, err := rules.NewCatalog([]domain.RuleDefinition{
		{
			ID: "R001", Metric: domain.MetricMaxSupplierShare, Operator: domain.OpGreaterThan,
			Threshold: threshold, Risk: domain.RiskHigh, Category: domain.CategorySupplyChainRisk,
		},
	})
	require.NoError(t, err)

	validator := validation.NewValidator(rules.NewInterpreter(0, zerolog.Nop()), zerolog.Nop())
	job := NewComplianceMonitorJob(runStore, catalog, validator, 24*time.Hour, zerolog.Nop())
	return job, runStore
}

func storedRun(final domain.Allocation) audit.RunRecord {
	return audit.RunRecord{
		ClientID:   "client-1",
		EntityType: "supplier",
		Result: domain.OptimizationResult{
			FinalAllocation: final,
			Converged:       true,
			IterationsUsed:  1,
		},
	}
}

func TestComplianceMonitor_PassesCompliantRuns(t *testing.T) {
	job, runStore := newMonitorFixture(t, 60)

	_, err := runStore.SaveRun(storedRun(domain.Allocation{"A": 50, "B": 50}))
	require.NoError(t, err)

	assert.NoError(t, job.Run())
}

func TestComplianceMonitor_DetectsDriftedRuns(t *testing.T) {
	// Catalog is stricter than it was when the run converged: a stored
	// 50/50 split now violates a 40% cap. The job must complete without
	// error; drift is reported, not fatal.
	job, runStore := newMonitorFixture(t, 40)

	_, err := runStore.SaveRun(storedRun(domain.Allocation{"A": 50, "B": 50}))
	require.NoError(t, err)

	assert.NoError(t, job.Run())
}

func TestComplianceMonitor_IgnoresRunsOutsideWindow(t *testing.T) {
	job, runStore := newMonitorFixture(t, 40)

	old := storedRun(domain.Allocation{"A": 100})
	old.CreatedAt = time.Now().UTC().Add(-72 * time.Hour)
	_, err := runStore.SaveRun(old)
	require.NoError(t, err)

	assert.NoError(t, job.Run())
}

func TestComplianceMonitor_Name(t *testing.T) {
	job, _ := newMonitorFixture(t, 40)
	assert.Equal(t, "compliance_monitor", job.Name())
}

func TestScheduler_AddAndRunJob(t *testing.T) {
	s := New(zerolog.Nop())

	job, runStore := newMonitorFixture(t, 60)
	_, err := runStore.SaveRun(storedRun(domain.Allocation{"A": 50, "B": 50}))
	require.NoError(t, err)

	require.NoError(t, s.AddJob("@hourly", job))
	assert.NoError(t, s.RunNow(job))

	s.Start()
	s.Stop()
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job, _ := newMonitorFixture(t, 60)

	assert.Error(t, s.AddJob("not a schedule", job))
}
