package audit

import (
	"database/sql"
	"testing"
	"time"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewRunStore(db, zerolog.Nop())
	require.NoError(t, store.Init())
	return store
}

func sampleRecord(clientID string, converged bool) RunRecord {
	return RunRecord{
		ClientID:      clientID,
		Category:      domain.CategoryGeographicRisk,
		EntityType:    "region",
		MaxIterations: 5,
		Initial:       domain.Allocation{"Malaysia": 85, "India": 10, "Thailand": 5},
		Context: domain.EvaluationContext{
			ClientID:         clientID,
			HighRiskEntities: map[string]bool{"Malaysia": true},
		},
		Result: domain.OptimizationResult{
			FinalAllocation: domain.Allocation{"Malaysia": 40, "India": 30.77, "Thailand": 29.23},
			Converged:       converged,
			IterationsUsed:  1,
			History: []domain.Allocation{
				{"Malaysia": 40, "India": 30.77, "Thailand": 29.23},
			},
		},
	}
}

func TestRunStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	id, err := store.SaveRun(sampleRecord("client-1", true))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := store.GetRun(id)
	require.NoError(t, err)

	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, "client-1", loaded.ClientID)
	assert.Equal(t, domain.CategoryGeographicRisk, loaded.Category)
	assert.Equal(t, "region", loaded.EntityType)
	assert.Equal(t, 5, loaded.MaxIterations)
	assert.True(t, loaded.Result.Converged)
	assert.Equal(t, 1, loaded.Result.IterationsUsed)
	assert.InDelta(t, 85.0, loaded.Initial["Malaysia"], 1e-9)
	assert.InDelta(t, 40.0, loaded.Result.FinalAllocation["Malaysia"], 1e-9)
	assert.True(t, loaded.Context.HighRiskEntities["Malaysia"])

	require.Len(t, loaded.Result.History, 1)
	assert.InDelta(t, 30.77, loaded.Result.History[0]["India"], 1e-9)
}

func TestRunStore_GetUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun("no-such-run")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRunStore_ListRuns(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.SaveRun(sampleRecord("client-1", i%2 == 0))
		require.NoError(t, err)
	}

	summaries, err := store.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	all, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, summary := range all {
		assert.Equal(t, "client-1", summary.ClientID)
		assert.Equal(t, 1, summary.IterationsUsed)
	}
}

func TestRunStore_RunsSince(t *testing.T) {
	store := newTestStore(t)

	old := sampleRecord("client-old", true)
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	_, err := store.SaveRun(old)
	require.NoError(t, err)

	recent := sampleRecord("client-new", false)
	_, err = store.SaveRun(recent)
	require.NoError(t, err)

	summaries, err := store.RunsSince(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "client-new", summaries[0].ClientID)
	assert.False(t, summaries[0].Converged)
}
