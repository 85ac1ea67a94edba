package optimization

import (
	"testing"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(evalCtx domain.EvaluationContext) *adjustEnv {
	return &adjustEnv{cfg: DefaultConfig(), evalCtx: evalCtx, log: zerolog.Nop()}
}

func TestHeuristicFor(t *testing.T) {
	assert.IsType(t, shareCeilingHeuristic{}, heuristicFor(domain.KindShareCeiling))
	assert.IsType(t, shareFloorHeuristic{}, heuristicFor(domain.KindShareFloor))
	assert.IsType(t, countFloorHeuristic{}, heuristicFor(domain.KindCountFloor))
	assert.IsType(t, indexCeilingHeuristic{}, heuristicFor(domain.KindIndexCeiling))
	assert.IsType(t, compositeShareHeuristic{}, heuristicFor(domain.KindCompositeShare))
}

func TestAdjustEnv_NewEntity(t *testing.T) {
	env := newTestEnv(domain.EvaluationContext{
		CandidateEntities: []string{"SUP-A", "SUP-B"},
	})
	alloc := domain.Allocation{"SUP-A": 100}

	// Candidates already present are skipped; exhausted list falls back to
	// synthesized names.
	assert.Equal(t, "SUP-B", env.newEntity(alloc))
	assert.Equal(t, "alternate-1", env.newEntity(alloc))
	assert.Equal(t, "alternate-2", env.newEntity(alloc))
}

func TestShareCeilingHeuristic_RedistributesByHeadroom(t *testing.T) {
	alloc := domain.Allocation{"Malaysia": 85, "India": 10, "Thailand": 5}
	rule := domain.RuleDefinition{ID: "R001", Metric: domain.MetricMaxRegionShare, Threshold: 40}
	violation := domain.ViolationRecord{RuleID: "R001", AffectedEntity: "Malaysia"}

	shareCeilingHeuristic{}.apply(alloc, violation, rule, newTestEnv(domain.EvaluationContext{}))

	assert.InDelta(t, 40.0, alloc["Malaysia"], 1e-9)
	// India had 30 headroom, Thailand 35; excess 45 splits 30/65 vs 35/65.
	assert.InDelta(t, 10+45.0*30/65, alloc["India"], 1e-9)
	assert.InDelta(t, 5+45.0*35/65, alloc["Thailand"], 1e-9)
	assert.InDelta(t, 100.0, alloc.Sum(), 1e-9)
}

func TestShareCeilingHeuristic_SeedsWhenNoHeadroom(t *testing.T) {
	alloc := domain.Allocation{"A": 100}
	rule := domain.RuleDefinition{ID: "R001", Metric: domain.MetricMaxSupplierShare, Threshold: 60}
	violation := domain.ViolationRecord{RuleID: "R001", AffectedEntity: "A"}

	shareCeilingHeuristic{}.apply(alloc, violation, rule, newTestEnv(domain.EvaluationContext{}))

	assert.InDelta(t, 60.0, alloc["A"], 1e-9)
	assert.InDelta(t, 40.0, alloc["alternate-1"], 1e-9)
}

func TestShareCeilingHeuristic_SplitsOversizedExcess(t *testing.T) {
	// Excess 70 cannot fit in one new allocation under a 30 cap.
	alloc := domain.Allocation{"A": 100}
	rule := domain.RuleDefinition{ID: "R001", Metric: domain.MetricMaxSupplierShare, Threshold: 30}
	violation := domain.ViolationRecord{RuleID: "R001", AffectedEntity: "A"}

	shareCeilingHeuristic{}.apply(alloc, violation, rule, newTestEnv(domain.EvaluationContext{}))

	assert.InDelta(t, 30.0, alloc["A"], 1e-9)
	for entity, share := range alloc {
		assert.LessOrEqual(t, share, 30.0+1e-9, "entity %s exceeds the cap it was created to satisfy", entity)
	}
	assert.InDelta(t, 100.0, alloc.Sum(), 1e-9)
}

func TestShareFloorHeuristic_MergesFragmentsAndRaisesRest(t *testing.T) {
	alloc := domain.Allocation{"A": 90, "B": 8, "C": 2}
	rule := domain.RuleDefinition{ID: "R002", Metric: domain.MetricMinSupplierShare, Threshold: 10}
	violation := domain.ViolationRecord{RuleID: "R002", AffectedEntity: "C"}

	shareFloorHeuristic{}.apply(alloc, violation, rule, newTestEnv(domain.EvaluationContext{}))

	// C at 2 is below the fragmentation floor (5) and merges into A;
	// B is raised to the floor, funded by A.
	require.NotContains(t, alloc, "C")
	assert.InDelta(t, 10.0, alloc["B"], 1e-9)
	assert.InDelta(t, 90.0, alloc["A"], 1e-9)
	assert.InDelta(t, 100.0, alloc.Sum(), 1e-9)
}

func TestShareFloorHeuristic_NeverPushesDonorBelowFloor(t *testing.T) {
	alloc := domain.Allocation{"A": 22, "B": 34, "C": 44}
	rule := domain.RuleDefinition{ID: "R002", Metric: domain.MetricMinSupplierShare, Threshold: 40}
	violation := domain.ViolationRecord{RuleID: "R002", AffectedEntity: "A"}

	shareFloorHeuristic{}.apply(alloc, violation, rule, newTestEnv(domain.EvaluationContext{}))

	// A and B need 24 points between them but C only holds 4 above the
	// floor, so the raise is scaled to what donors can afford.
	assert.InDelta(t, 25.0, alloc["A"], 1e-9)
	assert.InDelta(t, 35.0, alloc["B"], 1e-9)
	assert.GreaterOrEqual(t, alloc["C"], 40.0-1e-9)
	assert.InDelta(t, 100.0, alloc.Sum(), 1e-9)
}

func TestCountFloorHeuristic_SeedsMissingEntities(t *testing.T) {
	alloc := domain.Allocation{"A": 70, "B": 30}
	rule := domain.RuleDefinition{ID: "R003", Metric: domain.MetricActiveSupplierCount, Threshold: 4}
	violation := domain.ViolationRecord{RuleID: "R003"}
	env := newTestEnv(domain.EvaluationContext{CandidateEntities: []string{"SUP-NEW"}})

	countFloorHeuristic{}.apply(alloc, violation, rule, env)

	assert.Equal(t, 4, alloc.ActiveCount())
	assert.InDelta(t, 5.0, alloc["SUP-NEW"], 1e-9)
	assert.InDelta(t, 5.0, alloc["alternate-1"], 1e-9)
	assert.InDelta(t, 100.0, alloc.Sum(), 1e-9)
}

func TestCountFloorHeuristic_StopsWhenNoDonorCanFund(t *testing.T) {
	alloc := domain.Allocation{"A": 4, "B": 4}

	// Neither entity can afford a 5-point seed; the heuristic must give up
	// cleanly rather than drive a donor negative.
	env := newTestEnv(domain.EvaluationContext{})
	env.cfg.SeedShare = 5
	rule := domain.RuleDefinition{ID: "R003", Metric: domain.MetricActiveSupplierCount, Threshold: 3}

	countFloorHeuristic{}.apply(alloc, domain.ViolationRecord{RuleID: "R003"}, rule, env)

	assert.Equal(t, 2, alloc.ActiveCount())
	for entity, share := range alloc {
		assert.GreaterOrEqual(t, share, 0.0, "entity %s went negative", entity)
	}
}

func TestIndexCeilingHeuristic_TransfersHighToLow(t *testing.T) {
	alloc := domain.Allocation{"A": 60, "B": 30, "C": 10}
	rule := domain.RuleDefinition{ID: "R004", Metric: domain.MetricHerfindahlIndex, Threshold: 4000}

	indexCeilingHeuristic{}.apply(alloc, domain.ViolationRecord{RuleID: "R004"}, rule, newTestEnv(domain.EvaluationContext{}))

	// Half the 50-point spread is 25, clamped to the 10-point transfer cap.
	assert.InDelta(t, 50.0, alloc["A"], 1e-9)
	assert.InDelta(t, 30.0, alloc["B"], 1e-9)
	assert.InDelta(t, 20.0, alloc["C"], 1e-9)
}

func TestIndexCeilingHeuristic_SingleEntitySeeds(t *testing.T) {
	alloc := domain.Allocation{"A": 100}
	rule := domain.RuleDefinition{ID: "R004", Metric: domain.MetricHerfindahlIndex, Threshold: 4000}

	indexCeilingHeuristic{}.apply(alloc, domain.ViolationRecord{RuleID: "R004"}, rule, newTestEnv(domain.EvaluationContext{}))

	require.Len(t, alloc, 2)
	assert.InDelta(t, 95.0, alloc["A"], 1e-9)
	assert.InDelta(t, 5.0, alloc["alternate-1"], 1e-9)
}

func TestCompositeShareHeuristic_ScalesRiskSetProportionally(t *testing.T) {
	alloc := domain.Allocation{"MY": 50, "TH": 30, "DE": 20}
	rule := domain.RuleDefinition{ID: "R005", Metric: domain.MetricHighRiskRegionShare, Threshold: 50}
	env := newTestEnv(domain.EvaluationContext{
		HighRiskEntities: map[string]bool{"MY": true, "TH": true},
	})

	compositeShareHeuristic{}.apply(alloc, domain.ViolationRecord{RuleID: "R005"}, rule, env)

	// Aggregate 80 scales by 50/80; the removed 30 lands on DE.
	assert.InDelta(t, 31.25, alloc["MY"], 1e-9)
	assert.InDelta(t, 18.75, alloc["TH"], 1e-9)
	assert.InDelta(t, 50.0, alloc["DE"], 1e-9)
	assert.InDelta(t, 100.0, alloc.Sum(), 1e-9)
}

func TestCompositeShareHeuristic_AllMembersSeedNonMember(t *testing.T) {
	alloc := domain.Allocation{"MY": 60, "TH": 40}
	rule := domain.RuleDefinition{ID: "R005", Metric: domain.MetricHighRiskRegionShare, Threshold: 50}
	env := newTestEnv(domain.EvaluationContext{
		HighRiskEntities:  map[string]bool{"MY": true, "TH": true},
		CandidateEntities: []string{"DE"},
	})

	compositeShareHeuristic{}.apply(alloc, domain.ViolationRecord{RuleID: "R005"}, rule, env)

	assert.InDelta(t, 50.0, alloc["MY"]+alloc["TH"], 1e-9)
	assert.InDelta(t, 50.0, alloc["DE"], 1e-9)
	assert.InDelta(t, 100.0, alloc.Sum(), 1e-9)
}

func TestCompositeShareHeuristic_NoRiskSetIsNoOp(t *testing.T) {
	alloc := domain.Allocation{"MY": 60, "DE": 40}
	rule := domain.RuleDefinition{ID: "R005", Metric: domain.MetricHighRiskRegionShare, Threshold: 50}

	compositeShareHeuristic{}.apply(alloc, domain.ViolationRecord{RuleID: "R005"}, rule, newTestEnv(domain.EvaluationContext{}))

	assert.Equal(t, domain.Allocation{"MY": 60, "DE": 40}, alloc)
}
