package optimization

import (
	"fmt"

	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
)

// heuristic adjusts an allocation toward resolving one violation.
// Implementations mutate alloc in place; the optimizer applies them
// sequentially within an iteration so each adjustment is visible to the
// next heuristic's view of which entities still have headroom.
type heuristic interface {
	apply(alloc domain.Allocation, violation domain.ViolationRecord, rule domain.RuleDefinition, env *adjustEnv)
}

// adjustEnv carries the per-run state adjustment heuristics share.
type adjustEnv struct {
	cfg           Config
	evalCtx       domain.EvaluationContext
	nextCandidate int
	nextSynthetic int
	log           zerolog.Logger
}

// newEntity picks an identifier for a newly introduced allocation: first
// from the context's approved candidate list, then synthesized placeholder
// names so repair can still report a feasible shape without one.
func (e *adjustEnv) newEntity(alloc domain.Allocation) string {
	for e.nextCandidate < len(e.evalCtx.CandidateEntities) {
		candidate := e.evalCtx.CandidateEntities[e.nextCandidate]
		e.nextCandidate++
		if _, exists := alloc[candidate]; !exists {
			return candidate
		}
	}
	for {
		e.nextSynthetic++
		name := fmt.Sprintf("alternate-%d", e.nextSynthetic)
		if _, exists := alloc[name]; !exists {
			return name
		}
	}
}

// heuristicFor maps the metric's adjustment shape to its repair heuristic.
func heuristicFor(kind domain.MetricKind) heuristic {
	switch kind {
	case domain.KindShareFloor:
		return shareFloorHeuristic{}
	case domain.KindCountFloor:
		return countFloorHeuristic{}
	case domain.KindIndexCeiling:
		return indexCeilingHeuristic{}
	case domain.KindCompositeShare:
		return compositeShareHeuristic{}
	default:
		return shareCeilingHeuristic{}
	}
}

// shareCeilingHeuristic handles upper-bound-exceeded rules: clamp the
// offending entity down to the threshold and redistribute the removed
// excess across entities that still have headroom under the same cap.
// When no entity can absorb, the excess seeds new allocations instead,
// each capped at the threshold so the repair never creates a fresh
// violation of the same rule.
type shareCeilingHeuristic struct{}

func (shareCeilingHeuristic) apply(alloc domain.Allocation, violation domain.ViolationRecord, rule domain.RuleDefinition, env *adjustEnv) {
	offender := violation.AffectedEntity
	if _, ok := alloc[offender]; !ok {
		offender, _ = alloc.Largest()
	}
	if offender == "" {
		return
	}

	limit := rule.Threshold
	excess := alloc[offender] - limit
	if excess <= 0 {
		return
	}
	alloc[offender] = limit

	// Absorb into existing entities below the cap, proportional to their
	// remaining headroom so no receiver is pushed into violation.
	headroom := make(map[string]float64)
	totalHeadroom := 0.0
	for entity, share := range alloc {
		if entity == offender {
			continue
		}
		if room := limit - share; room > 0 {
			headroom[entity] = room
			totalHeadroom += room
		}
	}

	if totalHeadroom > 0 {
		absorbed := excess
		if absorbed > totalHeadroom {
			absorbed = totalHeadroom
		}
		for entity, room := range headroom {
			alloc[entity] += absorbed * room / totalHeadroom
		}
		excess -= absorbed
	}

	// Leftover excess seeds new allocations, each bounded by the cap.
	for excess > 1e-9 {
		entity := env.newEntity(alloc)
		grant := excess
		if grant > limit {
			grant = limit
		}
		alloc[entity] = grant
		excess -= grant
		env.log.Debug().
			Str("rule_id", rule.ID).
			Str("entity", entity).
			Float64("share", grant).
			Msg("Introduced new allocation to absorb excess")
	}
}

// shareFloorHeuristic handles lower-bound/fragmentation rules: allocations
// below a fragmentation floor are merged into the largest entity; the rest
// below the rule's floor are raised to it, funded proportionally from
// entities above the floor without pushing any donor below it.
type shareFloorHeuristic struct{}

func (shareFloorHeuristic) apply(alloc domain.Allocation, violation domain.ViolationRecord, rule domain.RuleDefinition, env *adjustEnv) {
	floor := rule.Threshold
	fragmentationFloor := floor / 2
	if fragmentationFloor < env.cfg.MinShareEpsilon {
		fragmentationFloor = env.cfg.MinShareEpsilon
	}

	largest, _ := alloc.Largest()

	// Merge fragments too small to be worth raising.
	for _, entity := range alloc.Entities() {
		share := alloc[entity]
		if entity == largest || share <= 0 || share >= fragmentationFloor {
			continue
		}
		alloc[largest] += share
		delete(alloc, entity)
		env.log.Debug().
			Str("rule_id", rule.ID).
			Str("entity", entity).
			Float64("share", share).
			Msg("Merged fragment into largest allocation")
	}

	// Raise the remaining below-floor allocations.
	need := 0.0
	for entity, share := range alloc {
		if share > 0 && share < floor && entity != largest {
			need += floor - share
		}
	}
	if need <= 0 {
		return
	}

	donorHeadroom := make(map[string]float64)
	totalHeadroom := 0.0
	for entity, share := range alloc {
		if room := share - floor; room > 0 {
			donorHeadroom[entity] = room
			totalHeadroom += room
		}
	}
	if totalHeadroom <= 0 {
		return
	}

	funded := need
	if funded > totalHeadroom {
		funded = totalHeadroom
	}
	scale := funded / need

	for entity, room := range donorHeadroom {
		alloc[entity] -= funded * room / totalHeadroom
	}
	for _, entity := range alloc.Entities() {
		share := alloc[entity]
		if share > 0 && share < floor {
			if _, isDonor := donorHeadroom[entity]; isDonor {
				continue
			}
			alloc[entity] = share + (floor-share)*scale
		}
	}
}

// countFloorHeuristic handles minimum-entity-count rules: new allocations
// are introduced at a seed share, funded equally from the largest entities.
type countFloorHeuristic struct{}

func (countFloorHeuristic) apply(alloc domain.Allocation, violation domain.ViolationRecord, rule domain.RuleDefinition, env *adjustEnv) {
	need := int(rule.Threshold) - alloc.ActiveCount()
	for i := 0; i < need; i++ {
		entity := env.newEntity(alloc)
		if !seedFromLargest(alloc, entity, env.cfg.SeedShare) {
			env.log.Warn().
				Str("rule_id", rule.ID).
				Msg("No entity large enough to fund a seed allocation")
			return
		}
		env.log.Debug().
			Str("rule_id", rule.ID).
			Str("entity", entity).
			Float64("share", env.cfg.SeedShare).
			Msg("Introduced seed allocation to meet entity count floor")
	}
}

// seedFromLargest funds a new allocation of the given size equally from the
// largest existing entities. Returns false when no entity can afford it.
func seedFromLargest(alloc domain.Allocation, newEntity string, seed float64) bool {
	var donors []string
	for _, entity := range alloc.Entities() {
		if alloc[entity] > 2*seed {
			donors = append(donors, entity)
		}
		if len(donors) == 3 {
			break
		}
	}
	if len(donors) == 0 {
		largest, share := alloc.Largest()
		if largest == "" || share <= seed {
			return false
		}
		alloc[largest] -= seed
		alloc[newEntity] += seed
		return true
	}

	per := seed / float64(len(donors))
	for _, donor := range donors {
		alloc[donor] -= per
	}
	alloc[newEntity] += seed
	return true
}

// indexCeilingHeuristic handles concentration-index rules: transfer a
// bounded increment from the highest-share entity to the lowest-share one.
// With a single entity there is nothing to spread into, so a seed
// allocation is introduced first.
type indexCeilingHeuristic struct{}

func (indexCeilingHeuristic) apply(alloc domain.Allocation, violation domain.ViolationRecord, rule domain.RuleDefinition, env *adjustEnv) {
	highest, highShare := alloc.Largest()
	lowest, lowShare := alloc.SmallestActive()
	if highest == "" {
		return
	}
	if highest == lowest {
		entity := env.newEntity(alloc)
		seedFromLargest(alloc, entity, env.cfg.SeedShare)
		return
	}

	transfer := (highShare - lowShare) / 2
	if transfer > env.cfg.MaxTransferPerPass {
		transfer = env.cfg.MaxTransferPerPass
	}
	if transfer <= 0 {
		return
	}
	alloc[highest] -= transfer
	alloc[lowest] += transfer
}

// compositeShareHeuristic handles aggregate-share rules over a named risk
// set: every member is reduced proportionally until the aggregate meets the
// cap, and the removed share moves to non-member entities.
type compositeShareHeuristic struct{}

func (compositeShareHeuristic) apply(alloc domain.Allocation, violation domain.ViolationRecord, rule domain.RuleDefinition, env *adjustEnv) {
	riskSet := env.evalCtx.HighRiskEntities
	if len(riskSet) == 0 {
		env.log.Warn().
			Str("rule_id", rule.ID).
			Msg("Composite rule violated but no risk set in context - cannot adjust")
		return
	}

	aggregate := 0.0
	for entity, share := range alloc {
		if riskSet[entity] {
			aggregate += share
		}
	}
	excess := aggregate - rule.Threshold
	if excess <= 0 || aggregate <= 0 {
		return
	}

	scale := rule.Threshold / aggregate
	removed := 0.0
	for entity, share := range alloc {
		if riskSet[entity] {
			reduced := share * scale
			removed += share - reduced
			alloc[entity] = reduced
		}
	}

	// Move the removed share to non-member entities, proportionally.
	nonMemberTotal := 0.0
	for entity, share := range alloc {
		if !riskSet[entity] {
			nonMemberTotal += share
		}
	}
	if nonMemberTotal > 0 {
		factor := removed / nonMemberTotal
		for entity, share := range alloc {
			if !riskSet[entity] {
				alloc[entity] = share + share*factor
			}
		}
		return
	}

	// Every entity is in the risk set: introduce a non-member allocation.
	for {
		entity := env.newEntity(alloc)
		if riskSet[entity] {
			// Candidate itself is high-risk; keep looking.
			continue
		}
		alloc[entity] = removed
		return
	}
}
