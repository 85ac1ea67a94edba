package domain

import "sort"

// Allocation maps an entity identifier (supplier id or region code) to its
// percentage share of category spend. Shares sum to 100 within SumEpsilon.
// Supplier ids and region codes use disjoint namespaces, so a single
// allocation never mixes the two.
type Allocation map[string]float64

// Clone returns an independent copy of the allocation.
func (a Allocation) Clone() Allocation {
	out := make(Allocation, len(a))
	for entity, share := range a {
		out[entity] = share
	}
	return out
}

// Sum returns the total of all shares.
func (a Allocation) Sum() float64 {
	total := 0.0
	for _, share := range a {
		total += share
	}
	return total
}

// Entities returns entity identifiers sorted by share descending,
// ties broken by name for deterministic iteration.
func (a Allocation) Entities() []string {
	entities := make([]string, 0, len(a))
	for entity := range a {
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool {
		if a[entities[i]] != a[entities[j]] {
			return a[entities[i]] > a[entities[j]]
		}
		return entities[i] < entities[j]
	})
	return entities
}

// Largest returns the entity with the highest share. Ties break by name.
func (a Allocation) Largest() (string, float64) {
	best := ""
	bestShare := -1.0
	for entity, share := range a {
		if share > bestShare || (share == bestShare && entity < best) {
			best = entity
			bestShare = share
		}
	}
	return best, bestShare
}

// SmallestActive returns the entity with the lowest non-zero share.
// Ties break by name. Returns ("", 0) when no entity holds a share.
func (a Allocation) SmallestActive() (string, float64) {
	best := ""
	bestShare := 0.0
	for entity, share := range a {
		if share <= 0 {
			continue
		}
		if best == "" || share < bestShare || (share == bestShare && entity < best) {
			best = entity
			bestShare = share
		}
	}
	return best, bestShare
}

// ActiveCount returns the number of entities holding a non-zero share.
func (a Allocation) ActiveCount() int {
	count := 0
	for _, share := range a {
		if share > 0 {
			count++
		}
	}
	return count
}

// MetricSnapshot is a point-in-time set of named metric values, produced
// fresh for every evaluation pass. Entities optionally attributes a metric
// to the entity it was measured on (e.g. which supplier holds the max share).
type MetricSnapshot struct {
	Values   map[MetricKey]float64 `json:"values"`
	Entities map[MetricKey]string  `json:"entities,omitempty"`
}

// Value looks up a metric. The second return is false when the metric is
// absent, which callers must treat as "not evaluated", never as zero.
func (s MetricSnapshot) Value(key MetricKey) (float64, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Entity returns the entity a metric was measured on, if attributed.
func (s MetricSnapshot) Entity(key MetricKey) string {
	return s.Entities[key]
}

// MetricProvider computes a metric snapshot for a candidate allocation.
// Providers must be fast, pure functions over in-memory data: anything slow
// (tariff lookups, benchmark fetches) is pre-fetched by the caller before
// optimization starts.
type MetricProvider func(Allocation) MetricSnapshot

// EvaluationContext carries the read-only context one optimization run
// evaluates under.
type EvaluationContext struct {
	ClientID string `json:"client_id"`
	Category string `json:"category"`

	// HighRiskEntities names the entities in the composite risk set
	// (e.g. regions under elevated tariff or geopolitical risk).
	HighRiskEntities map[string]bool `json:"high_risk_entities,omitempty"`

	// CandidateEntities names approved-but-unallocated entities the
	// optimizer may introduce when repair requires a new allocation.
	CandidateEntities []string `json:"candidate_entities,omitempty"`
}
