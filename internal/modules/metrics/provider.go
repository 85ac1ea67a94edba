// Package metrics provides the built-in metric provider: the standard
// concentration metrics computed from an in-memory allocation. External
// providers can replace it through the domain.MetricProvider function type.
package metrics

import (
	"github.com/procurehq/spendguard/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// EntityType says what the allocation's entity identifiers denote.
// Supplier and region runs use disjoint namespaces and expose different
// metric sets.
type EntityType string

const (
	EntityTypeSupplier EntityType = "supplier"
	EntityTypeRegion   EntityType = "region"
)

// Provider computes metric snapshots over in-memory allocation data.
// Computation is pure and fast: anything slow (tariff data, benchmarks)
// must be folded into the EvaluationContext before optimization starts.
type Provider struct {
	entityType EntityType
	ctx        domain.EvaluationContext
	log        zerolog.Logger
}

// NewProvider creates a metric provider for one evaluation session.
func NewProvider(entityType EntityType, ctx domain.EvaluationContext, log zerolog.Logger) *Provider {
	return &Provider{
		entityType: entityType,
		ctx:        ctx,
		log:        log.With().Str("component", "metric_provider").Logger(),
	}
}

// AsFunc adapts the provider to the domain.MetricProvider function type.
func (p *Provider) AsFunc() domain.MetricProvider {
	return p.Snapshot
}

// Snapshot computes a fresh metric snapshot for the allocation.
// The high-risk share metric is emitted only when the context names a
// high-risk entity set: emitting zero without one would let a risk rule
// pass silently instead of surfacing as "not evaluated".
func (p *Provider) Snapshot(alloc domain.Allocation) domain.MetricSnapshot {
	values := make(map[domain.MetricKey]float64)
	entities := make(map[domain.MetricKey]string)

	ordered := alloc.Entities()
	shares := make([]float64, 0, len(ordered))
	for _, entity := range ordered {
		shares = append(shares, alloc[entity])
	}
	total := floats.Sum(shares)

	values[domain.MetricHerfindahlIndex] = herfindahl(shares, total)

	switch p.entityType {
	case EntityTypeRegion:
		if len(ordered) > 0 {
			values[domain.MetricMaxRegionShare] = alloc[ordered[0]]
			entities[domain.MetricMaxRegionShare] = ordered[0]
		}
		if p.ctx.HighRiskEntities != nil {
			riskShare := 0.0
			for entity, share := range alloc {
				if p.ctx.HighRiskEntities[entity] {
					riskShare += share
				}
			}
			values[domain.MetricHighRiskRegionShare] = riskShare
		}

	case EntityTypeSupplier:
		if len(ordered) > 0 {
			values[domain.MetricMaxSupplierShare] = alloc[ordered[0]]
			entities[domain.MetricMaxSupplierShare] = ordered[0]
		}
		if smallest, share := alloc.SmallestActive(); smallest != "" {
			values[domain.MetricMinSupplierShare] = share
			entities[domain.MetricMinSupplierShare] = smallest
		}
		top3 := shares
		if len(top3) > 3 {
			top3 = top3[:3]
		}
		values[domain.MetricTop3SupplierShare] = floats.Sum(top3)
		values[domain.MetricActiveSupplierCount] = float64(alloc.ActiveCount())
	}

	return domain.MetricSnapshot{Values: values, Entities: entities}
}

// herfindahl computes the Herfindahl-Hirschman index on the 0-10000 scale
// used by concentration rules.
func herfindahl(shares []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	fractions := make([]float64, len(shares))
	for i, share := range shares {
		fractions[i] = share / total
	}
	return floats.Dot(fractions, fractions) * 10000
}
