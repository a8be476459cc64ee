// Package linking computes temporal, semantic and causal links between
// memory units. All functions are pure; the storage layer supplies
// candidates and persists the resulting links.
package linking

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/recollect-ai/recollect/pkg/memory"
)

const (
	// DefaultTimeWindowHours bounds how far apart two units can be
	// mentioned and still be temporally linked.
	DefaultTimeWindowHours = 24
	// MaxTemporalLinksPerUnit caps temporal fan-out per new unit.
	MaxTemporalLinksPerUnit = 10
	// MinTemporalWeight is the floor of the temporal weight function.
	MinTemporalWeight = 0.3
)

// Timestamps persisted to the backing store must stay inside the range the
// store can represent; window arithmetic near the extremes clamps here.
var (
	MinRepresentableTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxRepresentableTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999000, time.UTC)
)

// NormalizeTime converts any timestamp to UTC. Comparisons and stored
// values always operate on UTC instants.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC()
}

// TemporalCandidate is an existing unit considered for temporal linking.
type TemporalCandidate struct {
	ID        uuid.UUID
	EventDate time.Time
}

// SemanticNeighbor is an existing unit returned by the store's vector
// index, with normalized cosine similarity.
type SemanticNeighbor struct {
	ID         uuid.UUID
	Similarity float64
}

// ComputeTemporalQueryBounds returns the [min-W, max+W] scan range for the
// given new units, clamped to the representable timestamp range. ok is
// false when units is empty.
func ComputeTemporalQueryBounds(units map[uuid.UUID]time.Time, windowHours int) (lower, upper time.Time, ok bool) {
	if len(units) == 0 {
		return time.Time{}, time.Time{}, false
	}

	first := true
	var minDate, maxDate time.Time
	for _, t := range units {
		t = NormalizeTime(t)
		if first {
			minDate, maxDate = t, t
			first = false
			continue
		}
		if t.Before(minDate) {
			minDate = t
		}
		if t.After(maxDate) {
			maxDate = t
		}
	}

	window := time.Duration(windowHours) * time.Hour
	lower = minDate.Add(-window)
	upper = maxDate.Add(window)
	if lower.Before(MinRepresentableTime) {
		lower = MinRepresentableTime
	}
	if upper.After(MaxRepresentableTime) {
		upper = MaxRepresentableTime
	}
	return lower, upper, true
}

// ComputeTemporalLinks links each new unit to candidates mentioned within
// the time window. Weight is max(MinTemporalWeight, 1 - |delta|/window);
// per unit at most maxLinks links are kept, strongest first, ties broken by
// candidate ID.
func ComputeTemporalLinks(units map[uuid.UUID]time.Time, candidates []TemporalCandidate, windowHours, maxLinks int) []memory.UnitLink {
	if len(units) == 0 || len(candidates) == 0 {
		return nil
	}
	if windowHours <= 0 {
		windowHours = DefaultTimeWindowHours
	}
	if maxLinks <= 0 {
		maxLinks = MaxTemporalLinksPerUnit
	}
	window := time.Duration(windowHours) * time.Hour

	// Deterministic output: iterate units in ID order.
	unitIDs := make([]uuid.UUID, 0, len(units))
	for id := range units {
		unitIDs = append(unitIDs, id)
	}
	sort.Slice(unitIDs, func(i, j int) bool { return unitIDs[i].String() < unitIDs[j].String() })

	var links []memory.UnitLink
	for _, unitID := range unitIDs {
		unitDate := NormalizeTime(units[unitID])

		scored := make([]memory.UnitLink, 0, len(candidates))
		for _, cand := range candidates {
			if cand.ID == unitID {
				continue
			}
			delta := NormalizeTime(cand.EventDate).Sub(unitDate)
			if delta < 0 {
				delta = -delta
			}
			if delta > window {
				continue
			}
			weight := 1.0 - float64(delta)/float64(window)
			if weight < MinTemporalWeight {
				weight = MinTemporalWeight
			}
			scored = append(scored, memory.UnitLink{
				SrcUnitID: unitID,
				DstUnitID: cand.ID,
				Kind:      memory.LinkKindTemporal,
				Weight:    weight,
			})
		}

		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Weight != scored[j].Weight {
				return scored[i].Weight > scored[j].Weight
			}
			return scored[i].DstUnitID.String() < scored[j].DstUnitID.String()
		})
		if len(scored) > maxLinks {
			scored = scored[:maxLinks]
		}
		links = append(links, scored...)
	}
	return links
}

// ComputeSemanticLinks keeps, for each new unit, the neighbors at or above
// the similarity floor, capped per unit. Neighbors are expected sorted by
// descending similarity (the store's k-NN order).
func ComputeSemanticLinks(neighbors map[uuid.UUID][]SemanticNeighbor, floor float64, maxLinks int) []memory.UnitLink {
	if len(neighbors) == 0 {
		return nil
	}

	unitIDs := make([]uuid.UUID, 0, len(neighbors))
	for id := range neighbors {
		unitIDs = append(unitIDs, id)
	}
	sort.Slice(unitIDs, func(i, j int) bool { return unitIDs[i].String() < unitIDs[j].String() })

	var links []memory.UnitLink
	for _, unitID := range unitIDs {
		kept := 0
		for _, n := range neighbors[unitID] {
			if n.ID == unitID || n.Similarity < floor {
				continue
			}
			weight := n.Similarity
			if weight > 1 {
				weight = 1
			}
			if weight < 0 {
				weight = 0
			}
			links = append(links, memory.UnitLink{
				SrcUnitID: unitID,
				DstUnitID: n.ID,
				Kind:      memory.LinkKindSemantic,
				Weight:    weight,
			})
			kept++
			if maxLinks > 0 && kept >= maxLinks {
				break
			}
		}
	}
	return links
}

// ComputeCausalLinks resolves extractor-reported causal relations to unit
// IDs. facts and duplicateFlags cover every processed fact in batch order;
// unitIDs covers the non-duplicate facts in the same order. Relations whose
// endpoint was dropped as a duplicate (or never existed) are skipped.
func ComputeCausalLinks(facts []memory.ProcessedFact, duplicateFlags []bool, unitIDs []uuid.UUID) []memory.UnitLink {
	if len(facts) == 0 {
		return nil
	}

	// Global fact index -> post-dedup unit ID.
	idByIndex := make(map[int]uuid.UUID, len(unitIDs))
	next := 0
	for i := range facts {
		if i < len(duplicateFlags) && duplicateFlags[i] {
			continue
		}
		if next >= len(unitIDs) {
			break
		}
		idByIndex[i] = unitIDs[next]
		next++
	}

	var links []memory.UnitLink
	for i, fact := range facts {
		src, ok := idByIndex[i]
		if !ok {
			continue
		}
		for _, rel := range fact.CausalRelations {
			dst, ok := idByIndex[rel.TargetFactIndex]
			if !ok || dst == src {
				continue
			}
			weight := rel.Strength
			if weight > 1 {
				weight = 1
			}
			if weight < 0 {
				weight = 0
			}
			links = append(links, memory.UnitLink{
				SrcUnitID: src,
				DstUnitID: dst,
				Kind:      memory.LinkKindCausal,
				Weight:    weight,
				Metadata:  string(rel.RelationType),
			})
		}
	}
	return links
}
