package campaign

import (
	"cmp"
	"slices"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
)

// signatureAccumulator counts, per kind, how many cluster documents
// reference each entity.
type signatureAccumulator struct {
	counts map[entities.EntityKind]map[uint]int
	docs   int
}

func newSignatureAccumulator() *signatureAccumulator {
	counts := make(map[entities.EntityKind]map[uint]int, len(entities.Kinds))
	for _, kind := range entities.Kinds {
		counts[kind] = make(map[uint]int)
	}
	return &signatureAccumulator{counts: counts}
}

// Add counts one document's entities. Each id counts once per document.
func (a *signatureAccumulator) Add(sets repository.EntitySets) {
	a.docs++
	for _, kind := range entities.Kinds {
		seen := make(map[uint]struct{}, len(sets[kind]))
		for _, id := range sets[kind] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			a.counts[kind][id]++
		}
	}
}

// Signature is the set of entities referenced by at least half of a cluster.
type Signature struct {
	Indicators []uint
	Techniques []uint
	Actors     []uint
	// actorCounts orders actors for naming.
	actorCounts map[uint]int
}

// Size returns the number of signature entities across kinds.
func (s *Signature) Size() int {
	return len(s.Indicators) + len(s.Techniques) + len(s.Actors)
}

// PrimaryActor returns the signature actor referenced by the most cluster
// documents, lowest id first on ties.
func (s *Signature) PrimaryActor() (uint, bool) {
	if len(s.Actors) == 0 {
		return 0, false
	}
	best := slices.MaxFunc(s.Actors, func(a, b uint) int {
		if c := cmp.Compare(s.actorCounts[a], s.actorCounts[b]); c != 0 {
			return c
		}
		return cmp.Compare(b, a)
	})
	return best, true
}

// Signature selects entities with 2*count >= cluster size.
func (a *signatureAccumulator) Signature() *Signature {
	pick := func(kind entities.EntityKind) []uint {
		var ids []uint
		for id, n := range a.counts[kind] {
			if 2*n >= a.docs {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		return ids
	}
	return &Signature{
		Indicators:  pick(entities.KindIndicator),
		Techniques:  pick(entities.KindTechnique),
		Actors:      pick(entities.KindActor),
		actorCounts: a.counts[entities.KindActor],
	}
}
