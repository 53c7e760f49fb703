// Package similarity scores candidate document pairs by weighted Jaccard
// overlap of their canonical entities and persists the relationships.
package similarity

import "slices"

// Jaccard returns |a∩b| / |a∪b| and the sorted intersection. Duplicate ids
// in either input are ignored. Either side empty scores 0.
func Jaccard(a, b []uint) (float64, []uint) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}

	inA := make(map[uint]struct{}, len(a))
	for _, id := range a {
		inA[id] = struct{}{}
	}
	union := len(inA)

	var shared []uint
	seenB := make(map[uint]struct{}, len(b))
	for _, id := range b {
		if _, dup := seenB[id]; dup {
			continue
		}
		seenB[id] = struct{}{}
		if _, ok := inA[id]; ok {
			shared = append(shared, id)
		} else {
			union++
		}
	}

	slices.Sort(shared)
	return float64(len(shared)) / float64(union), shared
}
