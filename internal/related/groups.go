package related

import (
	"sort"

	"lineage/api/internal/store"
)

// Groups returns the distinct lineage groups carried by any patch-set of
// change, sorted. A patch-set that was never assigned a group stands for its
// own lineage, keyed by its commit hash.
func Groups(change store.Change) []string {
	seen := make(map[string]struct{})
	for _, ps := range change.PatchSets {
		if len(ps.Groups) == 0 {
			if ps.Commit != "" {
				seen[ps.Commit] = struct{}{}
			}
			continue
		}
		for _, g := range ps.Groups {
			if g != "" {
				seen[g] = struct{}{}
			}
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
