package related

import (
	"context"
	"errors"
	"fmt"

	"lineage/api/internal/store"
)

// Reconciled is the candidate set after index lag has been repaired.
type Reconciled struct {
	Changes []store.Change
	// Reloaded counts the changes that were re-read from the store.
	Reloaded int
	// Dropped counts indexed changes that no longer exist in the store.
	Dropped int
}

// Reconcile repairs candidates whose indexed record lags the store. The
// input slice is never modified. The change holding wantedPS is reloaded when
// its record lacks that patch-set, and every other change is reloaded when it
// lacks its own current patch-set. If wanted is missing altogether it is
// appended, so the result always contains the inspected change exactly once.
func Reconcile(ctx context.Context, changes ChangeStore, candidates []store.Change, wanted store.Change, wantedPS int) (Reconciled, error) {
	var out Reconciled
	out.Changes = make([]store.Change, 0, len(candidates)+1)
	seen := make(map[int64]struct{}, len(candidates)+1)

	for _, candidate := range candidates {
		if _, dup := seen[candidate.ID]; dup {
			continue
		}
		seen[candidate.ID] = struct{}{}

		expected := candidate.CurrentPatchSet
		if candidate.ID == wanted.ID {
			expected = wantedPS
		}
		if _, ok := candidate.PatchSet(expected); ok {
			out.Changes = append(out.Changes, candidate)
			continue
		}

		fresh, err := changes.LoadChange(ctx, candidate.ID)
		if err != nil {
			if candidate.ID != wanted.ID && errors.Is(err, store.ErrChangeNotFound) {
				out.Dropped++
				continue
			}
			return Reconciled{}, classify(fmt.Sprintf("reload change %d", candidate.ID), err)
		}
		out.Reloaded++
		out.Changes = append(out.Changes, fresh)
	}

	if _, ok := seen[wanted.ID]; !ok {
		out.Changes = append(out.Changes, wanted)
	}
	return out, nil
}
