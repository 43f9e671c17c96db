package related

import (
	"context"
	"errors"

	"lineage/api/internal/store"
)

// DefaultMaxTerms bounds how many groups are sent in one index query.
const DefaultMaxTerms = 500

// QueryCandidates asks index for every change of project sharing one of
// groups. Groups are sent in batches of at most maxTerms; results are merged
// in first-seen order without repeating a change.
func QueryCandidates(ctx context.Context, index ChangeIndex, project string, groups []string, maxTerms int) ([]store.Change, error) {
	if len(groups) == 0 {
		return nil, errors.New("query candidates: no groups given")
	}
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}

	var out []store.Change
	seen := make(map[int64]struct{})
	for start := 0; start < len(groups); start += maxTerms {
		end := start + maxTerms
		if end > len(groups) {
			end = len(groups)
		}
		batch, err := index.QueryByProjectAndGroups(ctx, project, groups[start:end])
		if err != nil {
			return nil, classify("query index", err)
		}
		for _, change := range batch {
			if _, dup := seen[change.ID]; dup {
				continue
			}
			seen[change.ID] = struct{}{}
			out = append(out, change)
		}
	}
	return out, nil
}
