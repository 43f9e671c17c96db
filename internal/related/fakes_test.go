package related

import (
	"context"
	"fmt"

	"lineage/api/internal/store"
)

const project = "platform"

type fakeIndex struct {
	calls   int
	queryFn func(ctx context.Context, project string, groups []string) ([]store.Change, error)
}

func (f *fakeIndex) QueryByProjectAndGroups(ctx context.Context, project string, groups []string) ([]store.Change, error) {
	f.calls++
	return f.queryFn(ctx, project, groups)
}

type fakeStore struct {
	loads        []int64
	loadChangeFn func(ctx context.Context, changeID int64) (store.Change, error)
}

func (f *fakeStore) LoadChange(ctx context.Context, changeID int64) (store.Change, error) {
	f.loads = append(f.loads, changeID)
	return f.loadChangeFn(ctx, changeID)
}

type fakeCommits struct {
	commitFn func(ctx context.Context, project, hash string) (store.CommitInfo, error)
}

func (f *fakeCommits) Commit(ctx context.Context, project, hash string) (store.CommitInfo, error) {
	return f.commitFn(ctx, project, hash)
}

type fakeEdits struct {
	editFn func(ctx context.Context, project, account string, changeID int64) (store.Edit, error)
}

func (f *fakeEdits) Edit(ctx context.Context, project, account string, changeID int64) (store.Edit, error) {
	return f.editFn(ctx, project, account, changeID)
}

type countingObserver struct {
	candidates int
	reloaded   int
	dropped    int
}

func (o *countingObserver) ObserveCandidates(n int) { o.candidates += n }

func (o *countingObserver) ObserveReconcile(reloaded, dropped int) {
	o.reloaded += reloaded
	o.dropped += dropped
}

func ps(changeID int64, number int, commit string, groups ...string) store.PatchSet {
	return store.PatchSet{ChangeID: changeID, Number: number, Commit: commit, Groups: groups}
}

func newChange(id int64, status store.Status, patchSets ...store.PatchSet) store.Change {
	current := 0
	for _, p := range patchSets {
		if p.Number > current {
			current = p.Number
		}
	}
	return store.Change{
		ID:              id,
		Project:         project,
		Key:             fmt.Sprintf("I%04d", id),
		Status:          status,
		CurrentPatchSet: current,
		PatchSets:       patchSets,
	}
}

// commitGraph serves commits from a hash -> parents table.
func commitGraph(parents map[string][]string) *fakeCommits {
	return &fakeCommits{commitFn: func(_ context.Context, _ string, hash string) (store.CommitInfo, error) {
		p, ok := parents[hash]
		if !ok {
			return store.CommitInfo{}, fmt.Errorf("read %s: %w", hash, store.ErrCommitNotFound)
		}
		return store.CommitInfo{
			Hash:    hash,
			Parents: p,
			Author:  store.Person{Name: "Avery", Email: "avery@example.com"},
			Subject: "subject " + hash,
		}, nil
	}}
}

// storeOf serves the given changes as the authoritative store.
func storeOf(changes ...store.Change) *fakeStore {
	byID := make(map[int64]store.Change, len(changes))
	for _, c := range changes {
		byID[c.ID] = c
	}
	return &fakeStore{loadChangeFn: func(_ context.Context, id int64) (store.Change, error) {
		c, ok := byID[id]
		if !ok {
			return store.Change{}, fmt.Errorf("load %d: %w", id, store.ErrChangeNotFound)
		}
		return c, nil
	}}
}

// indexOf answers group queries from the given records, in order.
func indexOf(changes ...store.Change) *fakeIndex {
	return &fakeIndex{queryFn: func(_ context.Context, p string, groups []string) ([]store.Change, error) {
		wanted := make(map[string]bool, len(groups))
		for _, g := range groups {
			wanted[g] = true
		}
		var out []store.Change
		for _, c := range changes {
			if c.Project != p {
				continue
			}
			for _, g := range Groups(c) {
				if wanted[g] {
					out = append(out, c)
					break
				}
			}
		}
		return out, nil
	}}
}

func changeIDs(data []PatchSetData) []int64 {
	out := make([]int64, len(data))
	for i, d := range data {
		out[i] = d.Change.ID
	}
	return out
}

func entryIDs(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ChangeID
	}
	return out
}
