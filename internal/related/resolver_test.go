package related

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"lineage/api/internal/store"
)

func noEdits() *fakeEdits {
	return &fakeEdits{editFn: func(_ context.Context, _, account string, changeID int64) (store.Edit, error) {
		return store.Edit{}, store.ErrEditNotFound
	}}
}

// stack is three changes stacked c1 <- c2 <- c3 sharing group "g".
func stack() (store.Change, store.Change, store.Change, *fakeCommits) {
	x := newChange(1, store.StatusMerged, ps(1, 1, "c1", "g"))
	y := newChange(2, store.StatusOpen, ps(2, 1, "c2", "g"))
	z := newChange(3, store.StatusOpen, ps(3, 1, "c3", "g"))
	commits := commitGraph(map[string][]string{"c1": {"c0"}, "c2": {"c1"}, "c3": {"c2"}, "e2": {"c1"}})
	return x, y, z, commits
}

func TestResolveStack(t *testing.T) {
	x, y, z, commits := stack()
	r := NewResolver(indexOf(x, y, z), storeOf(x, y, z), commits, noEdits(), Options{})

	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, PatchSet: 1})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ids := entryIDs(got); !reflect.DeepEqual(ids, []int64{3, 2, 1}) {
		t.Fatalf("Resolve() = %v, want [3 2 1]", ids)
	}
	last := got[2]
	if last.Status != "MERGED" || last.ChangeKey != "I0001" || last.CurrentPatchSet != 1 || last.Project != project {
		t.Fatalf("unexpected entry %+v", last)
	}
	if len(last.Commit.Parents) != 1 || last.Commit.Parents[0].Hash != "c0" {
		t.Fatalf("unexpected parents %+v", last.Commit.Parents)
	}
}

func TestResolveUngroupedChangeIsEmpty(t *testing.T) {
	lonely := newChange(5, store.StatusOpen, ps(5, 1, "c5"))
	other := newChange(6, store.StatusOpen, ps(6, 1, "c6", "g"))
	index := indexOf(lonely, other)
	r := NewResolver(index, storeOf(lonely, other), commitGraph(nil), noEdits(), Options{})

	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 5, PatchSet: 1})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Resolve() = %v, want empty non-nil", got)
	}
}

func TestResolveOnlySelfIsEmpty(t *testing.T) {
	self := newChange(1, store.StatusOpen, ps(1, 1, "c1", "g"))
	changes := storeOf(self)
	r := NewResolver(indexOf(self), changes, commitGraph(nil), noEdits(), Options{})

	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 1, PatchSet: 1})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Resolve() = %v, want empty", got)
	}
	if len(changes.loads) != 1 {
		t.Fatalf("expected only the initial load, got %v", changes.loads)
	}
}

func TestResolveNoCandidatesIsEmpty(t *testing.T) {
	self := newChange(1, store.StatusOpen, ps(1, 1, "c1", "g"))
	r := NewResolver(indexOf(), storeOf(self), commitGraph(nil), noEdits(), Options{})

	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 1, PatchSet: 1})
	if err != nil || len(got) != 0 {
		t.Fatalf("Resolve() = %v, %v; want empty", got, err)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	x, y, z, commits := stack()
	r := NewResolver(indexOf(z, x, y), storeOf(x, y, z), commits, noEdits(), Options{})
	req := Request{Project: project, ChangeID: 1, PatchSet: 1}

	first, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Resolve() differs between calls:\n%+v\n%+v", first, second)
	}
}

func TestResolveRepairsStaleIndex(t *testing.T) {
	x, _, z, _ := stack()
	y := newChange(2, store.StatusOpen, ps(2, 1, "c2", "g"), ps(2, 2, "c2b", "g"))
	staleY := y
	staleY.PatchSets = y.PatchSets[:1]
	staleY.CurrentPatchSet = 1
	commits := commitGraph(map[string][]string{"c1": {"c0"}, "c2": {"c1"}, "c2b": {"c1"}, "c3": {"c2"}})
	observer := &countingObserver{}

	r := NewResolver(indexOf(x, staleY, z), storeOf(x, y, z), commits, noEdits(), Options{Observer: observer})
	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, PatchSet: 2})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	seen := make(map[int64]int)
	for _, e := range got {
		seen[e.ChangeID]++
	}
	if seen[2] != 1 {
		t.Fatalf("change 2 appears %d times", seen[2])
	}
	// Change 3 sits on patch-set 1 and is reached through it.
	if ids := entryIDs(got); !reflect.DeepEqual(ids, []int64{3, 2, 1}) {
		t.Fatalf("Resolve() = %v, want [3 2 1]", ids)
	}
	if got[1].PatchSet != 2 || got[1].Commit.Hash != "c2b" {
		t.Fatalf("expected patch-set 2 of change 2, got %+v", got[1])
	}
	if observer.reloaded != 1 || observer.candidates != 3 {
		t.Fatalf("observer = %+v", observer)
	}
}

func TestResolveIndexMissingRequestedChange(t *testing.T) {
	x, y, z, commits := stack()
	r := NewResolver(indexOf(x, z), storeOf(x, y, z), commits, noEdits(), Options{})

	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, PatchSet: 1})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ids := entryIDs(got); !reflect.DeepEqual(ids, []int64{3, 2, 1}) {
		t.Fatalf("Resolve() = %v, want [3 2 1]", ids)
	}
}

func TestResolveSubstitutesEdit(t *testing.T) {
	x, y, z, commits := stack()
	edits := &fakeEdits{editFn: func(_ context.Context, p, account string, changeID int64) (store.Edit, error) {
		if p != project || account != "1000042" || changeID != 2 {
			t.Fatalf("unexpected edit lookup %s %s %d", p, account, changeID)
		}
		return store.Edit{ChangeID: 2, Account: account, BasePatchSet: 1, Commit: "e2"}, nil
	}}
	r := NewResolver(indexOf(x, y, z), storeOf(x, y, z), commits, edits, Options{})

	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, Edit: true, Account: "1000042"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ids := entryIDs(got); !reflect.DeepEqual(ids, []int64{3, 2, 1}) {
		t.Fatalf("Resolve() = %v, want [3 2 1]", ids)
	}
	if got[1].Commit.Hash != "e2" || got[1].PatchSet != 1 || got[1].ChangeID != 2 {
		t.Fatalf("edit not substituted: %+v", got[1])
	}
	if got[0].Commit.Hash != "c3" || got[2].Commit.Hash != "c1" {
		t.Fatalf("other entries changed: %+v", got)
	}
}

func TestResolveCollapsesLoneEdit(t *testing.T) {
	y := newChange(2, store.StatusOpen, ps(2, 1, "c2", "g"))
	ghost := newChange(9, store.StatusOpen, ps(9, 1, "c9", "g"))
	ghost.CurrentPatchSet = 2
	commits := commitGraph(map[string][]string{"c2": {"c1"}, "e2": {"c1"}})
	edits := &fakeEdits{editFn: func(context.Context, string, string, int64) (store.Edit, error) {
		return store.Edit{ChangeID: 2, Account: "7", BasePatchSet: 1, Commit: "e2"}, nil
	}}
	r := NewResolver(indexOf(y, ghost), storeOf(y), commits, edits, Options{})

	got, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, Edit: true, Account: "7"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Resolve(edit) = %+v, want empty", got)
	}

	got, err = r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, PatchSet: 1})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Resolve(revision) = %+v, want empty", got)
	}
}

func TestResolveNotFound(t *testing.T) {
	x, y, z, commits := stack()
	r := NewResolver(indexOf(x, y, z), storeOf(x, y, z), commits, noEdits(), Options{})

	cases := map[string]Request{
		"unknown change":    {Project: project, ChangeID: 99, PatchSet: 1},
		"unknown patch-set": {Project: project, ChangeID: 2, PatchSet: 4},
		"other project":     {Project: "tools", ChangeID: 2, PatchSet: 1},
		"no edit":           {Project: project, ChangeID: 2, Edit: true, Account: "7"},
		"edit no account":   {Project: project, ChangeID: 2, Edit: true},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), req)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestResolveIndexFailureIsUnavailable(t *testing.T) {
	x, y, z, commits := stack()
	index := &fakeIndex{queryFn: func(context.Context, string, []string) ([]store.Change, error) {
		return nil, errors.New("meilisearch: 503")
	}}
	r := NewResolver(index, storeOf(x, y, z), commits, noEdits(), Options{})

	_, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, PatchSet: 1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrUnavailable", err)
	}
}

func TestResolveLogsStages(t *testing.T) {
	x, y, z, commits := stack()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewResolver(indexOf(x, y, z), storeOf(x, y, z), commits, noEdits(), Options{Logger: logger})

	if _, err := r.Resolve(context.Background(), Request{Project: project, ChangeID: 2, PatchSet: 1}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for _, stage := range []Stage{StageGroupsExtracted, StageCandidatesFetched, StageReconciled, StageSorted, StageFinalized} {
		if !strings.Contains(buf.String(), "stage="+stage.String()) {
			t.Fatalf("missing stage %s in log:\n%s", stage, buf.String())
		}
	}
}
