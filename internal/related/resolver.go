// Package related finds the changes that share lineage with a revision and
// orders them for review.
package related

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lineage/api/internal/store"
)

var tracer = otel.Tracer("lineage/api/related")

// ChangeIndex is the search index. Its records may lag the store.
type ChangeIndex interface {
	QueryByProjectAndGroups(ctx context.Context, project string, groups []string) ([]store.Change, error)
}

// ChangeStore is the authoritative change store.
type ChangeStore interface {
	LoadChange(ctx context.Context, changeID int64) (store.Change, error)
}

type CommitReader interface {
	Commit(ctx context.Context, project, hash string) (store.CommitInfo, error)
}

type EditReader interface {
	Edit(ctx context.Context, project, account string, changeID int64) (store.Edit, error)
}

// Observer receives per-request figures. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveCandidates(n int)
	ObserveReconcile(reloaded, dropped int)
}

// Request identifies the revision to resolve. When Edit is set PatchSet is
// ignored and the edit Account keeps on the change is used instead.
type Request struct {
	Project  string
	ChangeID int64
	PatchSet int
	Edit     bool
	Account  string
}

// Stage is a step of a resolution.
type Stage int

const (
	StageInit Stage = iota
	StageGroupsExtracted
	StageCandidatesFetched
	StageReconciled
	StageSorted
	StageFinalized
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageGroupsExtracted:
		return "groups_extracted"
	case StageCandidatesFetched:
		return "candidates_fetched"
	case StageReconciled:
		return "reconciled"
	case StageSorted:
		return "sorted"
	case StageFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

type Options struct {
	// MaxTerms caps the groups per index query. Zero means DefaultMaxTerms.
	MaxTerms int
	Logger   *slog.Logger
	Observer Observer
}

// Resolver runs the related-changes pipeline. It holds no per-request state
// and may be shared between goroutines.
type Resolver struct {
	index    ChangeIndex
	changes  ChangeStore
	commits  CommitReader
	edits    EditReader
	maxTerms int
	logger   *slog.Logger
	observer Observer
}

func NewResolver(index ChangeIndex, changes ChangeStore, commits CommitReader, edits EditReader, opts Options) *Resolver {
	if opts.MaxTerms <= 0 {
		opts.MaxTerms = DefaultMaxTerms
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		index:    index,
		changes:  changes,
		commits:  commits,
		edits:    edits,
		maxTerms: opts.MaxTerms,
		logger:   opts.Logger,
		observer: opts.Observer,
	}
}

// resolution carries one request through the stages.
type resolution struct {
	req            Request
	stage          Stage
	change         store.Change
	base           store.PatchSet
	edit           *store.Edit
	revisionCommit string
	groups         []string
	candidates     []store.Change
	sorted         []PatchSetData
}

// Resolve returns the changes related to the requested revision, in review
// order. An empty, non-nil slice means nothing is related.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "related.Resolver.Resolve",
		trace.WithAttributes(
			attribute.String("project", req.Project),
			attribute.Int64("change", req.ChangeID),
			attribute.Int("patch_set", req.PatchSet),
			attribute.Bool("edit", req.Edit),
		),
	)
	defer span.End()

	res := &resolution{req: req, stage: StageInit}
	entries, err := r.run(ctx, res)
	span.SetAttributes(attribute.String("stage", res.stage.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("related.count", len(entries)))
	return entries, nil
}

func (r *Resolver) run(ctx context.Context, res *resolution) ([]Entry, error) {
	if err := r.loadRevision(ctx, res); err != nil {
		return nil, err
	}

	res.groups = Groups(res.change)
	r.advance(res, StageGroupsExtracted, "groups", res.groups)
	if len(res.groups) == 0 {
		return r.finish(res, nil), nil
	}

	candidates, err := r.fetchCandidates(ctx, res)
	if err != nil {
		return nil, err
	}
	res.candidates = candidates
	r.advance(res, StageCandidatesFetched, "candidates", len(candidates))
	if r.observer != nil {
		r.observer.ObserveCandidates(len(candidates))
	}
	if len(candidates) == 0 || (len(candidates) == 1 && candidates[0].ID == res.change.ID) {
		return r.finish(res, nil), nil
	}

	reconciled, err := Reconcile(ctx, r.changes, candidates, res.change, res.base.Number)
	if err != nil {
		return nil, err
	}
	res.candidates = reconciled.Changes
	r.advance(res, StageReconciled, "reloaded", reconciled.Reloaded, "dropped", reconciled.Dropped)
	if r.observer != nil {
		r.observer.ObserveReconcile(reconciled.Reloaded, reconciled.Dropped)
	}

	sorted, err := r.sort(ctx, res)
	if err != nil {
		return nil, err
	}
	res.sorted = sorted
	r.advance(res, StageSorted, "sorted", len(sorted))

	entries, err := r.substitute(ctx, res)
	if err != nil {
		return nil, err
	}
	return r.finish(res, entries), nil
}

// loadRevision resolves the change, the base patch-set and, for edits, the
// edit commit.
func (r *Resolver) loadRevision(ctx context.Context, res *resolution) error {
	req := res.req
	if req.Project == "" || req.ChangeID <= 0 {
		return fmt.Errorf("%w: change %d in project %q", ErrNotFound, req.ChangeID, req.Project)
	}

	change, err := r.changes.LoadChange(ctx, req.ChangeID)
	if err != nil {
		return classify(fmt.Sprintf("load change %d", req.ChangeID), err)
	}
	if change.Project != req.Project {
		return fmt.Errorf("%w: change %d is not in project %s", ErrNotFound, req.ChangeID, req.Project)
	}
	res.change = change

	number := req.PatchSet
	if req.Edit {
		if req.Account == "" {
			return fmt.Errorf("%w: edit of change %d without an account", ErrNotFound, req.ChangeID)
		}
		edit, err := r.edits.Edit(ctx, req.Project, req.Account, req.ChangeID)
		if err != nil {
			return classify(fmt.Sprintf("load edit of change %d", req.ChangeID), err)
		}
		res.edit = &edit
		number = edit.BasePatchSet
	}

	base, ok := change.PatchSet(number)
	if !ok {
		return fmt.Errorf("%w: patch-set %d of change %d", ErrNotFound, number, req.ChangeID)
	}
	res.base = base
	res.revisionCommit = base.Commit
	if res.edit != nil {
		res.revisionCommit = res.edit.Commit
	}
	r.logger.Debug("related: revision loaded",
		"change", change.ID, "base_patch_set", base.Number, "edit", res.edit != nil)
	return nil
}

func (r *Resolver) fetchCandidates(ctx context.Context, res *resolution) ([]store.Change, error) {
	ctx, span := tracer.Start(ctx, "related.QueryCandidates",
		trace.WithAttributes(attribute.Int("groups", len(res.groups))))
	defer span.End()

	candidates, err := QueryCandidates(ctx, r.index, res.req.Project, res.groups, r.maxTerms)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return candidates, nil
}

func (r *Resolver) sort(ctx context.Context, res *resolution) ([]PatchSetData, error) {
	ctx, span := tracer.Start(ctx, "related.Sort",
		trace.WithAttributes(attribute.Int("candidates", len(res.candidates))))
	defer span.End()

	sorted, err := Sort(ctx, r.commits, res.req.Project, res.candidates, res.base)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sorted, nil
}

// substitute builds the entries, showing an edit in place of its base
// patch-set.
func (r *Resolver) substitute(ctx context.Context, res *resolution) ([]Entry, error) {
	entries := make([]Entry, 0, len(res.sorted))
	for _, d := range res.sorted {
		commit := d.Commit
		if res.edit != nil && d.Change.ID == res.base.ChangeID && d.PatchSet.Number == res.base.Number {
			editCommit, err := r.commits.Commit(ctx, res.req.Project, res.edit.Commit)
			if err != nil {
				return nil, classify(fmt.Sprintf("read edit commit %s", res.edit.Commit), err)
			}
			r.logger.Debug("related: replaced edit base",
				"change", d.Change.ID, "patch_set", d.PatchSet.Number,
				"base_commit", d.Commit.Hash, "edit_commit", editCommit.Hash)
			commit = editCommit
		}
		entries = append(entries, newEntry(res.req.Project, d.Change, d.PatchSet.Number, commit))
	}
	return entries, nil
}

// finish applies the self-collapse rule: a lone entry for the requested
// revision itself is not a relation.
func (r *Resolver) finish(res *resolution, entries []Entry) []Entry {
	if len(entries) == 1 && entries[0].Commit.Hash == res.revisionCommit {
		entries = nil
	}
	if entries == nil {
		entries = []Entry{}
	}
	r.advance(res, StageFinalized, "related", len(entries))
	return entries
}

func (r *Resolver) advance(res *resolution, next Stage, args ...any) {
	res.stage = next
	attrs := append([]any{"stage", next.String(), "change", res.change.ID}, args...)
	r.logger.Debug("related: stage reached", attrs...)
}
