package search

import (
	"context"

	"lineage/api/internal/store"
)

// ChangeSource is the authoritative side of the index.
type ChangeSource interface {
	Querier
	ListChanges(ctx context.Context, afterID int64, limit int) ([]store.Change, error)
}

// PgIndex answers index queries straight from Postgres. It is never stale.
type PgIndex struct {
	source ChangeSource
}

func NewPgIndex(source ChangeSource) *PgIndex {
	return &PgIndex{source: source}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgIndex) Healthy() bool {
	return true
}

func (p *PgIndex) QueryByProjectAndGroups(ctx context.Context, project string, groups []string) ([]store.Change, error) {
	return p.source.QueryByProjectAndGroups(ctx, project, groups)
}

// LoadAll pages through every change in id order, calling fn per page.
func (p *PgIndex) LoadAll(ctx context.Context, pageSize int, fn func([]store.Change) error) error {
	var after int64
	for {
		page, err := p.source.ListChanges(ctx, after, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		after = page[len(page)-1].ID
	}
}
