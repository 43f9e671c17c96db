package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadChange reads a change and all of its patch-sets.
func (s *PostgresStore) LoadChange(ctx context.Context, changeID int64) (Change, error) {
	var item Change
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project, change_key, status, current_patch_set
		FROM changes
		WHERE id=$1
	`, changeID).Scan(&item.ID, &item.Project, &item.Key, &item.Status, &item.CurrentPatchSet)
	if errors.Is(err, sql.ErrNoRows) {
		return Change{}, fmt.Errorf("load change %d: %w", changeID, ErrChangeNotFound)
	}
	if err != nil {
		return Change{}, fmt.Errorf("load change %d: %w", changeID, err)
	}

	byChange, err := s.patchSets(ctx, []int64{item.ID})
	if err != nil {
		return Change{}, err
	}
	item.PatchSets = byChange[item.ID]
	return item, nil
}

// QueryByProjectAndGroups returns every change of project having at least one
// patch-set that carries one of groups. A patch-set without groups matches on
// its commit hash, the same way the search index files it. It reads the
// authoritative tables, so it serves as the never-stale fallback for the
// search index.
func (s *PostgresStore) QueryByProjectAndGroups(ctx context.Context, project string, groups []string) ([]Change, error) {
	if len(groups) == 0 {
		return []Change{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.project, c.change_key, c.status, c.current_patch_set
		FROM changes c
		WHERE c.project=$1
			AND EXISTS (
				SELECT 1 FROM patch_sets ps
				WHERE ps.change_id = c.id
					AND (
						ps.groups && $2::text[]
						OR (cardinality(ps.groups) = 0 AND ps.commit_hash = ANY($2::text[]))
					)
			)
		ORDER BY c.updated_at DESC, c.id DESC
	`, project, groups)
	if err != nil {
		return nil, fmt.Errorf("query changes by groups: %w", err)
	}
	return s.collectChanges(ctx, rows)
}

// ListChanges pages through all changes in id order, for reindexing.
func (s *PostgresStore) ListChanges(ctx context.Context, afterID int64, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, change_key, status, current_patch_set
		FROM changes
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return s.collectChanges(ctx, rows)
}

func (s *PostgresStore) collectChanges(ctx context.Context, rows *sql.Rows) ([]Change, error) {
	defer rows.Close()

	items := make([]Change, 0)
	for rows.Next() {
		var item Change
		if err := rows.Scan(&item.ID, &item.Project, &item.Key, &item.Status, &item.CurrentPatchSet); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	byChange, err := s.patchSets(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].PatchSets = byChange[items[i].ID]
	}
	return items, nil
}

func (s *PostgresStore) patchSets(ctx context.Context, changeIDs []int64) (map[int64][]PatchSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, number, commit_hash, groups
		FROM patch_sets
		WHERE change_id = ANY($1::bigint[])
		ORDER BY change_id ASC, number ASC
	`, changeIDs)
	if err != nil {
		return nil, fmt.Errorf("list patch sets: %w", err)
	}
	defer rows.Close()

	types := pgtype.NewMap()
	result := make(map[int64][]PatchSet, len(changeIDs))
	for rows.Next() {
		var ps PatchSet
		var groups []string
		if err := rows.Scan(&ps.ChangeID, &ps.Number, &ps.Commit, types.SQLScanner(&groups)); err != nil {
			return nil, fmt.Errorf("scan patch set: %w", err)
		}
		ps.Groups = groups
		result[ps.ChangeID] = append(result[ps.ChangeID], ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patch sets: %w", err)
	}
	return result, nil
}
