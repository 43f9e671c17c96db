package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lineage/api/internal/store"
)

const reindexPageSize = 500

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	primary  Primary
	fallback *PgIndex
	logger   *slog.Logger
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Primary, fallback *PgIndex, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger}
}

// Healthy reports whether the primary index is serving. The fallback keeps
// queries working either way.
func (s *Service) Healthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

// QueryByProjectAndGroups tries Meilisearch if healthy, otherwise Postgres.
func (s *Service) QueryByProjectAndGroups(ctx context.Context, project string, groups []string) ([]store.Change, error) {
	if s.Healthy() {
		changes, err := s.primary.QueryByProjectAndGroups(ctx, project, groups)
		if err == nil {
			return changes, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Warn("search: meilisearch error, falling back to postgres", "project", project, "error", err)
	}
	if s.fallback == nil {
		return nil, ErrUnhealthy
	}
	changes, err := s.fallback.QueryByProjectAndGroups(ctx, project, groups)
	if err != nil {
		return nil, fmt.Errorf("query postgres index: %w", err)
	}
	return changes, nil
}

// IndexChange adds or replaces one change in Meilisearch.
func (s *Service) IndexChange(ctx context.Context, c store.Change) error {
	if !s.Healthy() {
		return ErrUnhealthy
	}
	if err := s.primary.IndexChanges(ctx, []ChangeDocument{DocumentFromChange(c)}); err != nil {
		return fmt.Errorf("index change %d: %w", c.ID, err)
	}
	s.logger.Info("search: indexed change", "change", c.ID)
	return nil
}

// DeleteChange removes one change from Meilisearch.
func (s *Service) DeleteChange(ctx context.Context, id int64) error {
	if !s.Healthy() {
		return ErrUnhealthy
	}
	if err := s.primary.DeleteChange(ctx, id); err != nil {
		return fmt.Errorf("delete change %d: %w", id, err)
	}
	s.logger.Info("search: deleted change", "change", id)
	return nil
}

// ReindexAllFromPG pushes every change in Postgres to Meilisearch and
// returns how many were sent.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if !s.Healthy() {
		return 0, ErrUnhealthy
	}
	if s.fallback == nil {
		return 0, errors.New("reindex: no postgres source")
	}
	total := 0
	err := s.fallback.LoadAll(ctx, reindexPageSize, func(page []store.Change) error {
		docs := make([]ChangeDocument, 0, len(page))
		for _, c := range page {
			docs = append(docs, DocumentFromChange(c))
		}
		if err := s.primary.IndexChanges(ctx, docs); err != nil {
			return err
		}
		total += len(docs)
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("reindex changes: %w", err)
	}
	s.logger.Info("search: reindexed changes", "count", total)
	return total, nil
}
