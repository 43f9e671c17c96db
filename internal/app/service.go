package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lineage/api/internal/auth"
	"lineage/api/internal/config"
	"lineage/api/internal/related"
)

// EditRevision is the revision id that addresses the caller's unpublished edit.
const EditRevision = "edit"

type resolver interface {
	Resolve(ctx context.Context, req related.Request) ([]related.Entry, error)
}

type dataStore interface {
	Ping(ctx context.Context) error
}

type changeIndex interface {
	Healthy() bool
}

type repoStore interface {
	Healthy() error
}

type commitCache interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	resolver resolver
	store    dataStore
	index    changeIndex
	repos    repoStore
	cache    commitCache
	logger   *slog.Logger
}

func New(cfg config.Config, resolver resolver, store dataStore, index changeIndex, repos repoStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		index:    index,
		repos:    repos,
		logger:   logger,
	}
}

// SetCommitCache adds the commit cache to the readiness checks.
func (s *Service) SetCommitCache(cache commitCache) {
	s.cache = cache
}

// RelatedInput is a parsed related-changes request.
type RelatedInput struct {
	Project  string
	ChangeID string
	Revision string
	// Authorization is the raw header; it is only required for edits.
	Authorization string
}

// Related resolves the changes related to a revision. revision is a
// patch-set number or "edit" for the caller's own edit.
func (s *Service) Related(ctx context.Context, input RelatedInput) ([]related.Entry, error) {
	started := time.Now()
	entries, err := s.related(ctx, input)
	relatedDurationSeconds.Observe(time.Since(started).Seconds())
	relatedRequestsTotal.WithLabelValues(outcome(entries, err)).Inc()
	return entries, err
}

func (s *Service) related(ctx context.Context, input RelatedInput) ([]related.Entry, error) {
	req, err := s.parseRequest(input)
	if err != nil {
		return nil, err
	}

	entries, err := s.resolver.Resolve(ctx, req)
	switch {
	case err == nil:
		return entries, nil
	case errors.Is(err, related.ErrNotFound):
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	case errors.Is(err, related.ErrIntegrity):
		s.logger.Error("related: integrity anomaly",
			"project", req.Project, "change", req.ChangeID, "error", err)
		return nil, domainError(http.StatusInternalServerError, "INTEGRITY_ERROR", "Repository data is inconsistent", nil)
	case errors.Is(err, related.ErrUnavailable):
		s.logger.Warn("related: backend unavailable",
			"project", req.Project, "change", req.ChangeID, "error", err)
		return nil, domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "Backend unavailable", nil)
	default:
		return nil, fmt.Errorf("resolve related changes: %w", err)
	}
}

func (s *Service) parseRequest(input RelatedInput) (related.Request, error) {
	project := strings.TrimSpace(input.Project)
	if project == "" {
		return related.Request{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "project is required", nil)
	}
	changeID, err := strconv.ParseInt(input.ChangeID, 10, 64)
	if err != nil || changeID <= 0 {
		return related.Request{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "change must be a positive number", map[string]any{"change": input.ChangeID})
	}
	req := related.Request{Project: project, ChangeID: changeID}

	if input.Revision == EditRevision {
		claims, err := auth.FromHeader([]byte(s.cfg.JWTSecret), input.Authorization)
		if err != nil {
			return related.Request{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Edits require authentication", nil)
		}
		req.Edit = true
		req.Account = claims.Sub
		return req, nil
	}

	number, err := strconv.Atoi(input.Revision)
	if err != nil || number <= 0 {
		return related.Request{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "revision must be a patch-set number or edit", map[string]any{"revision": input.Revision})
	}
	req.PatchSet = number
	return req, nil
}

func outcome(entries []related.Entry, err error) string {
	if err == nil {
		if len(entries) == 0 {
			return "empty"
		}
		return "ok"
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Status {
		case http.StatusNotFound:
			return "not_found"
		case http.StatusServiceUnavailable:
			return "unavailable"
		case http.StatusBadRequest:
			return "bad_request"
		case http.StatusUnauthorized:
			return "unauthorized"
		case http.StatusInternalServerError:
			return "integrity"
		}
	}
	return "error"
}

// Ping checks database connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness reports each dependency. The service is ready when the database
// and repositories are reachable; a down search index or commit cache only
// degrades it.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}

	if err := s.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}

	if s.repos != nil {
		if err := s.repos.Healthy(); err != nil {
			ready = false
			checks["repositories"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["repositories"] = map[string]any{"status": "ok"}
		}
	}

	if s.index != nil && s.index.Healthy() {
		checks["search"] = map[string]any{"status": "ok"}
	} else {
		checks["search"] = map[string]any{"status": "degraded"}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["commit_cache"] = map[string]any{"status": "degraded", "error": err.Error()}
		} else {
			checks["commit_cache"] = map[string]any{"status": "ok"}
		}
	}
	return ready, checks
}
