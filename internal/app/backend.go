package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"lineage/api/db/migrations"
	"lineage/api/internal/commitcache"
	"lineage/api/internal/config"
	"lineage/api/internal/gitrepo"
	"lineage/api/internal/related"
	"lineage/api/internal/search"
	"lineage/api/internal/store"
)

// Backend holds the collaborators shared by the API server and the CLI.
type Backend struct {
	DB       *sql.DB
	Store    *store.PostgresStore
	Repos    *gitrepo.Service
	Search   *search.Service
	Resolver *related.Resolver
	// Cache is nil when Redis is not configured or unreachable.
	Cache    *commitcache.RedisCache

	closers []func() error
}

type BackendOptions struct {
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
}

// OpenBackend connects to Postgres, Meilisearch and Redis and wires the
// resolver. Meilisearch and Redis are optional: without them queries fall
// back to Postgres and commits are read straight from the repositories.
func OpenBackend(ctx context.Context, cfg config.Config, logger *slog.Logger, opts BackendOptions) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	b := &Backend{DB: db}

	if opts.Migrate {
		if err := store.ApplyMigrations(ctx, db, MigrationsFS(cfg.MigrationsDir)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	b.Store = store.NewPostgresStore(db)
	b.Repos = gitrepo.New(cfg.ReposDir)

	var commits related.CommitReader = b.Repos
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := commitcache.NewRedisCache(cfg.RedisURL, b.Repos, cfg.CommitCacheTTL, logger)
		if err != nil {
			logger.Warn("commit cache disabled", "error", err)
		} else {
			logger.Info("using redis commit cache")
			commits = cache
			b.Cache = cache
			b.closers = append(b.closers, cache.Close)
		}
	}

	var primary search.Primary
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.IndexLimit, logger)
		primary = meiliClient
		b.closers = append(b.closers, func() error {
			meiliClient.Close()
			return nil
		})
	}
	b.Search = search.NewService(primary, search.NewPgIndex(b.Store), logger)

	b.Resolver = related.NewResolver(b.Search, b.Store, commits, b.Repos, related.Options{
		MaxTerms: cfg.IndexMaxTerms,
		Logger:   logger,
		Observer: MetricsObserver{},
	})
	return b, nil
}

// Close releases every connection the backend opened.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MigrationsFS prefers an on-disk migrations directory and falls back to the
// schema compiled into the binary.
func MigrationsFS(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}
