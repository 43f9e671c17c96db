// Package commitcache keeps immutable commit metadata in Redis in front of a
// slower commit reader.
package commitcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"lineage/api/internal/store"
)

// Reader is the commit source being cached.
type Reader interface {
	Commit(ctx context.Context, project, hash string) (store.CommitInfo, error)
}

// commitData is the JSON form stored for each commit
type commitData struct {
	Hash        string    `json:"hash"`
	Parents     []string  `json:"parents"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	AuthorWhen  time.Time `json:"author_when"`
	Subject     string    `json:"subject"`
}

// RedisCache is a read-through cache. Commits never change once written, so
// entries are never invalidated; the TTL only bounds memory.
type RedisCache struct {
	client *redis.Client
	next   Reader
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to redisURL and wraps next.
func NewRedisCache(redisURL string, next Reader, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, next, ttl, logger), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, next Reader, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		next:   next,
		prefix: "commit:",
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) key(project, hash string) string {
	return c.prefix + project + ":" + hash
}

// Commit serves from Redis when possible. Only full hashes are cached, since
// an abbreviated hash may become ambiguous as the repository grows.
func (c *RedisCache) Commit(ctx context.Context, project, hash string) (store.CommitInfo, error) {
	cacheable := len(hash) == 40
	if cacheable {
		info, ok := c.lookup(ctx, project, hash)
		if ok {
			return info, nil
		}
	}

	info, err := c.next.Commit(ctx, project, hash)
	if err != nil {
		return store.CommitInfo{}, err
	}
	c.save(ctx, project, info)
	return info, nil
}

func (c *RedisCache) lookup(ctx context.Context, project, hash string) (store.CommitInfo, bool) {
	raw, err := c.client.Get(ctx, c.key(project, hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.CommitInfo{}, false
	}
	if err != nil {
		c.logger.Warn("commitcache: lookup failed, reading repository", "project", project, "commit", hash, "error", err)
		return store.CommitInfo{}, false
	}

	var data commitData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.logger.Warn("commitcache: dropping undecodable entry", "project", project, "commit", hash, "error", err)
		_ = c.client.Del(ctx, c.key(project, hash)).Err()
		return store.CommitInfo{}, false
	}
	parents := data.Parents
	if parents == nil {
		parents = []string{}
	}
	return store.CommitInfo{
		Hash:    data.Hash,
		Parents: parents,
		Author: store.Person{
			Name:  data.AuthorName,
			Email: data.AuthorEmail,
			When:  data.AuthorWhen,
		},
		Subject: data.Subject,
	}, true
}

func (c *RedisCache) save(ctx context.Context, project string, info store.CommitInfo) {
	payload, err := json.Marshal(commitData{
		Hash:        info.Hash,
		Parents:     info.Parents,
		AuthorName:  info.Author.Name,
		AuthorEmail: info.Author.Email,
		AuthorWhen:  info.Author.When,
		Subject:     info.Subject,
	})
	if err != nil {
		c.logger.Warn("commitcache: marshal commit", "commit", info.Hash, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(project, info.Hash), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("commitcache: save failed", "project", project, "commit", info.Hash, "error", err)
	}
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
