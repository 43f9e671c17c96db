package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"lineage/api/internal/store"
)

const idxChanges = "lineage_changes"

// ErrUnhealthy is returned while the health loop considers Meilisearch down.
var ErrUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Primary via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	limit   int64
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the change index.
// The client is returned even if Meilisearch is down; the health loop picks
// it up once it recovers.
func NewMeili(url, apiKey string, limit int, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 1000
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		limit:  int64(limit),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxChanges,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("search: create index (may already exist)", "index", idxChanges, "error", err)
	}

	index := m.client.Index(idxChanges)
	filterable := []interface{}{"project", "groups"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("search: update filterable attrs", "index", idxChanges, "error", err)
	}
	sortable := []string{"id"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("search: update sortable attrs", "index", idxChanges, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// QueryByProjectAndGroups returns the indexed changes of project carrying any
// of groups, newest change first.
func (m *Meili) QueryByProjectAndGroups(ctx context.Context, project string, groups []string) ([]store.Change, error) {
	if !m.healthy.Load() {
		return nil, ErrUnhealthy
	}
	if len(groups) == 0 {
		return []store.Change{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := m.client.Index(idxChanges).SearchWithContext(ctx, "", &meili.SearchRequest{
		Filter: groupsFilter(project, groups),
		Sort:   []string{"id:desc"},
		Limit:  m.limit,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("meilisearch search: %w", ctxErr)
		}
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}
	if resp.EstimatedTotalHits > m.limit {
		m.logger.Warn("search: candidates truncated",
			"project", project, "groups", len(groups), "hits", resp.EstimatedTotalHits, "limit", m.limit)
	}

	changes := make([]store.Change, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		doc, err := decodeHit(hit)
		if err != nil {
			return nil, err
		}
		changes = append(changes, doc.Change())
	}
	return changes, nil
}

// groupsFilter builds `project = "P" AND groups IN ["g1", "g2"]`.
func groupsFilter(project string, groups []string) string {
	quoted := make([]string, len(groups))
	for i, g := range groups {
		quoted[i] = quoteFilterValue(g)
	}
	return fmt.Sprintf("project = %s AND groups IN [%s]", quoteFilterValue(project), strings.Join(quoted, ", "))
}

func quoteFilterValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func decodeHit(hit meili.Hit) (ChangeDocument, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return ChangeDocument{}, fmt.Errorf("encode meilisearch hit: %w", err)
	}
	var doc ChangeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ChangeDocument{}, fmt.Errorf("decode meilisearch hit: %w", err)
	}
	return doc, nil
}

// IndexChanges adds or replaces change documents.
func (m *Meili) IndexChanges(ctx context.Context, docs []ChangeDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.client.Index(idxChanges).AddDocumentsWithContext(ctx, docs, nil); err != nil {
		return fmt.Errorf("meilisearch add documents: %w", err)
	}
	return nil
}

// DeleteChange removes a change from the index.
func (m *Meili) DeleteChange(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.client.Index(idxChanges).DeleteDocumentWithContext(ctx, strconv.FormatInt(id, 10), nil); err != nil {
		return fmt.Errorf("meilisearch delete document %d: %w", id, err)
	}
	return nil
}
