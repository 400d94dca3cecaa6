// Package refdata caches reference data (departments, labels, templates,
// companies) refreshed by the reference connectivity group.
package refdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultSize = 4096

// snapshot is one complete set of reference listings
type snapshot struct {
	departments *lru.Cache[model.DepartmentID, model.Department]
	labels      *lru.Cache[string, model.Label]
	templates   *lru.Cache[string, model.Template]
	companies   *lru.Cache[string, model.Company]
	refreshedAt time.Time
}

func newLRU[K comparable, V any]() *lru.Cache[K, V] {
	c, err := lru.New[K, V](defaultSize)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return c
}

func newSnapshot() *snapshot {
	return &snapshot{
		departments: newLRU[model.DepartmentID, model.Department](),
		labels:      newLRU[string, model.Label](),
		templates:   newLRU[string, model.Template](),
		companies:   newLRU[string, model.Company](),
	}
}

// Cache holds the last-known-good reference snapshot. Entries never expire:
// the reference group only refetches on push events while connected, so a
// quiet period must not empty the cache.
type Cache struct {
	queries backend.Queries
	log     *zap.Logger

	// refreshMu serializes Refresh
	refreshMu sync.Mutex
	mu        sync.RWMutex
	current   *snapshot
}

func NewCache(queries backend.Queries, log *zap.Logger) *Cache {
	return &Cache{
		queries: queries,
		log:     log,
		current: newSnapshot(),
	}
}

func (c *Cache) snap() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Refresh fetches a full snapshot and swaps it in. Nothing is replaced
// unless every listing succeeded.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	depts, err := c.queries.ListDepartments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list departments: %w", err)
	}
	labels, err := c.queries.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}
	templates, err := c.queries.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	companies, err := c.queries.ListCompanies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list companies: %w", err)
	}

	next := newSnapshot()
	for _, d := range depts {
		next.departments.Add(d.ID, d)
	}
	for _, l := range labels {
		next.labels.Add(l.ID, l)
	}
	for _, t := range templates {
		next.templates.Add(t.ID, t)
	}
	for _, co := range companies {
		next.companies.Add(co.ID, co)
	}
	next.refreshedAt = time.Now()

	c.mu.Lock()
	c.current = next
	c.mu.Unlock()

	c.log.Debug("Reference data refreshed",
		zap.Int("departments", len(depts)),
		zap.Int("labels", len(labels)),
		zap.Int("templates", len(templates)),
		zap.Int("companies", len(companies)),
	)
	return nil
}

// Department implements flow.Departments
func (c *Cache) Department(id model.DepartmentID) (model.Department, bool) {
	return c.snap().departments.Peek(id)
}

// Departments returns cached departments ordered by board position
func (c *Cache) Departments() []model.Department {
	out := c.snap().departments.Values()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Cache) Label(id string) (model.Label, bool) {
	return c.snap().labels.Peek(id)
}

func (c *Cache) Labels() []model.Label {
	out := c.snap().labels.Values()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Cache) Template(id string) (model.Template, bool) {
	return c.snap().templates.Peek(id)
}

func (c *Cache) Company(id string) (model.Company, bool) {
	return c.snap().companies.Peek(id)
}

// RefreshedAt reports when the last successful refresh completed
func (c *Cache) RefreshedAt() time.Time {
	return c.snap().refreshedAt
}
