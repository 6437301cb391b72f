package permission

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
)

const defaultCacheSize = 1024

// Query describes the caller and the query being filtered.
type Query struct {
	User        string
	FieldLevel  FieldLevel
	AllVersions bool
}

// Collector passes admitted documents to the wrapped collector and drops
// the rest. Access per node is resolved once per query.
type Collector struct {
	ctx      context.Context
	inner    engine.Collector
	resolver Resolver
	query    Query
	reader   *engine.Reader
	cache    *lru.Cache[int64, Access]
	metrics  *metrics.Metrics
	logger   *slog.Logger

	admitted int
	rejected int
}

func NewCollector(ctx context.Context, inner engine.Collector, resolver Resolver, q Query, cacheSize int, m *metrics.Metrics) *Collector {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, _ := lru.New[int64, Access](cacheSize)
	return &Collector{
		ctx:      ctx,
		inner:    inner,
		resolver: resolver,
		query:    q,
		cache:    cache,
		metrics:  m,
		logger:   slog.Default().With("component", "permission-filter"),
	}
}

func (c *Collector) SetReader(r *engine.Reader) error {
	c.reader = r
	return c.inner.SetReader(r)
}

func (c *Collector) Collect(doc int, score float64) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	d, err := c.reader.Document(doc)
	if err != nil {
		return err
	}
	node, ok := d.Value(fields.NodeID)
	if !ok {
		c.reject()
		return nil
	}
	version := Version{
		IsLastPublic: flag(d, fields.IsLastPublic),
		IsLastDraft:  flag(d, fields.IsLastDraft),
	}
	if !Admit(c.access(node.Int), c.query.FieldLevel, version, c.query.AllVersions) {
		c.reject()
		return nil
	}
	c.admitted++
	c.metrics.PermissionDecision(true)
	return c.inner.Collect(doc, score)
}

func (c *Collector) reject() {
	c.rejected++
	c.metrics.PermissionDecision(false)
}

func (c *Collector) access(nodeID int64) Access {
	if a, ok := c.cache.Get(nodeID); ok {
		return a
	}
	a, err := c.resolver.Resolve(c.ctx, c.query.User, nodeID)
	if err != nil {
		c.logger.Warn("access resolution failed, denying", "user", c.query.User, "node_id", nodeID, "error", err)
		a = Access{Level: Denied}
	}
	c.cache.Add(nodeID, a)
	return a
}

// Admitted and Rejected count documents seen so far.
func (c *Collector) Admitted() int { return c.admitted }

func (c *Collector) Rejected() int { return c.rejected }

func flag(d *engine.Document, name string) bool {
	v, ok := d.Value(name)
	return ok && v.Bool
}
