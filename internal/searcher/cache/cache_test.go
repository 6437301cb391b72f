package cache

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/redis"
)

func newTestRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	addr := os.Getenv("SP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping redis test: SP_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	client := pkgredis.FromClient(rdb)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		rdb.Close()
		t.Skipf("skipping redis test: %v", err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return client
}

// unreachableRedis fails every command quickly.
func unreachableRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return pkgredis.FromClient(rdb)
}

func TestBuildKeySeparatesUsersAndPages(t *testing.T) {
	base := executor.Request{Query: "Name:report", User: "alice", Limit: 10}
	key := buildKey(base)
	assert.Regexp(t, `^search:[0-9a-f]{32}$`, key)

	same := base
	same.Query = "  Name:report  "
	assert.Equal(t, key, buildKey(same), "whitespace is normalized")

	variants := []func(r *executor.Request){
		func(r *executor.Request) { r.User = "bob" },
		func(r *executor.Request) { r.User = "" },
		func(r *executor.Request) { r.Offset = 10 },
		func(r *executor.Request) { r.Limit = 20 },
		func(r *executor.Request) { r.AllVersions = true },
		func(r *executor.Request) { r.Query = "Name:Report" },
	}
	for _, mutate := range variants {
		r := base
		mutate(&r)
		assert.NotEqual(t, key, buildKey(r), "%+v", r)
	}
}

func TestUnavailableRedisFallsThroughToCompute(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := New(unreachableRedis(t), time.Minute, m)
	req := executor.Request{Query: "Name:report", User: "alice", Limit: 10}

	want := &executor.SearchResult{Query: req.Query, TotalHits: 1, Results: []executor.Hit{{VersionID: 10, NodeID: 1}}}
	got, hit, err := c.GetOrCompute(context.Background(), req, func() (*executor.SearchResult, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Same(t, want, got)

	hits, misses := c.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))

	boom := errors.New("boom")
	_, _, err = c.GetOrCompute(context.Background(), req, func() (*executor.SearchResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestNotifyReopenCoalesces(t *testing.T) {
	c := New(unreachableRedis(t), time.Minute, nil)
	for i := 0; i < 5; i++ {
		c.NotifyReopen()
	}
	assert.Len(t, c.invalidate, 1)
}

func TestCacheRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	c := New(client, time.Minute, nil)
	req := executor.Request{Query: "_Text:report", User: "alice", Limit: 10}

	var computed atomic.Int32
	compute := func() (*executor.SearchResult, error) {
		computed.Add(1)
		return &executor.SearchResult{
			Query:     req.Query,
			Compiled:  "_Text:report",
			TotalHits: 1,
			Results:   []executor.Hit{{VersionID: 10, NodeID: 1, Path: "/a", Score: 1.5}},
		}, nil
	}

	first, hit, err := c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), computed.Load())

	other := req
	other.User = "bob"
	_, hit, err = c.GetOrCompute(ctx, other, compute)
	require.NoError(t, err)
	assert.False(t, hit, "results are never shared across users")

	require.NoError(t, c.Invalidate(ctx))
	_, ok := c.Get(ctx, req)
	assert.False(t, ok)
}

func TestRunInvalidatesAfterReopen(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(client, time.Minute, nil)
	req := executor.Request{Query: "Name:a", Limit: 1}
	c.Set(ctx, req, &executor.SearchResult{Query: req.Query, Results: []executor.Hit{}})
	_, ok := c.Get(ctx, req)
	require.True(t, ok)

	go c.Run(ctx)
	c.NotifyReopen()
	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, req)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
