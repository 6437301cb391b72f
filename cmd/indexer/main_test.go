package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/permission"
)

func writeConfig(t *testing.T) (path, badgerPath string) {
	t.Helper()
	dir := t.TempDir()
	badgerPath = filepath.Join(dir, "activities")
	doc := fmt.Sprintf(`
index:
  dataDir: %s
  lockWaitTimeout: 1s
  lockPollInterval: 10ms
activity:
  store: badger
  badgerPath: %s
logging:
  level: error
`, filepath.Join(dir, "index"), badgerPath)
	path = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path, badgerPath
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func statusOf(t *testing.T, configPath string) statusReport {
	t.Helper()
	out, err := execute("status", "--config", configPath, "--json")
	require.NoError(t, err, out)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	return report
}

func logActivities(t *testing.T, badgerPath string, versions ...int64) {
	t.Helper()
	log, err := activity.OpenBadgerLog(activity.BadgerLogConfig{Path: badgerPath})
	require.NoError(t, err)
	defer log.Close()
	for i, v := range versions {
		node := int64(i + 1)
		_, err := log.Append(context.Background(), &activity.Activity{
			Type:      activity.AddDocument,
			NodeID:    node,
			VersionID: v,
			Path:      fmt.Sprintf("/Root/doc%d", node),
			Document: engine.NewDocument(
				engine.NewField(fields.VersionID, engine.IndexNotAnalyzed, true, value.Long(v)),
				engine.NewField(fields.NodeID, engine.IndexNotAnalyzed, true, value.Long(node)),
			),
		})
		require.NoError(t, err)
	}
}

func TestRestoreAppliesLoggedActivities(t *testing.T) {
	configPath, badgerPath := writeConfig(t)
	logActivities(t, badgerPath, 10, 11)

	before := statusOf(t, configPath)
	assert.Equal(t, int64(2), before.LastLoggedID)
	assert.Equal(t, int64(2), before.Unapplied)
	assert.Zero(t, before.IndexStatus.LastActivityID)

	out, err := execute("restore", "--config", configPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ran 2 activities")

	after := statusOf(t, configPath)
	assert.Equal(t, int64(2), after.IndexStatus.LastActivityID)
	assert.Empty(t, after.IndexStatus.Gaps)
	assert.Zero(t, after.Unapplied)
	assert.GreaterOrEqual(t, after.Documents, 2)
	assert.False(t, after.Locked)

	out, err = execute("restore", "--config", configPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ran 0 activities")
}

func TestCommandsNeedTheirBackends(t *testing.T) {
	configPath, _ := writeConfig(t)

	_, err := execute("grant", "--config", configPath, "5", "alice", "open")
	assert.ErrorContains(t, err, "postgres.enabled")

	_, err = execute("grant", "--config", configPath, "5", "alice", "everything")
	assert.ErrorContains(t, err, "unknown access level")

	_, err = execute("replay", "--config", configPath)
	assert.ErrorContains(t, err, "kafka.enabled")
}

type recordingGranter struct {
	calls []string
	err   error
}

func (g *recordingGranter) Grant(_ context.Context, nodeID int64, principal string, a permission.Access) error {
	g.calls = append(g.calls, fmt.Sprintf("grant %d %s %s", nodeID, principal, a.Level))
	return g.err
}

type recordingCache struct {
	granter *recordingGranter
	err     error
}

func (c *recordingCache) Invalidate(context.Context) error {
	c.granter.calls = append(c.granter.calls, "invalidate")
	return c.err
}

func TestGrantFlushesCachedResults(t *testing.T) {
	ctx := context.Background()
	access := permission.Access{Level: permission.See}

	g := &recordingGranter{}
	require.NoError(t, grantAccess(ctx, g, &recordingCache{granter: g}, 5, "alice", access))
	assert.Equal(t, []string{"grant 5 alice " + permission.See.String(), "invalidate"}, g.calls)

	g = &recordingGranter{err: errors.New("db down")}
	assert.ErrorContains(t, grantAccess(ctx, g, &recordingCache{granter: g}, 5, "alice", access), "db down")
	assert.Len(t, g.calls, 1, "nothing is flushed when the grant fails")

	g = &recordingGranter{}
	err := grantAccess(ctx, g, &recordingCache{granter: g, err: errors.New("redis down")}, 5, "alice", access)
	assert.ErrorContains(t, err, "cached search results were kept")

	require.NoError(t, grantAccess(ctx, &recordingGranter{}, nil, 5, "alice", access))
}
