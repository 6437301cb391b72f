package indexer

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
)

func testIndexConfig(dir string) config.IndexConfig {
	return config.IndexConfig{
		DataDir:          dir,
		LockWaitTimeout:  2 * time.Second,
		LockPollInterval: 10 * time.Millisecond,
		ReopenRetries:    2,
		ReopenRetryDelay: time.Millisecond,
	}
}

func newStartedManager(t *testing.T, cfg config.IndexConfig, notifier LockNotifier) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Config:   cfg,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Notifier: notifier,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func versionDoc(versionID int64, name string) *engine.Document {
	return engine.NewDocument(
		engine.NewField(VersionIDField, engine.IndexNotAnalyzed, true, value.Long(versionID)),
		engine.NewField("NodeId", engine.IndexNotAnalyzed, true, value.Long(1)),
		engine.NewField("Name", engine.IndexNotAnalyzed, true, value.String(name)),
	)
}

func countVersion(t *testing.T, m *Manager, versionID int64) int {
	t.Helper()
	h, err := m.GetReader()
	require.NoError(t, err)
	defer h.Release()
	n, err := h.Reader().Count(&engine.TermQuery{Term: engine.ValueTerm(VersionIDField, value.Long(versionID))})
	require.NoError(t, err)
	return n
}

func TestStartCreatesEmptyIndex(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	assert.Equal(t, Running, m.State())
	assert.True(t, m.Directory().IsLocked())

	status, err := m.ReadActivityStatus()
	require.NoError(t, err)
	assert.True(t, status.Equal(activity.Status{}))

	err = m.Start(context.Background())
	assert.Error(t, err, "second start is rejected")
}

func TestAddUpdateDuplicateAddKeepsOneDocument(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	term := engine.ValueTerm(VersionIDField, value.Long(10))

	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(10, "first")}))
	require.NoError(t, m.Write(nil, []engine.Update{{Term: term, Document: versionDoc(10, "second")}}, nil))
	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(10, "third")}))
	require.NoError(t, m.Commit(true, nil))

	assert.Equal(t, 1, countVersion(t, m, 10))

	h, err := m.GetReader()
	require.NoError(t, err)
	defer h.Release()
	c := engine.NewTopDocsCollector(5)
	require.NoError(t, h.Reader().Search(&engine.TermQuery{Term: term}, c))
	top := c.TopDocs()
	require.Len(t, top.ScoreDocs, 1)
	doc, err := h.Reader().Document(top.ScoreDocs[0].Doc)
	require.NoError(t, err)
	name, _ := doc.Value("Name")
	assert.Equal(t, "third", name.Str)
}

func TestWriteDeletionsAndMissingVersion(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(1, "a"), versionDoc(2, "b")}))
	require.NoError(t, m.Write([]engine.Term{engine.ValueTerm(VersionIDField, value.Long(1))}, nil, nil))
	require.NoError(t, m.Commit(true, nil))
	assert.Equal(t, 0, countVersion(t, m, 1))
	assert.Equal(t, 1, countVersion(t, m, 2))

	err := m.Write(nil, nil, []*engine.Document{engine.NewDocument()})
	assert.ErrorIs(t, err, apperrors.ErrDocumentBuild)
}

func TestActivityStatusPersistence(t *testing.T) {
	dir := t.TempDir()
	m := newStartedManager(t, testIndexConfig(dir), nil)

	want := activity.Status{LastActivityID: 42, Gaps: []int64{7, 40}}
	require.NoError(t, m.WriteActivityStatus(want))
	got, err := m.ReadActivityStatus()
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %v", got)

	// A commit without a status keeps the stored one.
	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(3, "c")}))
	require.NoError(t, m.Commit(false, nil))
	got, err = m.ReadActivityStatus()
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %v", got)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.Directory().IsLocked())

	m2 := newStartedManager(t, testIndexConfig(dir), nil)
	got, err = m2.ReadActivityStatus()
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %v", got)
	assert.Equal(t, 1, countVersion(t, m2, 3))
}

func TestShutdownCommitsPendingWrites(t *testing.T) {
	dir := t.TempDir()
	m := newStartedManager(t, testIndexConfig(dir), nil)
	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(5, "pending")}))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, Stopped, m.State())

	assert.ErrorIs(t, m.Write(nil, nil, []*engine.Document{versionDoc(6, "x")}), apperrors.ErrIndexNotRunning)
	_, err := m.GetReader()
	assert.ErrorIs(t, err, apperrors.ErrIndexNotRunning)

	m2 := newStartedManager(t, testIndexConfig(dir), nil)
	assert.Equal(t, 1, countVersion(t, m2, 5))
}

type recordingNotifier struct {
	mu        sync.Mutex
	takeovers []LockTakeover
}

func (n *recordingNotifier) NotifyLockTakeover(_ context.Context, t LockTakeover) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.takeovers = append(n.takeovers, t)
	return nil
}

func TestStaleLockIsTakenOverAfterTimeout(t *testing.T) {
	dir := t.TempDir()
	d, err := engine.OpenDirectory(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(d.LockPath(), []byte("999\n"), 0644))

	cfg := testIndexConfig(dir)
	cfg.LockWaitTimeout = 50 * time.Millisecond
	n := &recordingNotifier{}
	m := newStartedManager(t, cfg, n)

	assert.Equal(t, Running, m.State())
	require.Len(t, n.takeovers, 1)
	assert.Equal(t, d.LockPath(), n.takeovers[0].LockPath)
}

func TestStartWaitsForLockRelease(t *testing.T) {
	dir := t.TempDir()
	d, err := engine.OpenDirectory(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(d.LockPath(), nil, 0644))
	go func() {
		time.Sleep(30 * time.Millisecond)
		os.Remove(d.LockPath())
	}()

	n := &recordingNotifier{}
	m := newStartedManager(t, testIndexConfig(dir), n)
	assert.Equal(t, Running, m.State())
	assert.Empty(t, n.takeovers)
}

func TestReaderHandleOutlivesReopen(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(1, "a")}))
	require.NoError(t, m.Commit(true, nil))

	h, err := m.GetReader()
	require.NoError(t, err)
	old := h.Reader()
	assert.EqualValues(t, 2, old.RefCount())

	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(2, "b")}))
	require.NoError(t, m.Reopen())

	assert.EqualValues(t, 1, old.RefCount(), "only the handle holds the old reader")
	_, err = old.Document(0)
	require.NoError(t, err, "old snapshot still readable")
	h.Release()
	h.Release()
	assert.EqualValues(t, 0, old.RefCount())
	_, err = old.Document(0)
	assert.Error(t, err)
	assert.Equal(t, 1, countVersion(t, m, 2))
}

func TestReopenListenersAndIsCurrent(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	var calls atomic.Int32
	m.OnReopen(func() { calls.Add(1) })

	assert.True(t, m.IsCurrent())
	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(1, "a")}))
	assert.False(t, m.IsCurrent())
	require.NoError(t, m.Commit(true, nil))
	assert.True(t, m.IsCurrent())
	assert.EqualValues(t, 1, calls.Load())
}

func TestReopenLoopRefreshesStaleReader(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	returned := make(chan struct{})
	go func() {
		m.StartReopenLoop(ctx, 5*time.Millisecond)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("StartReopenLoop blocked its caller")
	}

	require.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(8, "a")}))
	require.Eventually(t, m.IsCurrent, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, countVersion(t, m, 8))
}

func TestReopenWithClosedWriterIsFatal(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	require.NoError(t, m.writer.Load().Close())

	err := m.Reopen()
	assert.ErrorIs(t, err, apperrors.ErrWriterClosed)
	assert.ErrorIs(t, err, engine.ErrAlreadyClosed)
}

func TestFailedCommitKeepsCommittedStatus(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	require.NoError(t, m.WriteActivityStatus(activity.Status{LastActivityID: 3}))
	require.NoError(t, m.writer.Load().Close())

	err := m.Commit(false, &activity.Status{LastActivityID: 9, Gaps: []int64{4}})
	require.Error(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotNil(t, m.lastStatus)
	assert.Equal(t, activity.Status{LastActivityID: 3}, *m.lastStatus)
}

func TestConcurrentWritesAndReopen(t *testing.T) {
	m := newStartedManager(t, testIndexConfig(t.TempDir()), nil)
	var wg sync.WaitGroup
	for i := int64(1); i <= 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := int64(0); j < 10; j++ {
				assert.NoError(t, m.Write(nil, nil, []*engine.Document{versionDoc(id*100+j, "x")}))
				if j%3 == 0 {
					assert.NoError(t, m.Commit(true, nil))
				}
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, m.Commit(true, nil))

	h, err := m.GetReader()
	require.NoError(t, err)
	defer h.Release()
	n, err := h.Reader().Count(&engine.TermQuery{Term: engine.NewTerm("Name", "x")})
	require.NoError(t, err)
	assert.Equal(t, 80, n)
	assert.Equal(t, int64(0), m.Controller().InFlight())
}
