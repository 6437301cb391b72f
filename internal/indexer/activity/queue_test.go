package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
)

func startQueue(t *testing.T, cfg QueueConfig, log Log, index *fakeIndex, exec Executor) *Queue {
	t.Helper()
	q := NewQueue(cfg, log, index, exec, nil)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { q.Close() })
	return q
}

func register(t *testing.T, q *Queue, a *Activity) int64 {
	t.Helper()
	id, err := q.Register(context.Background(), a)
	require.NoError(t, err)
	return id
}

func waitFor(t *testing.T, q *Queue, id int64) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return q.Wait(ctx, id)
}

func doc(node, version int64) *Activity {
	return &Activity{Type: AddDocument, NodeID: node, VersionID: version, Path: "/Root/doc"}
}

func TestDependentActivitiesRunInIDOrder(t *testing.T) {
	exec := newGatedExecutor()
	exec.gate(1)
	index := &fakeIndex{}
	q := startQueue(t, QueueConfig{MaxParallel: 4}, newMemoryLog(t), index, exec)

	a := register(t, q, doc(5, 100))
	b := register(t, q, &Activity{Type: UpdateDocument, NodeID: 5, VersionID: 100, Path: "/Root/doc"})
	c := register(t, q, doc(9, 200))
	require.Equal(t, []int64{1, 2, 3}, []int64{a, b, c})

	require.NoError(t, waitFor(t, q, c), "independent activity completes while A is blocked")
	assert.False(t, exec.hasStarted(b), "B must wait for A")
	assert.Equal(t, Status{LastActivityID: 3, Gaps: []int64{1, 2}}, q.Status())

	exec.release(1)
	require.NoError(t, waitFor(t, q, b))
	_, finished := exec.order()
	assert.Less(t, indexOf(finished, a), indexOf(finished, b))
	assert.Equal(t, Status{LastActivityID: 3}, q.Status())
	assert.Equal(t, Status{LastActivityID: 3}, index.committed())
	assert.Equal(t, 0, q.Pending())
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestFailedActivityStaysInGaps(t *testing.T) {
	exec := newGatedExecutor()
	exec.fail[1] = errBoom
	log := newMemoryLog(t)
	index := &fakeIndex{}
	q := startQueue(t, QueueConfig{MaxParallel: 1}, log, index, exec)

	first := register(t, q, doc(1, 10))
	assert.ErrorIs(t, waitFor(t, q, first), errBoom)
	second := register(t, q, doc(2, 20))
	require.NoError(t, waitFor(t, q, second))

	assert.Equal(t, Status{LastActivityID: 2, Gaps: []int64{1}}, index.committed())
	assert.ErrorIs(t, q.Wait(context.Background(), first), errBoom)

	acts, err := log.LoadByIDs(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, Waiting, acts[0].RunningState)
	assert.Equal(t, Done, acts[1].RunningState)

	s, err := log.ReadStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Status{LastActivityID: 2, Gaps: []int64{1}}, s)
}

func TestFailedActivityHoldsBackDependents(t *testing.T) {
	exec := newGatedExecutor()
	exec.fail[1] = errBoom
	q := startQueue(t, QueueConfig{MaxParallel: 4}, newMemoryLog(t), &fakeIndex{}, exec)

	a := register(t, q, doc(5, 50))
	assert.ErrorIs(t, waitFor(t, q, a), errBoom)
	b := register(t, q, &Activity{Type: RemoveTree, NodeID: 5, Path: "/Root/doc"})
	c := register(t, q, doc(9, 90))
	require.NoError(t, waitFor(t, q, c), "independent activity still runs")
	time.Sleep(50 * time.Millisecond)
	assert.False(t, exec.hasStarted(b), "B must not overtake the failed A")
	assert.Equal(t, 0, q.Pending())
	assert.Equal(t, Status{LastActivityID: 3, Gaps: []int64{1, 2}}, q.Status())

	exec.mu.Lock()
	delete(exec.fail, a)
	exec.mu.Unlock()
	require.NoError(t, q.Restore(context.Background(), q.Status()))
	require.NoError(t, waitFor(t, q, b))

	started, _ := exec.order()
	assert.Equal(t, []int64{a, c, a, b}, started)
	assert.Equal(t, Status{LastActivityID: 3}, q.Status())
}

func TestFailedActivityIsRetriedBeforeDependents(t *testing.T) {
	exec := newGatedExecutor()
	exec.fail[1] = errBoom
	q := startQueue(t, QueueConfig{MaxParallel: 4, RetryDelay: 100 * time.Millisecond}, newMemoryLog(t), &fakeIndex{}, exec)

	a := register(t, q, doc(5, 50))
	assert.ErrorIs(t, waitFor(t, q, a), errBoom)
	exec.mu.Lock()
	delete(exec.fail, a)
	exec.mu.Unlock()
	b := register(t, q, &Activity{Type: UpdateDocument, NodeID: 5, VersionID: 50, Path: "/Root/doc"})

	require.NoError(t, waitFor(t, q, b))
	require.NoError(t, waitFor(t, q, a))
	_, finished := exec.order()
	assert.Equal(t, []int64{a, a, b}, finished)
	assert.Equal(t, Status{LastActivityID: 2}, q.Status())
}

// stallingLog holds Append for one id after the id was assigned.
type stallingLog struct {
	Log
	stallID int64
	reached chan struct{}
	release chan struct{}
}

func (l *stallingLog) Append(ctx context.Context, a *Activity) (int64, error) {
	id, err := l.Log.Append(ctx, a)
	if err == nil && id == l.stallID {
		close(l.reached)
		<-l.release
	}
	return id, err
}

func TestConcurrentRegistrationsRunInIDOrder(t *testing.T) {
	log := &stallingLog{
		Log:     newMemoryLog(t),
		stallID: 1,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	exec := newGatedExecutor()
	q := startQueue(t, QueueConfig{MaxParallel: 4}, log, &fakeIndex{}, exec)

	ids := make(chan int64, 2)
	go func() {
		id, err := q.Register(context.Background(), doc(5, 50))
		assert.NoError(t, err)
		ids <- id
	}()
	<-log.reached
	go func() {
		id, err := q.Register(context.Background(), &Activity{Type: RemoveTree, NodeID: 5, Path: "/Root/doc"})
		assert.NoError(t, err)
		ids <- id
	}()
	time.Sleep(50 * time.Millisecond)
	started, _ := exec.order()
	assert.Empty(t, started, "nothing may run before id 1 is queued")

	close(log.release)
	first, second := <-ids, <-ids
	assert.ElementsMatch(t, []int64{1, 2}, []int64{first, second})
	require.NoError(t, waitFor(t, q, 1))
	require.NoError(t, waitFor(t, q, 2))
	_, finished := exec.order()
	assert.Equal(t, []int64{1, 2}, finished)
}

func TestRestoreRunsUnprocessedBeforeNew(t *testing.T) {
	ctx := context.Background()
	log := newMemoryLog(t)
	for i := int64(1); i <= 4; i++ {
		_, err := log.Append(ctx, doc(i, i*10))
		require.NoError(t, err)
	}
	index := &fakeIndex{status: Status{LastActivityID: 3, Gaps: []int64{2}}}
	exec := newGatedExecutor()
	exec.gate(4)
	q := startQueue(t, QueueConfig{MaxParallel: 4}, log, index, exec)

	fresh := register(t, q, doc(50, 500))
	assert.Equal(t, int64(5), fresh)
	require.NoError(t, waitFor(t, q, 2))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, exec.hasStarted(fresh), "new activity waits for restored ones")

	exec.release(4)
	require.NoError(t, waitFor(t, q, fresh))
	started, _ := exec.order()
	assert.ElementsMatch(t, []int64{2, 4, 5}, started)
	assert.Equal(t, fresh, started[len(started)-1])
	assert.Equal(t, Status{LastActivityID: 5}, q.Status())
}

func TestRestoreDropsGapsMissingFromLog(t *testing.T) {
	index := &fakeIndex{status: Status{LastActivityID: 10, Gaps: []int64{7}}}
	q := startQueue(t, QueueConfig{}, newMemoryLog(t), index, newGatedExecutor())
	assert.Equal(t, Status{LastActivityID: 10}, q.Status())
	require.NoError(t, q.Wait(context.Background(), 7))
}

func TestRebuildSupersedesWaitingActivities(t *testing.T) {
	exec := newGatedExecutor()
	exec.gate(1)
	q := startQueue(t, QueueConfig{MaxParallel: 4}, newMemoryLog(t), &fakeIndex{}, exec)

	running := register(t, q, doc(7, 70))
	waiting := register(t, q, &Activity{Type: UpdateDocument, NodeID: 7, VersionID: 70})
	rebuild := register(t, q, &Activity{Type: Rebuild, NodeID: 7})

	require.NoError(t, waitFor(t, q, waiting), "superseded activity completes without running")
	assert.False(t, exec.hasStarted(waiting))

	exec.release(running)
	require.NoError(t, waitFor(t, q, rebuild))
	started, _ := exec.order()
	assert.Equal(t, []int64{running, rebuild}, started)
	assert.Equal(t, Status{LastActivityID: 3}, q.Status())
}

func TestRegisterRejectsInvalidActivity(t *testing.T) {
	q := startQueue(t, QueueConfig{}, newMemoryLog(t), &fakeIndex{}, newGatedExecutor())
	_, err := q.Register(context.Background(), &Activity{Type: "Rename", NodeID: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestPeriodicCommitAndClose(t *testing.T) {
	index := &fakeIndex{}
	log := newMemoryLog(t)
	q := NewQueue(QueueConfig{MaxParallel: 2, CommitInterval: time.Hour}, log, index, newGatedExecutor(), nil)
	require.NoError(t, q.Start(context.Background()))

	id := register(t, q, doc(1, 1))
	require.NoError(t, waitFor(t, q, id))
	assert.Empty(t, index.commits, "no per-activity commit with an interval")

	require.NoError(t, q.Close())
	assert.Equal(t, Status{LastActivityID: 1}, index.committed())

	_, err := q.Register(context.Background(), doc(2, 2))
	assert.ErrorIs(t, err, ErrQueueClosed)
	require.NoError(t, q.Close())
}

func TestCloseFailsWaitersOfUnstartedActivities(t *testing.T) {
	exec := newGatedExecutor()
	exec.gate(1)
	q := NewQueue(QueueConfig{MaxParallel: 1}, newMemoryLog(t), &fakeIndex{}, exec, nil)
	require.NoError(t, q.Start(context.Background()))

	register(t, q, doc(1, 1))
	second := register(t, q, doc(2, 2))
	errc := make(chan error, 1)
	go func() { errc <- q.Wait(context.Background(), second) }()
	time.Sleep(20 * time.Millisecond)

	// Cancelling the queue releases the gated executor.
	require.NoError(t, q.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released")
	}
	assert.False(t, exec.hasStarted(second))
}
