package activity

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
)

type indexWrite struct {
	deletions []engine.Term
	updates   []engine.Update
	additions []*engine.Document
}

type fakeIndex struct {
	mu      sync.Mutex
	status  Status
	writes  []indexWrite
	commits []Status
	reopens int
}

func (f *fakeIndex) Write(deletions []engine.Term, updates []engine.Update, additions []*engine.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, indexWrite{deletions, updates, additions})
	return nil
}

func (f *fakeIndex) Commit(reopen bool, status *Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status != nil {
		f.status = status.Clone()
		f.commits = append(f.commits, status.Clone())
	}
	if reopen {
		f.reopens++
	}
	return nil
}

func (f *fakeIndex) ReadActivityStatus() (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status.Clone(), nil
}

func (f *fakeIndex) committed() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status.Clone()
}

// gatedExecutor records execution order. Ids with a gate block until the
// gate is released; ids in fail return that error.
type gatedExecutor struct {
	mu       sync.Mutex
	started  []int64
	finished []int64
	gates    map[int64]chan struct{}
	fail     map[int64]error
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{gates: map[int64]chan struct{}{}, fail: map[int64]error{}}
}

func (x *gatedExecutor) gate(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.gates[id] = make(chan struct{})
}

func (x *gatedExecutor) release(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	close(x.gates[id])
}

func (x *gatedExecutor) Execute(ctx context.Context, a *Activity) error {
	x.mu.Lock()
	x.started = append(x.started, a.ID)
	gate := x.gates[a.ID]
	err := x.fail[a.ID]
	x.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	x.mu.Lock()
	x.finished = append(x.finished, a.ID)
	x.mu.Unlock()
	return err
}

func (x *gatedExecutor) hasStarted(id int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Contains(x.started, id)
}

func (x *gatedExecutor) order() (started, finished []int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.started), slices.Clone(x.finished)
}

var errBoom = errors.New("boom")

func newMemoryLog(t *testing.T) *BadgerLog {
	t.Helper()
	l, err := OpenBadgerLog(BadgerLogConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}
