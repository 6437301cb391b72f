package activity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
)

var (
	ErrQueueClosed = errors.New("activity queue closed")
	// ErrNotApplied is returned by Wait for an id the queue neither holds
	// nor has applied.
	ErrNotApplied = errors.New("activity not applied")
)

const defaultRestoreBatch = 1000

type QueueConfig struct {
	MaxParallel int
	// CommitInterval of zero commits after every activity.
	CommitInterval time.Duration
	// RetryDelay of zero leaves a failed activity, and everything that
	// depends on it, parked until the next restore.
	RetryDelay       time.Duration
	RestoreBatchSize int
}

type entry struct {
	act     *Activity
	running bool
	done    chan struct{}
	err     error
	// failed entries stay queued so later dependent activities cannot
	// overtake them.
	failed  bool
	retryAt time.Time
}

// Queue executes registered activities against the index. Activities that
// depend on each other run in id order; independent ones run in parallel up
// to MaxParallel. Restored activities run before newly registered ones.
type Queue struct {
	cfg     QueueConfig
	log     Log
	index   Index
	exec    Executor
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracker *Tracker
	workers *errgroup.Group
	wake    chan struct{}

	// registerMu makes id assignment and enqueueing one step, so the
	// dispatcher never sees a higher id before a lower one.
	registerMu sync.Mutex

	mu      sync.Mutex
	pending []*entry
	byID    map[int64]*entry
	dirty   bool
	started bool
	closed  bool
	cancel  context.CancelFunc

	// commitMu keeps status commits in snapshot order.
	commitMu sync.Mutex
	loops    sync.WaitGroup
}

func NewQueue(cfg QueueConfig, log Log, index Index, exec Executor, m *metrics.Metrics) *Queue {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.RestoreBatchSize <= 0 {
		cfg.RestoreBatchSize = defaultRestoreBatch
	}
	workers := new(errgroup.Group)
	workers.SetLimit(cfg.MaxParallel)
	return &Queue{
		cfg:     cfg,
		log:     log,
		index:   index,
		exec:    exec,
		metrics: m,
		logger:  slog.Default().With("component", "activity-queue"),
		tracker: NewTracker(Status{}),
		workers: workers,
		wake:    make(chan struct{}, 1),
		byID:    make(map[int64]*entry),
	}
}

// Start reads the applied status from the index, restores every activity
// it does not cover and begins dispatching. The queue runs until Close or
// until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return errors.New("starting activity queue: already started")
	}
	q.started = true
	q.mu.Unlock()

	status, err := q.index.ReadActivityStatus()
	if err != nil {
		return fmt.Errorf("reading index activity status: %w", err)
	}
	if err := q.Restore(ctx, status); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	q.loops.Add(1)
	go q.dispatchLoop(runCtx)
	if q.cfg.CommitInterval > 0 {
		q.loops.Add(1)
		go q.commitLoop(runCtx)
	}
	q.logger.Info("activity queue started",
		"status", status.String(),
		"max_parallel", q.cfg.MaxParallel,
		"commit_interval", q.cfg.CommitInterval,
	)
	return nil
}

// Register stores a in the log, which assigns its id, and queues it.
func (q *Queue) Register(ctx context.Context, a *Activity) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	a.RunningState = Waiting
	a.IsUnprocessed = false
	a.LockTime = time.Time{}

	q.registerMu.Lock()
	id, err := q.log.Append(ctx, a)
	if err != nil {
		q.registerMu.Unlock()
		return 0, err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.registerMu.Unlock()
		// Still in the log; the next start restores it.
		return id, ErrQueueClosed
	}
	superseded := q.enqueueLocked(a)
	depth := len(q.pending)
	q.mu.Unlock()
	q.registerMu.Unlock()

	q.completeSuperseded(a, superseded)
	q.metrics.SetQueueDepth(depth)
	q.signal()
	return id, nil
}

// Wait blocks until the activity finishes and returns its execution error.
// For a failed activity that is still parked it returns the last failure.
func (q *Queue) Wait(ctx context.Context, id int64) error {
	q.mu.Lock()
	e, ok := q.byID[id]
	var done chan struct{}
	if ok {
		done = e.done
	}
	q.mu.Unlock()
	if !ok {
		if q.tracker.IsDone(id) {
			return nil
		}
		return fmt.Errorf("activity %d: %w", id, ErrNotApplied)
	}
	select {
	case <-done:
		q.mu.Lock()
		defer q.mu.Unlock()
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restore rewinds the queue to status: every logged activity above
// LastActivityID and every gap is queued again as unprocessed. Gaps the log
// no longer holds count as applied.
func (q *Queue) Restore(ctx context.Context, status Status) error {
	q.tracker.Reset(status)

	var restored []*Activity
	if len(status.Gaps) > 0 {
		acts, err := q.log.LoadByIDs(ctx, status.Gaps)
		if err != nil {
			return fmt.Errorf("restoring gap activities: %w", err)
		}
		found := make(map[int64]bool, len(acts))
		for _, a := range acts {
			found[a.ID] = true
		}
		for _, g := range status.Gaps {
			if !found[g] {
				q.tracker.Done(g)
			}
		}
		restored = append(restored, acts...)
	}
	from := status.LastActivityID
	for {
		acts, err := q.log.LoadRange(ctx, from, 0, q.cfg.RestoreBatchSize)
		if err != nil {
			return fmt.Errorf("restoring activities after %d: %w", from, err)
		}
		restored = append(restored, acts...)
		if len(acts) < q.cfg.RestoreBatchSize {
			break
		}
		from = acts[len(acts)-1].ID
	}

	type supersession struct {
		by   *Activity
		gone []*entry
	}
	var all []supersession
	q.mu.Lock()
	for _, a := range restored {
		if old, ok := q.byID[a.ID]; ok {
			if !old.failed {
				continue
			}
			q.pending = slices.DeleteFunc(q.pending, func(e *entry) bool { return e == old })
			delete(q.byID, a.ID)
		}
		a.IsUnprocessed = true
		a.RunningState = Waiting
		if gone := q.enqueueLocked(a); len(gone) > 0 {
			all = append(all, supersession{by: a, gone: gone})
		}
	}
	q.dirty = true
	depth := len(q.pending)
	q.mu.Unlock()

	for _, s := range all {
		q.completeSuperseded(s.by, s.gone)
	}
	q.metrics.SetQueueDepth(depth)
	if len(restored) > 0 {
		q.logger.Info("restored unprocessed activities", "count", len(restored), "from", status.String())
	}
	q.signal()
	return nil
}

// Status returns what the queue has applied so far.
func (q *Queue) Status() Status {
	return q.tracker.Status()
}

// Pending returns the number of queued or running activities that can
// still make progress. Failed activities waiting for a restore, and the
// activities they hold back, are not counted.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, stalled := range q.stalledLocked() {
		if !stalled {
			n++
		}
	}
	return n
}

// Close stops dispatching, waits for running activities and commits the
// final status. Activities that never started stay in the log and fail
// their waiters with ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.loops.Wait()
	q.workers.Wait()

	q.mu.Lock()
	dirty := q.dirty && q.started
	left := q.pending
	q.pending = nil
	q.byID = make(map[int64]*entry)
	q.mu.Unlock()
	for _, e := range left {
		if e.failed {
			continue
		}
		e.err = ErrQueueClosed
		close(e.done)
	}

	var err error
	if dirty {
		err = q.commit()
	}
	q.logger.Info("activity queue stopped", "status", q.tracker.Status().String(), "abandoned", len(left))
	return err
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// enqueueLocked inserts a in id order. A Rebuild or Restore removes the
// earlier waiting activities it supersedes and returns them.
func (q *Queue) enqueueLocked(a *Activity) []*entry {
	e := &entry{act: a, done: make(chan struct{})}
	i, _ := slices.BinarySearchFunc(q.pending, a.ID, func(e *entry, id int64) int {
		return cmp.Compare(e.act.ID, id)
	})
	q.pending = slices.Insert(q.pending, i, e)
	q.byID[a.ID] = e

	if a.Type != Rebuild && a.Type != Restore {
		return nil
	}
	var gone []*entry
	kept := make([]*entry, 0, len(q.pending))
	for _, p := range q.pending {
		if !p.running && a.Supersedes(p.act) {
			gone = append(gone, p)
			delete(q.byID, p.act.ID)
			continue
		}
		kept = append(kept, p)
	}
	q.pending = kept
	return gone
}

func (q *Queue) completeSuperseded(by *Activity, gone []*entry) {
	if len(gone) == 0 {
		return
	}
	ctx := context.Background()
	for _, e := range gone {
		q.tracker.Done(e.act.ID)
		if err := q.log.SetState(ctx, e.act.ID, Done, time.Time{}); err != nil {
			q.logger.Warn("failed to mark superseded activity done", "id", e.act.ID, "error", err)
		}
		q.logger.Debug("activity superseded", "id", e.act.ID, "by", by.ID)
		if e.failed {
			// Its waiters already saw the failure.
			continue
		}
		close(e.done)
	}
	q.mu.Lock()
	q.dirty = true
	q.mu.Unlock()
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.loops.Done()
	for {
		q.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}

// dispatch starts every waiting activity whose earlier dependencies have
// finished, while worker slots remain.
func (q *Queue) dispatch(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || ctx.Err() != nil {
		return
	}
	now := time.Now()
	for _, e := range q.pending {
		if e.failed && q.cfg.RetryDelay > 0 && !now.Before(e.retryAt) {
			// e.err keeps the last failure until the retry finishes.
			e.failed = false
			e.done = make(chan struct{})
		}
	}
	stalled := q.stalledLocked()
	unprocessed := false
	for i, e := range q.pending {
		if e.act.IsUnprocessed && !stalled[i] {
			unprocessed = true
			break
		}
	}
	for i, e := range q.pending {
		if e.running || stalled[i] {
			continue
		}
		if unprocessed && !e.act.IsUnprocessed {
			continue
		}
		if q.blockedLocked(i) {
			continue
		}
		e.running = true
		if !q.workers.TryGo(func() error {
			q.run(ctx, e)
			return nil
		}) {
			e.running = false
			return
		}
	}
}

// stalledLocked marks, per pending entry, whether it failed or depends on
// an earlier stalled entry.
func (q *Queue) stalledLocked() []bool {
	stalled := make([]bool, len(q.pending))
	for i, e := range q.pending {
		if e.failed {
			stalled[i] = true
			continue
		}
		for j, earlier := range q.pending[:i] {
			if stalled[j] && e.act.DependsOn(earlier.act) {
				stalled[i] = true
				break
			}
		}
	}
	return stalled
}

func (q *Queue) blockedLocked(i int) bool {
	a := q.pending[i].act
	for _, earlier := range q.pending[:i] {
		if a.DependsOn(earlier.act) {
			return true
		}
	}
	return false
}

func (q *Queue) run(ctx context.Context, e *entry) {
	a := e.act
	logCtx := context.WithoutCancel(ctx)
	started := time.Now()
	if err := q.log.SetState(logCtx, a.ID, Running, started); err != nil {
		q.logger.Warn("failed to mark activity running", "id", a.ID, "error", err)
	}

	err := q.exec.Execute(ctx, a)
	q.metrics.ActivityFinished(string(a.Type), err)
	if err != nil {
		q.logger.Error("activity failed",
			"id", a.ID,
			"type", a.Type,
			"path", a.Path,
			"error", err,
		)
		// Left in the gaps and in the queue; dependents wait for a retry
		// or for the next restore.
		if serr := q.log.SetState(logCtx, a.ID, Waiting, time.Time{}); serr != nil {
			q.logger.Warn("failed to reset activity state", "id", a.ID, "error", serr)
		}
		q.mu.Lock()
		e.running = false
		e.failed = true
		e.err = err
		if q.cfg.RetryDelay > 0 {
			e.retryAt = time.Now().Add(q.cfg.RetryDelay)
			time.AfterFunc(q.cfg.RetryDelay, q.signal)
		}
		close(e.done)
		q.mu.Unlock()
		q.signal()
		return
	}

	q.tracker.Done(a.ID)
	q.mu.Lock()
	q.dirty = true
	q.mu.Unlock()
	if serr := q.log.SetState(logCtx, a.ID, Done, started); serr != nil {
		q.logger.Warn("failed to mark activity done", "id", a.ID, "error", serr)
	}
	q.logger.Debug("activity done", "id", a.ID, "type", a.Type, "took", time.Since(started))
	if q.cfg.CommitInterval <= 0 {
		if cerr := q.commit(); cerr != nil {
			err = cerr
		}
	}

	q.mu.Lock()
	e.err = err
	if i := slices.Index(q.pending, e); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
	}
	delete(q.byID, a.ID)
	depth := len(q.pending)
	q.mu.Unlock()
	close(e.done)

	q.metrics.SetQueueDepth(depth)
	q.signal()
}

func (q *Queue) commitLoop(ctx context.Context) {
	defer q.loops.Done()
	ticker := time.NewTicker(q.cfg.CommitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			dirty := q.dirty
			q.mu.Unlock()
			if dirty {
				q.commit()
			}
		}
	}
}

// commit persists the current status in the index, reopening the reader,
// and copies it to the log.
func (q *Queue) commit() error {
	q.commitMu.Lock()
	defer q.commitMu.Unlock()

	q.mu.Lock()
	q.dirty = false
	q.mu.Unlock()
	status := q.tracker.Status()
	if err := q.index.Commit(true, &status); err != nil {
		q.mu.Lock()
		q.dirty = true
		q.mu.Unlock()
		q.logger.Error("committing activity status failed", "status", status.String(), "error", err)
		return fmt.Errorf("committing activity status: %w", err)
	}
	if err := q.log.WriteStatus(context.Background(), status); err != nil {
		q.logger.Warn("failed to copy activity status to the log", "error", err)
	}
	return nil
}
