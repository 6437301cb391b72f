// Package indexer owns the index writer and reader lifecycle: startup with
// lock-marker recovery, batched writes, commits that carry the activity
// status, reader reopen and orderly shutdown.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/access"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/resilience"
)

const (
	// CommitMarkerField identifies the synthetic document rewritten on
	// every commit. It never carries a NodeId.
	CommitMarkerField = "$#COMMIT"
	commitIDField     = "$#COMMITID"

	// VersionIDField is the identity of an indexed version.
	VersionIDField = fields.VersionID
)

// State is the manager lifecycle phase.
type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	}
	return "stopped"
}

type Options struct {
	Config   config.IndexConfig
	Analyzer engine.Analyzer
	Metrics  *metrics.Metrics
	Notifier LockNotifier
}

// Manager is the only owner of the index writer. Writes and commits go
// through writer access frames; readers are handed out as ref-counted
// handles.
type Manager struct {
	cfg      config.IndexConfig
	dir      *engine.Directory
	analyzer engine.Analyzer
	ctrl     *access.Controller
	metrics  *metrics.Metrics
	notifier LockNotifier
	logger   *slog.Logger

	state  atomic.Int32
	writer atomic.Pointer[engine.Writer]
	reader atomic.Pointer[engine.Reader]

	// lifecycle serializes Start and Shutdown.
	lifecycle sync.Mutex

	mu         sync.Mutex
	lastStatus *activity.Status
	listeners  []func()
}

func NewManager(opts Options) (*Manager, error) {
	dir, err := engine.OpenDirectory(opts.Config.DataDir)
	if err != nil {
		return nil, err
	}
	if opts.Analyzer == nil {
		opts.Analyzer = DefaultAnalyzer()
	}
	m := &Manager{
		cfg:      opts.Config,
		dir:      dir,
		analyzer: opts.Analyzer,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		logger:   slog.Default().With("component", "index-manager"),
	}
	m.ctrl = access.NewController(access.Observer{
		FrameAcquired: func(k access.FrameKind) { m.metrics.FrameAcquired(k.String()) },
		SafeWait:      m.metrics.ObserveSafeWait,
	})
	return m, nil
}

// DefaultAnalyzer analyzes free text with the standard analyzer and keeps
// identity fields as single keyword tokens.
func DefaultAnalyzer() engine.Analyzer {
	return engine.PerFieldAnalyzer{
		Default: engine.StandardAnalyzer{},
		Fields: map[string]engine.Analyzer{
			fields.Path:   engine.KeywordAnalyzer{},
			fields.Type:   engine.KeywordAnalyzer{},
			fields.TypeIs: engine.KeywordAnalyzer{},
			fields.Name:   engine.KeywordAnalyzer{},
		},
	}
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) Directory() *engine.Directory { return m.dir }

func (m *Manager) Analyzer() engine.Analyzer { return m.analyzer }

func (m *Manager) Controller() *access.Controller { return m.ctrl }

// OnReopen registers fn to run after every successful reader reopen. fn runs
// while the exclusive frame is held and must not write to the index.
func (m *Manager) OnReopen(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start waits for a stale lock marker to clear, taking the directory over
// if it does not within the configured timeout, then opens the writer and
// the first reader. An empty directory is initialized with an empty commit.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if !m.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return fmt.Errorf("starting index: already %s", m.State())
	}
	if err := m.start(ctx); err != nil {
		m.state.Store(int32(Stopped))
		return err
	}
	m.state.Store(int32(Running))
	status, _ := m.ReadActivityStatus()
	m.logger.Info("index started",
		"dir", m.dir.Path(),
		"docs", m.reader.Load().NumDocs(),
		"status", status.String(),
	)
	return nil
}

func (m *Manager) start(ctx context.Context) error {
	begin := time.Now()
	released, err := waitForLockRelease(ctx, m.dir, m.cfg.LockWaitTimeout, m.cfg.LockPollInterval, m.logger)
	if err != nil {
		return fmt.Errorf("waiting for index lock: %w", err)
	}
	if !released {
		waited := time.Since(begin)
		m.logger.Warn("index lock marker still present after timeout, forcing takeover",
			"lock", m.dir.LockPath(),
			"waited", waited,
		)
		if err := m.dir.ForceUnlock(); err != nil {
			return err
		}
		m.metrics.LockTakeover()
		if m.notifier != nil {
			takeover := LockTakeover{
				Directory: m.dir.Path(),
				LockPath:  m.dir.LockPath(),
				Waited:    waited,
				Host:      hostname(),
				At:        time.Now().UTC(),
			}
			if err := m.notifier.NotifyLockTakeover(ctx, takeover); err != nil {
				m.logger.Error("failed to notify operators of lock takeover", "error", err)
			}
		}
	}

	empty, err := m.dir.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		w, err := engine.OpenWriter(m.dir, engine.WriterConfig{Mode: engine.ModeCreate, Analyzer: m.analyzer})
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
		if err := w.Commit(activity.Status{}.Metadata()); err != nil {
			w.Close()
			return fmt.Errorf("initial commit: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("closing initial writer: %w", err)
		}
		m.logger.Info("created empty index", "dir", m.dir.Path())
	}

	w, err := engine.OpenWriter(m.dir, engine.WriterConfig{Mode: engine.ModeAppend, Analyzer: m.analyzer})
	if err != nil {
		return fmt.Errorf("opening index writer: %w", err)
	}
	r, err := w.Reader()
	if err != nil {
		w.Close()
		return fmt.Errorf("opening index reader: %w", err)
	}
	status := activity.ParseStatus(w.CommittedUserData())
	m.writer.Store(w)
	if old := m.reader.Swap(r); old != nil {
		old.DecRef()
	}
	m.mu.Lock()
	m.lastStatus = &status
	m.mu.Unlock()
	m.ctrl.SwitchToFast()
	return nil
}

// acquire returns a frame and the live writer, or ErrIndexNotRunning.
func (m *Manager) acquire(safe bool) (*access.Frame, *engine.Writer, error) {
	if m.State() != Running {
		return nil, nil, apperrors.ErrIndexNotRunning
	}
	frame := m.ctrl.Acquire(safe)
	w := m.writer.Load()
	if m.State() != Running || w == nil {
		frame.Release()
		return nil, nil, apperrors.ErrIndexNotRunning
	}
	return frame, w, nil
}

// Write applies one batch under a single writer frame: deletions, then
// updates, then additions. Every addition first deletes any document with
// the same version id so a replayed addition cannot produce a duplicate.
func (m *Manager) Write(deletions []engine.Term, updates []engine.Update, additions []*engine.Document) error {
	frame, w, err := m.acquire(false)
	if err != nil {
		return err
	}
	defer frame.Release()

	if len(deletions) > 0 {
		if err := w.DeleteDocuments(deletions...); err != nil {
			return fmt.Errorf("deleting documents: %w", err)
		}
	}
	for _, u := range updates {
		if err := w.UpdateDocument(u.Term, u.Document); err != nil {
			return fmt.Errorf("updating document %s: %w", u.Term, err)
		}
	}
	for _, doc := range additions {
		id, ok := doc.Value(VersionIDField)
		if !ok {
			return fmt.Errorf("%w: addition without %s", apperrors.ErrDocumentBuild, VersionIDField)
		}
		if err := w.UpdateDocument(engine.ValueTerm(VersionIDField, id), doc); err != nil {
			return fmt.Errorf("adding document %s=%s: %w", VersionIDField, id, err)
		}
	}
	return nil
}

// Commit makes every write durable. A fresh marker document guarantees the
// engine sees a change, so status is always persisted. When status is nil
// the previously committed status is kept. With reopen the commit holds an
// exclusive frame and the reader is replaced before it is released.
func (m *Manager) Commit(reopen bool, status *activity.Status) error {
	frame, w, err := m.acquire(reopen)
	if err != nil {
		return err
	}
	defer frame.Release()

	if err := m.commit(w, status); err != nil {
		return err
	}
	if reopen {
		return m.reopen()
	}
	return nil
}

func (m *Manager) commit(w *engine.Writer, status *activity.Status) error {
	m.mu.Lock()
	current := m.lastStatus
	m.mu.Unlock()
	if status != nil {
		s := status.Clone()
		current = &s
	}

	marker := engine.NewDocument(
		engine.NewField(CommitMarkerField, engine.IndexNotAnalyzed, false, value.String(CommitMarkerField)),
		engine.NewField(commitIDField, engine.IndexNone, true, value.String(uuid.NewString())),
	)
	err := w.UpdateDocument(engine.NewTerm(CommitMarkerField, CommitMarkerField), marker)
	if err == nil {
		data := w.CommittedUserData()
		if current != nil {
			for k, v := range current.Metadata() {
				data[k] = v
			}
		}
		err = w.Commit(data)
	}
	m.metrics.ObserveCommit(err)
	if err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	// Only a status that reached disk is carried into later commits.
	m.mu.Lock()
	m.lastStatus = current
	m.mu.Unlock()
	if current != nil {
		m.metrics.SetActivityStatus(current.LastActivityID, len(current.Gaps))
	}
	return nil
}

// Reopen replaces the reader snapshot under an exclusive frame.
func (m *Manager) Reopen() error {
	frame, _, err := m.acquire(true)
	if err != nil {
		return err
	}
	defer frame.Release()
	return m.reopen()
}

// reopen retries while the writer reports itself closed and gives up with
// ErrWriterClosed, which callers must treat as fatal.
func (m *Manager) reopen() error {
	attempts := 1 + m.cfg.ReopenRetries
	err := resilience.Retry(context.Background(), "index-reopen", resilience.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: m.cfg.ReopenRetryDelay,
		MaxDelay:     m.cfg.ReopenRetryDelay,
		Multiplier:   1,
		Retryable:    func(err error) bool { return errors.Is(err, engine.ErrAlreadyClosed) },
	}, func() error {
		w := m.writer.Load()
		if w == nil {
			return engine.ErrAlreadyClosed
		}
		r, err := w.Reader()
		if err != nil {
			return err
		}
		if old := m.reader.Swap(r); old != nil {
			old.DecRef()
		}
		return nil
	})
	m.metrics.ObserveReopen(err)
	if err != nil {
		if errors.Is(err, engine.ErrAlreadyClosed) {
			m.logger.Error("index writer closed, reader cannot be reopened", "attempts", attempts, "error", err)
			return fmt.Errorf("%w: reopening reader: %w", apperrors.ErrWriterClosed, err)
		}
		return fmt.Errorf("reopening reader: %w", err)
	}

	m.mu.Lock()
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// GetReader returns a handle on the current reader. The caller must Release
// it.
func (m *Manager) GetReader() (*ReaderHandle, error) {
	for {
		if m.State() != Running {
			return nil, apperrors.ErrIndexNotRunning
		}
		r := m.reader.Load()
		if r == nil {
			return nil, apperrors.ErrIndexNotRunning
		}
		if h, err := AcquireReader(r); err == nil {
			return h, nil
		}
		// The reader was swapped and closed between Load and IncRef.
		if m.reader.Load() == r {
			return nil, apperrors.ErrIndexNotRunning
		}
	}
}

// ReadActivityStatus returns the status stored in the last commit.
func (m *Manager) ReadActivityStatus() (activity.Status, error) {
	w := m.writer.Load()
	if m.State() != Running || w == nil {
		return activity.Status{}, apperrors.ErrIndexNotRunning
	}
	return activity.ParseStatus(w.CommittedUserData()), nil
}

// WriteActivityStatus commits status without reopening the reader.
func (m *Manager) WriteActivityStatus(status activity.Status) error {
	return m.Commit(false, &status)
}

// StartReopenLoop starts a goroutine that reopens a stale reader every
// interval until ctx ends, bounding how old a search snapshot can be. It
// returns at once.
func (m *Manager) StartReopenLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go m.reopenLoop(ctx, interval)
}

func (m *Manager) reopenLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() != Running || m.IsCurrent() {
				continue
			}
			if err := m.Reopen(); err != nil {
				m.logger.Error("forced reopen failed", "error", err)
			}
		}
	}
}

// IsCurrent reports whether the reader reflects every write made so far.
func (m *Manager) IsCurrent() bool {
	w := m.writer.Load()
	r := m.reader.Load()
	if w == nil || r == nil {
		return true
	}
	return w.IsCurrent(r)
}

// Shutdown drains all writers, commits pending state with the last known
// status, closes reader and writer and waits for the lock marker to clear.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.State() != Running {
		return nil
	}
	frame := m.ctrl.WaitForRunOutAllWriters()
	m.state.Store(int32(Stopped))

	var errs []error
	w := m.writer.Swap(nil)
	if err := m.commit(w, nil); err != nil {
		errs = append(errs, err)
	}
	if r := m.reader.Swap(nil); r != nil {
		r.DecRef()
	}
	if err := w.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing index writer: %w", err))
	}
	frame.Release()

	released, err := waitForLockRelease(ctx, m.dir, m.cfg.LockWaitTimeout, m.cfg.LockPollInterval, m.logger)
	if err != nil {
		errs = append(errs, fmt.Errorf("waiting for index lock release: %w", err))
	} else if !released {
		m.logger.Warn("index lock marker still present after shutdown", "lock", m.dir.LockPath())
	}
	m.logger.Info("index stopped", "dir", m.dir.Path())
	return errors.Join(errs...)
}
