package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerActivityPrefix = "activity/"
	badgerLastIDKey      = "meta/last-id"
	badgerStatusKey      = "meta/status"
)

type BadgerLogConfig struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// GCInterval of zero disables value log garbage collection.
	GCInterval time.Duration
}

// BadgerLog keeps the activity log in an embedded BadgerDB. Ids are
// assigned from a counter stored in the same transaction as the activity,
// so the sequence has no holes across restarts.
type BadgerLog struct {
	db     *badger.DB
	logger *slog.Logger

	// mu serializes id assignment.
	mu   sync.Mutex
	last int64

	stopGC chan struct{}
	gcDone chan struct{}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func OpenBadgerLog(cfg BadgerLogConfig) (*BadgerLog, error) {
	logger := slog.Default().With("component", "activity-log")
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger activity log needs a path")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("creating activity log directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger activity log: %w", err)
	}
	l := &BadgerLog{db: db, logger: logger}

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerLastIDKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			l.last, err = strconv.ParseInt(string(v), 10, 64)
			return err
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading last activity id: %w", err)
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		l.stopGC = make(chan struct{})
		l.gcDone = make(chan struct{})
		go l.runGC(cfg.GCInterval)
	}
	return l, nil
}

func (l *BadgerLog) runGC(interval time.Duration) {
	defer close(l.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopGC:
			return
		case <-ticker.C:
			err := l.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				l.logger.Warn("activity log value GC failed", "error", err)
			}
		}
	}
}

func badgerActivityKey(id int64) []byte {
	return fmt.Appendf(nil, "%s%016x", badgerActivityPrefix, id)
}

func (l *BadgerLog) Append(_ context.Context, a *Activity) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.last + 1
	stored := *a
	stored.ID = id
	if stored.RunningState == "" {
		stored.RunningState = Waiting
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("encoding activity: %w", err)
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(badgerActivityKey(id), data); err != nil {
			return err
		}
		return txn.Set([]byte(badgerLastIDKey), []byte(strconv.FormatInt(id, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("appending activity: %w", err)
	}
	l.last = id
	a.ID = id
	a.RunningState = stored.RunningState
	return id, nil
}

func (l *BadgerLog) SetState(_ context.Context, id int64, state RunningState, lockTime time.Time) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		a, err := getBadgerActivity(txn, id)
		if err != nil {
			return err
		}
		a.RunningState = state
		a.LockTime = lockTime
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return txn.Set(badgerActivityKey(id), data)
	})
	if err != nil {
		return fmt.Errorf("setting state of activity %d: %w", id, err)
	}
	return nil
}

func getBadgerActivity(txn *badger.Txn, id int64) (*Activity, error) {
	item, err := txn.Get(badgerActivityKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}
	var a Activity
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &a) }); err != nil {
		return nil, fmt.Errorf("decoding activity %d: %w", id, err)
	}
	return &a, nil
}

func (l *BadgerLog) LoadRange(ctx context.Context, from, to int64, limit int) ([]*Activity, error) {
	var out []*Activity
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerActivityPrefix)
		for it.Seek(badgerActivityKey(from + 1)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var a Activity
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &a) }); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			if to > 0 && a.ID > to {
				break
			}
			out = append(out, &a)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading activities after %d: %w", from, err)
	}
	return out, nil
}

func (l *BadgerLog) LoadByIDs(_ context.Context, ids []int64) ([]*Activity, error) {
	out := make([]*Activity, 0, len(ids))
	err := l.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			a, err := getBadgerActivity(txn, id)
			if errors.Is(err, ErrActivityNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading activities by id: %w", err)
	}
	sortByID(out)
	return out, nil
}

func (l *BadgerLog) LastID(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, nil
}

func (l *BadgerLog) ReadStatus(context.Context) (Status, error) {
	var s Status
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerStatusKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &s) })
	})
	if err != nil {
		return Status{}, fmt.Errorf("reading activity status: %w", err)
	}
	return s, nil
}

func (l *BadgerLog) WriteStatus(_ context.Context, s Status) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerStatusKey), data)
	})
	if err != nil {
		return fmt.Errorf("writing activity status: %w", err)
	}
	return nil
}

func (l *BadgerLog) Close() error {
	if l.stopGC != nil {
		close(l.stopGC)
		<-l.gcDone
	}
	return l.db.Close()
}
