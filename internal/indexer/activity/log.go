package activity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/postgres"
)

// ErrActivityNotFound is returned when an id is not in the log.
var ErrActivityNotFound = errors.New("activity not found")

// Log is the durable record of requested activities. It is the source of
// truth for what has been asked of the index; the index's own commit
// metadata records what has been applied.
type Log interface {
	// Append assigns the next id to a, stores it and returns the id.
	Append(ctx context.Context, a *Activity) (int64, error)
	SetState(ctx context.Context, id int64, state RunningState, lockTime time.Time) error
	// LoadRange returns activities with from < id <= to in id order. A
	// non-positive to means no upper bound, a non-positive limit no limit.
	LoadRange(ctx context.Context, from, to int64, limit int) ([]*Activity, error)
	// LoadByIDs returns the listed activities that exist, in id order.
	LoadByIDs(ctx context.Context, ids []int64) ([]*Activity, error)
	LastID(ctx context.Context) (int64, error)
	// ReadStatus and WriteStatus keep a copy of the applied status next to
	// the log for deployments where several nodes share it.
	ReadStatus(ctx context.Context) (Status, error)
	WriteStatus(ctx context.Context, s Status) error
	Close() error
}

func sortByID(acts []*Activity) {
	slices.SortFunc(acts, func(a, b *Activity) int { return cmp.Compare(a.ID, b.ID) })
}

const defaultBadgerGC = 10 * time.Minute

// OpenLog opens the log store cfg selects. pg is required for the postgres
// store.
func OpenLog(ctx context.Context, cfg config.ActivityConfig, pg *postgres.Client) (Log, error) {
	switch cfg.Store {
	case "postgres":
		if pg == nil {
			return nil, errors.New("opening activity log: postgres store needs a postgres client")
		}
		l, err := NewPostgresLog(ctx, pg)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "badger", "":
		l, err := OpenBadgerLog(BadgerLogConfig{
			Path:       cfg.BadgerPath,
			SyncWrites: true,
			GCInterval: defaultBadgerGC,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("opening activity log: unknown store %q", cfg.Store)
}
