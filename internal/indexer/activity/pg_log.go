package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/postgres"
)

var postgresLogSchema = []string{
	`CREATE TABLE IF NOT EXISTS indexing_activities (
		id                BIGSERIAL PRIMARY KEY,
		type              TEXT        NOT NULL,
		node_id           BIGINT      NOT NULL DEFAULT 0,
		version_id        BIGINT      NOT NULL DEFAULT 0,
		path              TEXT        NOT NULL DEFAULT '',
		version_timestamp BIGINT      NOT NULL DEFAULT 0,
		running_state     TEXT        NOT NULL DEFAULT 'Waiting',
		lock_time         TIMESTAMPTZ,
		document          JSONB,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS indexing_activity_status (
		id               INT PRIMARY KEY CHECK (id = 1),
		last_activity_id BIGINT   NOT NULL,
		gaps             BIGINT[] NOT NULL DEFAULT '{}',
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

const activityColumns = `id, type, node_id, version_id, path, version_timestamp, running_state, lock_time, document`

// PostgresLog is the centralized activity log shared by every node that
// writes to the same content store.
type PostgresLog struct {
	client *postgres.Client
}

// NewPostgresLog creates the log tables when missing.
func NewPostgresLog(ctx context.Context, client *postgres.Client) (*PostgresLog, error) {
	if err := client.EnsureSchema(ctx, postgresLogSchema...); err != nil {
		return nil, fmt.Errorf("preparing activity log schema: %w", err)
	}
	return &PostgresLog{client: client}, nil
}

func (l *PostgresLog) Append(ctx context.Context, a *Activity) (int64, error) {
	state := a.RunningState
	if state == "" {
		state = Waiting
	}
	var doc []byte
	if a.Document != nil {
		var err error
		if doc, err = json.Marshal(a.Document); err != nil {
			return 0, fmt.Errorf("encoding activity document: %w", err)
		}
	}
	var id int64
	err := l.client.DB.QueryRowContext(ctx,
		`INSERT INTO indexing_activities
			(type, node_id, version_id, path, version_timestamp, running_state, lock_time, document)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		string(a.Type), a.NodeID, a.VersionID, a.Path, a.VersionTimestamp, string(state),
		nullTime(a.LockTime), doc,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("appending activity: %w", err)
	}
	a.ID = id
	a.RunningState = state
	return id, nil
}

func (l *PostgresLog) SetState(ctx context.Context, id int64, state RunningState, lockTime time.Time) error {
	res, err := l.client.DB.ExecContext(ctx,
		`UPDATE indexing_activities SET running_state = $2, lock_time = $3 WHERE id = $1`,
		id, string(state), nullTime(lockTime),
	)
	if err != nil {
		return fmt.Errorf("setting state of activity %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("setting state of activity %d: %w", id, ErrActivityNotFound)
	}
	return nil
}

func (l *PostgresLog) LoadRange(ctx context.Context, from, to int64, limit int) ([]*Activity, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := l.client.DB.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM indexing_activities
		 WHERE id > $1 AND ($2::BIGINT <= 0 OR id <= $2::BIGINT)
		 ORDER BY id
		 LIMIT $3`,
		from, to, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("loading activities after %d: %w", from, err)
	}
	return scanActivities(rows)
}

func (l *PostgresLog) LoadByIDs(ctx context.Context, ids []int64) ([]*Activity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := l.client.DB.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM indexing_activities WHERE id = ANY($1) ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("loading activities by id: %w", err)
	}
	return scanActivities(rows)
}

func scanActivities(rows *sql.Rows) ([]*Activity, error) {
	defer rows.Close()
	var out []*Activity
	for rows.Next() {
		var (
			a        Activity
			typ      string
			state    string
			lockTime sql.NullTime
			doc      []byte
		)
		if err := rows.Scan(&a.ID, &typ, &a.NodeID, &a.VersionID, &a.Path, &a.VersionTimestamp, &state, &lockTime, &doc); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		a.Type = Type(typ)
		a.RunningState = RunningState(state)
		if lockTime.Valid {
			a.LockTime = lockTime.Time
		}
		if len(doc) > 0 {
			a.Document = &engine.Document{}
			if err := json.Unmarshal(doc, a.Document); err != nil {
				return nil, fmt.Errorf("decoding document of activity %d: %w", a.ID, err)
			}
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}
	return out, nil
}

func (l *PostgresLog) LastID(ctx context.Context) (int64, error) {
	var id int64
	err := l.client.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM indexing_activities`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading last activity id: %w", err)
	}
	return id, nil
}

func (l *PostgresLog) ReadStatus(ctx context.Context) (Status, error) {
	var (
		s    Status
		gaps pq.Int64Array
	)
	err := l.client.DB.QueryRowContext(ctx,
		`SELECT last_activity_id, gaps FROM indexing_activity_status WHERE id = 1`,
	).Scan(&s.LastActivityID, &gaps)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("reading activity status: %w", err)
	}
	if len(gaps) > 0 {
		s.Gaps = []int64(gaps)
	}
	return s, nil
}

func (l *PostgresLog) WriteStatus(ctx context.Context, s Status) error {
	gaps := s.Gaps
	if gaps == nil {
		gaps = []int64{}
	}
	_, err := l.client.DB.ExecContext(ctx,
		`INSERT INTO indexing_activity_status (id, last_activity_id, gaps, updated_at)
		 VALUES (1, $1, $2, now())
		 ON CONFLICT (id) DO UPDATE
		 SET last_activity_id = EXCLUDED.last_activity_id,
		     gaps = EXCLUDED.gaps,
		     updated_at = EXCLUDED.updated_at`,
		s.LastActivityID, pq.Array(gaps),
	)
	if err != nil {
		return fmt.Errorf("writing activity status: %w", err)
	}
	return nil
}

// Close leaves the shared client open; its owner closes it.
func (l *PostgresLog) Close() error { return nil }

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
