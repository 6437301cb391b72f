package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/resilience"
)

// Everyone is the principal every user belongs to.
const Everyone = "everyone"

// Resolver reports a user's access to a node. Callers treat errors as
// Denied.
type Resolver interface {
	Resolve(ctx context.Context, user string, nodeID int64) (Access, error)
}

// StaticResolver grants fixed access per user, falling back to Default.
type StaticResolver struct {
	Default Access
	Users   map[string]Access
}

func (s StaticResolver) Resolve(_ context.Context, user string, _ int64) (Access, error) {
	if a, ok := s.Users[user]; ok {
		return a, nil
	}
	return s.Default, nil
}

const accessSchema = `
CREATE TABLE IF NOT EXISTS node_access (
	node_id      BIGINT   NOT NULL,
	principal    TEXT     NOT NULL,
	level        SMALLINT NOT NULL,
	may_view_old BOOLEAN  NOT NULL DEFAULT FALSE,
	PRIMARY KEY (node_id, principal)
)`

// PostgresResolver reads effective access from node_access. A user's access
// is the strongest entry for the user or Everyone. Lookups go through a
// circuit breaker so a failing database denies quickly.
type PostgresResolver struct {
	client  *postgres.Client
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

func NewPostgresResolver(ctx context.Context, client *postgres.Client, m *metrics.Metrics) (*PostgresResolver, error) {
	if err := client.EnsureSchema(ctx, accessSchema); err != nil {
		return nil, fmt.Errorf("creating access schema: %w", err)
	}
	breaker := resilience.NewCircuitBreaker("permission-resolver", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			m.SetCircuitState(name, int(to))
		},
	})
	return &PostgresResolver{client: client, breaker: breaker, timeout: 2 * time.Second}, nil
}

func (r *PostgresResolver) Resolve(ctx context.Context, user string, nodeID int64) (Access, error) {
	var out Access
	err := r.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var level sql.NullInt16
		var old sql.NullBool
		err := r.client.DB.QueryRowContext(ctx,
			`SELECT MAX(level), BOOL_OR(may_view_old) FROM node_access
			 WHERE node_id = $1 AND principal = ANY($2)`,
			nodeID, pq.Array([]string{user, Everyone}),
		).Scan(&level, &old)
		if err != nil {
			return fmt.Errorf("resolving access of %q to node %d: %w", user, nodeID, err)
		}
		if level.Valid {
			out.Level = AccessLevel(level.Int16)
		}
		out.MayViewOldVersions = old.Valid && old.Bool
		return nil
	})
	if err != nil {
		return Access{}, err
	}
	return out, nil
}

// Grant stores access for a principal on a node, replacing any earlier
// entry.
func (r *PostgresResolver) Grant(ctx context.Context, nodeID int64, principal string, a Access) error {
	if principal == "" {
		return errors.New("granting access: empty principal")
	}
	_, err := r.client.DB.ExecContext(ctx,
		`INSERT INTO node_access (node_id, principal, level, may_view_old)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (node_id, principal) DO UPDATE
		 SET level = EXCLUDED.level, may_view_old = EXCLUDED.may_view_old`,
		nodeID, principal, int16(a.Level), a.MayViewOldVersions,
	)
	if err != nil {
		return fmt.Errorf("granting %s on node %d to %q: %w", a.Level, nodeID, principal, err)
	}
	return nil
}
