package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/funneldash/dashcore/internal/models"
)

// CountQuery computes one counter. Windowed queries take the look-back
// start as $1.
type CountQuery struct {
	Key      models.CounterKey
	SQL      string
	Windowed bool
}

// DefaultCountQueries counts the funnel tables
func DefaultCountQueries() []CountQuery {
	return []CountQuery{
		{
			Key: models.CounterActiveSessions,
			SQL: `SELECT COUNT(*) FROM diagnosis_sessions WHERE status NOT IN ('completed', 'abandoned')`,
		},
		{
			Key:      models.CounterCompletedSessions,
			SQL:      `SELECT COUNT(*) FROM diagnosis_sessions WHERE status = 'completed' AND updated_at >= $1`,
			Windowed: true,
		},
		{
			Key:      models.CounterActiveUsers,
			SQL:      `SELECT COUNT(DISTINCT user_id) FROM diagnosis_sessions WHERE created_at >= $1`,
			Windowed: true,
		},
		{
			Key:      models.CounterVerifications,
			SQL:      `SELECT COUNT(*) FROM verifications WHERE status = 'verified' AND created_at >= $1`,
			Windowed: true,
		},
		{
			Key:      models.CounterErrors,
			SQL:      `SELECT COUNT(*) FROM error_logs WHERE created_at >= $1`,
			Windowed: true,
		},
	}
}

// RefreshQueries implements metrics.RefreshQuerier over database/sql
type RefreshQueries struct {
	db      *sql.DB
	queries []CountQuery
}

// NewRefreshQueries uses DefaultCountQueries when queries is empty
func NewRefreshQueries(db *sql.DB, queries ...CountQuery) *RefreshQueries {
	if len(queries) == 0 {
		queries = DefaultCountQueries()
	}
	return &RefreshQueries{db: db, queries: queries}
}

// Counts runs every query. The first failure aborts the refresh so a
// partial result never replaces good counters.
func (r *RefreshQueries) Counts(ctx context.Context, since time.Time) (map[models.CounterKey]int64, error) {
	counts := make(map[models.CounterKey]int64, len(r.queries))
	for _, q := range r.queries {
		var args []any
		if q.Windowed {
			args = append(args, since)
		}

		var n int64
		if err := r.db.QueryRowContext(ctx, q.SQL, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", q.Key, err)
		}
		counts[q.Key] = n
	}
	return counts, nil
}
