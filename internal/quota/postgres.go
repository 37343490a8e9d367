package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL-backed quota ledger for deployments that want
// usage to survive restarts. Counting semantics match MemoryStore.
//
// Schema:
//
//	CREATE TABLE user_quotas (
//	    user_id    TEXT NOT NULL,
//	    period_key TEXT NOT NULL,
//	    used_count INT  NOT NULL DEFAULT 0,
//	    PRIMARY KEY (user_id, period_key)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a quota store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Usage returns the user's record for the current period.
func (s *PostgresStore) Usage(ctx context.Context, userID string, limit int) (Record, error) {
	period := PeriodKey(s.now())
	rec := Record{UserID: userID, PeriodKey: period, Limit: limit}

	query := `
		SELECT used_count
		FROM user_quotas
		WHERE user_id = $1 AND period_key = $2
	`
	err := s.pool.QueryRow(ctx, query, userID, period).Scan(&rec.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, nil
		}
		return Record{}, fmt.Errorf("query quota usage: %w", err)
	}
	return rec, nil
}

// Increment records one accepted call and returns the updated record.
func (s *PostgresStore) Increment(ctx context.Context, userID string, limit int) (Record, error) {
	period := PeriodKey(s.now())
	rec := Record{UserID: userID, PeriodKey: period, Limit: limit}

	query := `
		INSERT INTO user_quotas (user_id, period_key, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, period_key)
		DO UPDATE SET used_count = user_quotas.used_count + 1
		RETURNING used_count
	`
	if err := s.pool.QueryRow(ctx, query, userID, period).Scan(&rec.Used); err != nil {
		return Record{}, fmt.Errorf("increment quota: %w", err)
	}
	return rec, nil
}

// IncrementIfBelow records one accepted call unless the user is already at
// the limit. The guard rides on the UPSERT so check and increment are one
// statement; a filtered-out update returns no row.
func (s *PostgresStore) IncrementIfBelow(ctx context.Context, userID string, limit int) (Record, bool, error) {
	period := PeriodKey(s.now())
	rec := Record{UserID: userID, PeriodKey: period, Limit: limit}

	query := `
		INSERT INTO user_quotas (user_id, period_key, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, period_key)
		DO UPDATE SET used_count = user_quotas.used_count + 1
		WHERE user_quotas.used_count < $3
		RETURNING used_count
	`
	err := s.pool.QueryRow(ctx, query, userID, period, limit).Scan(&rec.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, uerr := s.Usage(ctx, userID, limit)
			if uerr != nil {
				return Record{}, false, uerr
			}
			return current, false, nil
		}
		return Record{}, false, fmt.Errorf("conditional quota increment: %w", err)
	}
	return rec, true, nil
}
