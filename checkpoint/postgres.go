package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// PostgresStore persists checkpoints in a Postgres table keyed by source
// reference.
type PostgresStore struct {
	pool    *pgxpool.Pool
	loadSQL string
	saveSQL string
	closed  atomic.Bool
}

func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	quoted := pq.QuoteIdentifier(table)

	var pool *pgxpool.Pool
	err := retry.Do(
		func() error {
			p, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse checkpoint dsn: %w", err))
			}

			if err := p.Ping(ctx); err != nil {
				p.Close()
				return fmt.Errorf("ping checkpoint database: %w", err)
			}

			create := fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					source     TEXT PRIMARY KEY,
					checkpoint TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)
			`, quoted)
			if _, err := p.Exec(ctx, create); err != nil {
				p.Close()
				return fmt.Errorf("create checkpoint table: %w", err)
			}

			pool = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("checkpoint store connect failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	return &PostgresStore{
		pool:    pool,
		loadSQL: fmt.Sprintf(`SELECT checkpoint FROM %s WHERE source = $1`, quoted),
		saveSQL: fmt.Sprintf(`
			INSERT INTO %s (source, checkpoint) VALUES ($1, $2)
			ON CONFLICT (source) DO UPDATE SET checkpoint = EXCLUDED.checkpoint, updated_at = NOW()
		`, quoted),
	}, nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrStoreClosed
	}

	var value string
	err := s.pool.QueryRow(ctx, s.loadSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	if _, err := s.pool.Exec(ctx, s.saveSQL, key, value); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if !s.closed.Swap(true) {
		s.pool.Close()
	}
	return nil
}
