package seen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore shares one seen set between engines running on different hosts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and creates the seen tables if needed.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS seen_listings (
  id TEXT PRIMARY KEY,
  added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS seen_meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM seen_meta WHERE key = 'initialized'`).Scan(&v)
	exists := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("seen status: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT id FROM seen_listings`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list seen ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Snapshot{}, fmt.Errorf("list seen ids: %w", err)
	}
	return snapshotOf(ids, exists), nil
}

func (s *PostgresStore) Add(ctx context.Context, ids []string) error {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			clean = append(clean, id)
		}
	}

	b := &pgx.Batch{}
	if len(clean) > 0 {
		b.Queue(`INSERT INTO seen_listings(id) SELECT unnest($1::text[]) ON CONFLICT (id) DO NOTHING`, clean)
	}
	b.Queue(`INSERT INTO seen_meta(key, value) VALUES ('initialized', now()::text) ON CONFLICT (key) DO NOTHING`)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("add seen ids: %w", err)
	}
	return tx.Commit(ctx)
}
