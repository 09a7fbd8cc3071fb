package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const metaInitialized = "initialized"

// SeenInitialized reports whether a seen set has ever been written.
func SeenInitialized(ctx context.Context, db *sql.DB) (bool, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM seen_meta WHERE key = ? LIMIT 1;`, metaInitialized).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func ListSeenIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM seen_listings ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddSeenIDs inserts ids (duplicates ignored) and marks the store initialized, in one
// transaction.
func AddSeenIDs(ctx context.Context, db *sql.DB, ids []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO seen_listings(id, added_at) VALUES(?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, now); err != nil {
			return fmt.Errorf("insert seen id %q: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO seen_meta(key, value) VALUES(?, ?)
ON CONFLICT(key) DO NOTHING;
`, metaInitialized, now); err != nil {
		return err
	}

	return tx.Commit()
}
