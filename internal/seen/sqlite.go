package seen

import (
	"context"
	"database/sql"
	"fmt"

	"jobwatch-engine/internal/store"
)

// SQLiteStore keeps the seen set in the engine database alongside cycle history.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	exists, err := store.SeenInitialized(ctx, s.db)
	if err != nil {
		return Snapshot{}, fmt.Errorf("seen status: %w", err)
	}
	ids, err := store.ListSeenIDs(ctx, s.db)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list seen ids: %w", err)
	}
	return snapshotOf(ids, exists), nil
}

func (s *SQLiteStore) Add(ctx context.Context, ids []string) error {
	if err := store.AddSeenIDs(ctx, s.db, ids); err != nil {
		return fmt.Errorf("add seen ids: %w", err)
	}
	return nil
}
