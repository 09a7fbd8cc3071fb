package seen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch-engine/internal/store"
)

// storeFactories lets every backend run the same behavioural tests.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	factories := map[string]func() Store{
		"file": func() Store {
			return NewFileStore(filepath.Join(t.TempDir(), "state", "seen_job_ids.json"))
		},
		"sqlite": func() Store {
			db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "engine.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewSQLiteStore(db.Pool)
		},
	}
	if dsn := os.Getenv("JOBWATCH_TEST_PG_DSN"); dsn != "" {
		factories["postgres"] = func() Store {
			ctx := context.Background()
			s, err := OpenPostgres(ctx, dsn, 2)
			require.NoError(t, err)
			_, err = s.pool.Exec(ctx, `TRUNCATE seen_listings; DELETE FROM seen_meta;`)
			require.NoError(t, err)
			t.Cleanup(s.Close)
			return s
		}
	}
	return factories
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()

			snap, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, Absent, snap.Status)
			assert.True(t, snap.SeedMode())

			require.NoError(t, s.Add(ctx, nil))
			snap, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, Empty, snap.Status)
			assert.False(t, snap.SeedMode())

			require.NoError(t, s.Add(ctx, []string{"B", "A"}))
			require.NoError(t, s.Add(ctx, []string{"A", "C", ""}))

			snap, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, Populated, snap.Status)
			assert.Equal(t, []string{"A", "B", "C"}, snap.IDs.Sorted())
		})
	}
}

func TestFileStoreWritesSortedIndentedJSON(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seen_job_ids.json")
	s := NewFileStore(path)

	require.NoError(t, s.Add(ctx, []string{"z9", "a1", "m5"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[\n  \"a1\",\n  \"m5\",\n  \"z9\"\n]\n", string(b))
}

func TestFileStoreReadsUnsortedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen_job_ids.json")
	require.NoError(t, os.WriteFile(path, []byte(`["b","a","b"]`), 0o644))

	snap, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Populated, snap.Status)
	assert.True(t, snap.IDs.Has("a"))
	assert.Len(t, snap.IDs, 2)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen_job_ids.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	s := NewFileStore(path)
	_, err := s.Load(context.Background())
	require.Error(t, err)

	// A corrupt file must not be silently replaced by a smaller set.
	require.Error(t, s.Add(context.Background(), []string{"x"}))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "populated", Populated.String())
}
