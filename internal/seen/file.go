package seen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetry = 50 * time.Millisecond

// FileStore keeps the seen set as a sorted JSON array of ids. Writers hold an exclusive
// lock on a sidecar "<path>.lock" file.
type FileStore struct {
	path string
	lock *flock.Flock
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: flock.New(path + ".lock")}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := s.ensureDir(); err != nil {
		return Snapshot{}, err
	}
	ok, err := s.lock.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return Snapshot{}, fmt.Errorf("lock seen file: %w", err)
	}
	if !ok {
		return Snapshot{}, fmt.Errorf("lock seen file %s: not acquired", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	ids, exists, err := s.read()
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ids, exists), nil
}

func (s *FileStore) Add(ctx context.Context, ids []string) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock seen file: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock seen file %s: not acquired", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	// Re-read under the write lock so concurrent writers never drop each other's ids.
	current, _, err := s.read()
	if err != nil {
		return err
	}
	set := NewSet(current...)
	for _, id := range ids {
		set.Add(id)
	}
	return s.write(set.Sorted())
}

func (s *FileStore) read() ([]string, bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read seen file: %w", err)
	}
	var ids []string
	if len(b) > 0 {
		if err := json.Unmarshal(b, &ids); err != nil {
			return nil, true, fmt.Errorf("parse seen file %s: %w", s.path, err)
		}
	}
	return ids, true, nil
}

func (s *FileStore) write(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write seen file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace seen file: %w", err)
	}
	return nil
}

func (s *FileStore) ensureDir() error {
	dir := filepath.Dir(s.path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
