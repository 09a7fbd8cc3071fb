// Package seen persists the ids of listings that must never be notified again.
package seen

import (
	"context"
	"sort"
)

// Status distinguishes a store that has never been written (first run) from one that
// exists but holds no ids.
type Status int

const (
	Absent Status = iota
	Empty
	Populated
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Empty:
		return "empty"
	case Populated:
		return "populated"
	default:
		return "unknown"
	}
}

type Set map[string]struct{}

func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Snapshot struct {
	Status Status
	IDs    Set
}

// SeedMode reports whether a cycle starting from this snapshot runs in seed mode.
func (s Snapshot) SeedMode() bool { return s.Status == Absent }

func snapshotOf(ids []string, exists bool) Snapshot {
	set := NewSet(ids...)
	switch {
	case !exists:
		return Snapshot{Status: Absent, IDs: set}
	case len(set) == 0:
		return Snapshot{Status: Empty, IDs: set}
	default:
		return Snapshot{Status: Populated, IDs: set}
	}
}

// Store is a durable, grow-only set of ids.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	// Add unions ids into the persisted set. Called with no ids it still marks the
	// store as existing.
	Add(ctx context.Context, ids []string) error
}
