package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, nil)
	require.Error(t, s.Add("sync", "every now and then", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("sync", "@every 30m", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("check", "0 */6 * * *", func(context.Context) error { return nil }))
}

func TestRunStartsTasksInOrder(t *testing.T) {
	s := New(time.UTC, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) Task {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	require.NoError(t, s.Add("check", "@every 1h", record("check")))
	require.NoError(t, s.Add("sync", "@every 1h", func(ctx context.Context) error {
		_ = record("sync")(ctx)
		return errors.New("fetch failed")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"check", "sync"}, order)
}

func TestTriggerNeverOverlaps(t *testing.T) {
	s := New(time.UTC, nil)
	entered := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, s.Add("sync", "@every 1h", func(context.Context) error {
		close(entered)
		<-release
		return nil
	}))
	require.NoError(t, s.Add("check", "@every 1h", func(context.Context) error { return nil }))

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background(), "sync") }()
	<-entered

	assert.ErrorIs(t, s.Trigger(context.Background(), "check"), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.NoError(t, s.Trigger(context.Background(), "check"))
}

func TestTriggerUnknown(t *testing.T) {
	s := New(time.UTC, nil)
	assert.ErrorIs(t, s.Trigger(context.Background(), "nope"), ErrUnknownTask)
}
