// Package scheduler triggers the session check and sync cycles on cron schedules. All
// tasks share one lock so no two of them ever run at the same time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobwatch-engine/internal/logger"
)

var (
	ErrBusy        = errors.New("another scheduled task is running")
	ErrUnknownTask = errors.New("unknown task")
)

type Task func(ctx context.Context) error

type entry struct {
	name string
	spec string
	task Task
}

type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	log    logger.Logger

	mu      sync.Mutex // held while any task runs
	entries []entry
}

func New(loc *time.Location, log logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(logger.Component("scheduler"))
	// Standard 5-field specs plus descriptors such as "@every 30m".
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{log})),
	)
	return &Scheduler{cron: c, parser: parser, log: log}
}

// Add registers a task. Tasks are started in registration order by Run, so register the
// session check before the sync.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}
	s.entries = append(s.entries, entry{name: name, spec: spec, task: task})
	return nil
}

// Trigger runs a registered task now, unless another task holds the lock.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, e := range s.entries {
		if e.name == name {
			return s.tryRun(ctx, e)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTask, name)
}

// Run executes every task once in order, then follows their schedules until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, e := range s.entries {
		s.runLocked(ctx, e)
		if _, err := s.cron.AddFunc(e.spec, func() {
			if err := s.tryRun(ctx, e); errors.Is(err, ErrBusy) {
				s.log.Warn("tick skipped, previous task still running", logger.String("task", e.name))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", e.name, err)
		}
		s.log.Info("task scheduled", logger.String("task", e.name), logger.String("spec", e.spec))
	}

	s.cron.Start()
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tryRun(ctx context.Context, e entry) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()
	return s.exec(ctx, e)
}

func (s *Scheduler) runLocked(ctx context.Context, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.exec(ctx, e)
}

func (s *Scheduler) exec(ctx context.Context, e entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()
	err := e.task(ctx)
	if err != nil {
		s.log.Error("task failed", logger.String("task", e.name), logger.Duration("took", time.Since(start)), logger.Error(err))
		return err
	}
	s.log.Debug("task done", logger.String("task", e.name), logger.Duration("took", time.Since(start)))
	return nil
}

// cronLogger routes cron's own messages (mostly recovered panics) through zap.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logger.Any(k, kv[i+1]))
	}
	return out
}
