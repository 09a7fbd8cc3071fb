// Package syncer runs incremental sync cycles: page through the jobs API, classify each
// listing against the seen set, export, notify and persist.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"jobwatch-engine/internal/domain"
	"jobwatch-engine/internal/events"
	"jobwatch-engine/internal/export"
	"jobwatch-engine/internal/fetch"
	"jobwatch-engine/internal/logger"
	"jobwatch-engine/internal/metrics"
	"jobwatch-engine/internal/notify"
	"jobwatch-engine/internal/novelty"
	"jobwatch-engine/internal/seen"
	"jobwatch-engine/internal/store"
)

var ErrCycleRunning = errors.New("sync cycle already running")

const (
	DefaultPageSize = 20
	DefaultMaxPages = 500
)

type PageFetcher interface {
	FetchPage(ctx context.Context, pageNumber, pageSize int) (fetch.Page, error)
}

type Dispatcher interface {
	DispatchBatch(ctx context.Context, listings []domain.Listing) notify.Report
}

type History interface {
	Record(ctx context.Context, c store.Cycle) error
}

type Options struct {
	PageSize     int
	RequestDelay time.Duration
	MaxPages     int // stop paging after this many pages even without a reported total
}

type Deps struct {
	Fetcher  PageFetcher
	Seen     seen.Store
	Notifier Dispatcher
	Export   export.Sink      // optional
	History  History          // optional
	Events   events.Publisher // optional
	Metrics  *metrics.Metrics // optional
	Log      logger.Logger    // optional
}

type Result struct {
	CycleID    string        `json:"cycleId"`
	Cutoff     string        `json:"cutoff"`
	SeedMode   bool          `json:"seedMode"`
	Pages      int           `json:"pages"`
	Fetched    int           `json:"fetched"`
	Notified   int           `json:"notified"`
	Seeded     int           `json:"seeded"`
	Skipped    int           `json:"skipped"`
	SeenSize   int           `json:"seenSize"`
	Report     notify.Report `json:"report"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Status is a snapshot for the status endpoint.
type Status struct {
	Running   bool    `json:"running"`
	LastRunAt string  `json:"lastRunAt,omitempty"`
	LastOkAt  string  `json:"lastOkAt,omitempty"`
	LastError string  `json:"lastError,omitempty"`
	Last      *Result `json:"last,omitempty"`
}

type Engine struct {
	d    Deps
	opts Options
	log  logger.Logger

	running atomic.Bool

	mu     sync.Mutex
	status Status
}

func New(d Deps, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if d.Export == nil {
		d.Export = export.Nop{}
	}
	if d.Events == nil {
		d.Events = events.Nop
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	return &Engine{d: d, opts: opts, log: d.Log.With(logger.Component("sync"))}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.Running = e.running.Load()
	return st
}

// RunCycle performs one full cycle. Durable state (export, seen set) is only written
// after every page was fetched, so a failed cycle leaves it untouched.
func (e *Engine) RunCycle(ctx context.Context, cutoff time.Time) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrCycleRunning
	}
	defer e.running.Store(false)

	res := Result{
		CycleID:   uuid.NewString(),
		Cutoff:    cutoff.Format(time.DateOnly),
		StartedAt: time.Now(),
	}
	log := e.log.With(logger.String("cycle", res.CycleID))
	e.d.Events.Publish(events.MakeEvent(res.CycleID, events.TypeCycleStarted, 1, map[string]any{"cutoff": res.Cutoff}))

	out, err := e.run(ctx, cutoff, &res, log)
	res.FinishedAt = time.Now()
	if err != nil {
		e.finishFailed(ctx, res, out, err, log)
		return res, err
	}
	e.finishOK(ctx, res, log)
	return res, nil
}

func (e *Engine) run(ctx context.Context, cutoff time.Time, res *Result, log logger.Logger) (string, error) {
	snap, err := e.d.Seen.Load(ctx)
	if err != nil {
		return metrics.OutcomePersistError, fmt.Errorf("load seen set: %w", err)
	}
	res.SeedMode = snap.SeedMode()
	log.Info("cycle started",
		logger.String("cutoff", res.Cutoff),
		logger.String("seen_status", snap.Status.String()),
		logger.Int("seen", len(snap.IDs)),
		logger.Bool("seed_mode", res.SeedMode),
	)

	added := seen.NewSet()
	var additions []string
	alreadySeen := func(id string) bool { return snap.IDs.Has(id) || added.Has(id) }

	var all, toNotify []domain.Listing
	pageSize := e.opts.PageSize
	total := 0 // 0 = unknown
	limiter := rate.NewLimiter(rate.Every(e.opts.RequestDelay), 1)

	for page := 1; ; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return metrics.OutcomeFetchError, fmt.Errorf("wait before page %d: %w", page, err)
		}
		p, err := e.d.Fetcher.FetchPage(ctx, page, pageSize)
		if err != nil {
			return metrics.OutcomeFetchError, err
		}
		res.Pages++
		e.d.Metrics.PageFetched()

		if p.PageSize != nil && *p.PageSize > 0 {
			pageSize = *p.PageSize
		}
		if p.Total != nil && *p.Total > 0 {
			total = *p.Total
		}
		log.Debug("page fetched",
			logger.Int("page", page),
			logger.Int("records", len(p.Listings)),
			logger.Int("page_size", pageSize),
			logger.Int("total", total),
		)

		if len(p.Listings) == 0 {
			break
		}
		all = append(all, p.Listings...)

		for _, l := range p.Listings {
			outcome := novelty.Classify(l, cutoff, res.SeedMode, alreadySeen)
			e.d.Metrics.Listing(outcome.String())
			switch outcome {
			case novelty.Seed:
				res.Seeded++
				added.Add(l.ID)
				additions = append(additions, l.ID)
			case novelty.Notify:
				res.Notified++
				added.Add(l.ID)
				additions = append(additions, l.ID)
				toNotify = append(toNotify, l)
			default:
				res.Skipped++
			}
		}

		if total > 0 && page*pageSize >= total {
			break
		}
		if page >= e.opts.MaxPages {
			log.Warn("page limit reached", logger.Int("pages", page))
			break
		}
	}
	res.Fetched = len(all)

	if err := e.d.Export.Write(ctx, all); err != nil {
		log.Error("export failed", logger.Error(err))
	}

	if err := ctx.Err(); err != nil {
		return metrics.OutcomeFetchError, fmt.Errorf("cycle aborted before dispatch: %w", err)
	}
	if len(toNotify) > 0 {
		res.Report = e.d.Notifier.DispatchBatch(ctx, toNotify)
		e.d.Metrics.Messages(res.Report.Delivered, res.Report.Failed, res.Report.Fallbacks)
	}

	// Posted listings must be recorded even if the cycle is cancelled mid-dispatch.
	if err := e.d.Seen.Add(context.WithoutCancel(ctx), additions); err != nil {
		log.Error("seen set not persisted; notified listings may repeat next cycle",
			logger.Int("ids", len(additions)), logger.Error(err))
		return metrics.OutcomePersistError, fmt.Errorf("persist seen set: %w", err)
	}
	res.SeenSize = len(snap.IDs) + len(added)
	return metrics.OutcomeOK, nil
}

func (e *Engine) finishOK(ctx context.Context, res Result, log logger.Logger) {
	log.Info("cycle finished",
		logger.String("since", res.Cutoff),
		logger.Int("new_jobs_posted", res.Notified),
		logger.Int("seeded", res.Seeded),
		logger.Int("fetched", res.Fetched),
		logger.Int("pages", res.Pages),
		logger.Duration("took", res.FinishedAt.Sub(res.StartedAt)),
	)
	e.d.Metrics.ObserveCycle(metrics.OutcomeOK, res.FinishedAt.Sub(res.StartedAt))
	e.d.Metrics.SeenSize(res.SeenSize)
	e.record(ctx, res, "ok", "", log)
	e.d.Events.Publish(events.MakeEvent(res.CycleID, events.TypeCycleFinished, 1, res))

	now := res.FinishedAt.Format(time.RFC3339)
	e.mu.Lock()
	e.status.LastRunAt = now
	e.status.LastOkAt = now
	e.status.LastError = ""
	e.status.Last = &res
	e.mu.Unlock()
}

func (e *Engine) finishFailed(ctx context.Context, res Result, outcome string, err error, log logger.Logger) {
	log.Error("cycle failed", logger.String("outcome", outcome), logger.Error(err))
	e.d.Metrics.ObserveCycle(outcome, res.FinishedAt.Sub(res.StartedAt))
	e.record(ctx, res, "failed", err.Error(), log)
	e.d.Events.Publish(events.MakeEvent(res.CycleID, events.TypeCycleFailed, 1, map[string]any{
		"outcome": outcome,
		"error":   err.Error(),
	}))

	e.mu.Lock()
	e.status.LastRunAt = res.FinishedAt.Format(time.RFC3339)
	e.status.LastError = err.Error()
	e.mu.Unlock()
}

func (e *Engine) record(ctx context.Context, res Result, status, errText string, log logger.Logger) {
	if e.d.History == nil {
		return
	}
	c := store.Cycle{
		ID:               res.CycleID,
		StartedAt:        res.StartedAt,
		FinishedAt:       res.FinishedAt,
		Cutoff:           res.Cutoff,
		SeedMode:         res.SeedMode,
		Pages:            res.Pages,
		Fetched:          res.Fetched,
		Notified:         res.Notified,
		Seeded:           res.Seeded,
		Messages:         res.Report.Messages,
		DeliveryFailures: res.Report.Failed,
		Status:           status,
		Error:            errText,
	}
	// History is diagnostic; a cancelled cycle still gets its row.
	if err := e.d.History.Record(context.WithoutCancel(ctx), c); err != nil {
		log.Warn("cycle history not recorded", logger.Error(err))
	}
}
