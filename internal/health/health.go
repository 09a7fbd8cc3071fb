// Package health checks that the saved portal session still works and reports the
// result on the diagnostic channel.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"jobwatch-engine/internal/events"
	"jobwatch-engine/internal/fetch"
	"jobwatch-engine/internal/logger"
	"jobwatch-engine/internal/metrics"
	"jobwatch-engine/internal/notify"
)

// SessionInvalidError means the API still rejected the session after a rewarm.
type SessionInvalidError struct {
	Status      int
	ContentType string
	Preview     string
	Err         error // rewarm failure, if that is what stopped the check
}

func (e *SessionInvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session invalid: rewarm failed: %v", e.Err)
	}
	return fmt.Sprintf("session invalid: HTTP %d %s", e.Status, e.ContentType)
}

func (e *SessionInvalidError) Unwrap() error { return e.Err }

type Prober interface {
	Probe(ctx context.Context) (fetch.ProbeResult, error)
}

type Rewarmer interface {
	Rewarm(ctx context.Context) error
}

type Reporter interface {
	ReportHealth(ctx context.Context, text string) notify.Result
}

type Deps struct {
	Prober   Prober
	Session  Rewarmer
	Reporter Reporter
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Log      logger.Logger
	Location *time.Location // timestamps in reports
	Now      func() time.Time
}

type Outcome struct {
	OK       bool               `json:"ok"`
	Rewarmed bool               `json:"rewarmed"`
	First    fetch.ProbeResult  `json:"first"`
	Second   *fetch.ProbeResult `json:"second,omitempty"`
	At       time.Time          `json:"at"`
	Error    string             `json:"error,omitempty"`
}

type Checker struct {
	d    Deps
	log  logger.Logger
	last atomic.Pointer[Outcome]
}

func NewChecker(d Deps) *Checker {
	if d.Events == nil {
		d.Events = events.Nop
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Checker{d: d, log: d.Log.With(logger.Component("health"))}
}

// Last returns the most recent outcome, or nil before the first check.
func (c *Checker) Last() *Outcome { return c.last.Load() }

// Check probes the API; on failure it rewarms the session once and probes again.
// Every step is reported on the diagnostic channel.
func (c *Checker) Check(ctx context.Context) (Outcome, error) {
	out := Outcome{At: c.d.Now()}
	stamp := out.At.In(c.d.Location).Format(time.DateTime)

	out, err := c.check(ctx, out, stamp)
	if err != nil {
		out.Error = err.Error()
	}
	c.last.Store(&out)

	result := "ok"
	switch {
	case out.OK && out.Rewarmed:
		result = "recovered"
	case !out.OK:
		result = "failed"
	}
	c.d.Metrics.HealthCheck(result)
	c.d.Events.Publish(events.MakeEvent("", events.TypeSessionChecked, 1, out))
	return out, err
}

func (c *Checker) check(ctx context.Context, out Outcome, stamp string) (Outcome, error) {
	first, err := c.d.Prober.Probe(ctx)
	if err != nil {
		c.report(ctx, fmt.Sprintf("ERROR: session check exception\n- Time: %s\n- Error: `%v`", stamp, err))
		return out, fmt.Errorf("session probe: %w", err)
	}
	out.First = first

	if first.OK {
		out.OK = true
		c.log.Info("session ok", logger.Int("status", first.Status), logger.Int("bytes", first.Bytes))
		c.report(ctx, fmt.Sprintf("OK: session check\n- Time: %s\n- Status: %d\n- Bytes: %d", stamp, first.Status, first.Bytes))
		return out, nil
	}

	c.log.Warn("session probe failed", logger.Int("status", first.Status), logger.String("content_type", first.ContentType))
	c.report(ctx, fmt.Sprintf("FAILED: session check\n- Time: %s\n- Status: %d\n- JSON: %s\n- Body: `%s`\n- Will attempt to rewarm the session.",
		stamp, first.Status, first.ContentType, first.Preview))

	out.Rewarmed = true
	if err := c.d.Session.Rewarm(ctx); err != nil {
		c.report(ctx, fmt.Sprintf("ERROR: session rewarm failed\n- Time: %s\n- Error: `%v`", stamp, err))
		return out, &SessionInvalidError{Status: first.Status, ContentType: first.ContentType, Preview: first.Preview, Err: err}
	}

	second, err := c.d.Prober.Probe(ctx)
	if err != nil {
		c.report(ctx, fmt.Sprintf("ERROR: session check exception after rewarm\n- Time: %s\n- Error: `%v`", stamp, err))
		return out, fmt.Errorf("session probe after rewarm: %w", err)
	}
	out.Second = &second

	if second.OK {
		out.OK = true
		c.log.Info("session recovered after rewarm", logger.Int("status", second.Status))
		c.report(ctx, fmt.Sprintf("OK: session check after rewarm\n- Time: %s\n- Status: %d\n- Bytes: %d", stamp, second.Status, second.Bytes))
		return out, nil
	}

	c.report(ctx, fmt.Sprintf("FAILED: session check still failing after rewarm\n- Time: %s\n- Status: %d\n- JSON: %s\n- Body: `%s`",
		stamp, second.Status, second.ContentType, second.Preview))
	return out, &SessionInvalidError{Status: second.Status, ContentType: second.ContentType, Preview: second.Preview}
}

func (c *Checker) report(ctx context.Context, text string) {
	if c.d.Reporter == nil {
		return
	}
	c.d.Reporter.ReportHealth(ctx, text)
}

// IsSessionInvalid reports whether err came from a failed session check.
func IsSessionInvalid(err error) bool {
	var sie *SessionInvalidError
	return errors.As(err, &sie)
}
