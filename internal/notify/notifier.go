// Package notify turns newly found listings into chat messages and delivers them through
// a primary channel, falling back to a secondary channel with a diagnostic.
package notify

import (
	"context"
	"fmt"

	"jobwatch-engine/internal/domain"
	"jobwatch-engine/internal/logger"
)

const (
	DefaultMaxMessageChars = 1900
	diagnosticBodyChars    = 300
)

type Options struct {
	// MaxMessageChars bounds each message in runes. Zero means DefaultMaxMessageChars;
	// values below MinMessageChars are raised to it.
	MaxMessageChars int
	TargetPage      string // base for deep links
}

// Report summarizes one dispatch. Failures never propagate as errors.
type Report struct {
	Messages  int `json:"messages"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Fallbacks int `json:"fallbacks"`
}

type Notifier struct {
	primary   Channel
	secondary Channel
	opts      Options
	log       logger.Logger
}

// New composes the two channels. A nil channel behaves as an unconfigured one.
func New(primary, secondary Channel, opts Options, log logger.Logger) *Notifier {
	if primary == nil {
		primary = nopChannel{name: "official"}
	}
	if secondary == nil {
		secondary = nopChannel{name: "testing"}
	}
	if log == nil {
		log = logger.NewNop()
	}
	switch {
	case opts.MaxMessageChars <= 0:
		opts.MaxMessageChars = DefaultMaxMessageChars
	case opts.MaxMessageChars < MinMessageChars:
		log.Warn("message limit below minimum, raised",
			logger.Int("requested", opts.MaxMessageChars), logger.Int("effective", MinMessageChars))
		opts.MaxMessageChars = MinMessageChars
	}
	return &Notifier{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		log:       log.With(logger.Component("notify")),
	}
}

func (n *Notifier) Batch(listings []domain.Listing) []string {
	return Batch(listings, n.opts.MaxMessageChars, n.opts.TargetPage)
}

func (n *Notifier) DispatchBatch(ctx context.Context, listings []domain.Listing) Report {
	msgs := n.Batch(listings)
	rep := Report{Messages: len(msgs)}

	for i, msg := range msgs {
		res := n.primary.Deliver(ctx, msg)
		if res.OK() {
			if !res.Skipped {
				rep.Delivered++
			}
			continue
		}

		rep.Failed++
		n.log.Warn("primary delivery failed",
			logger.String("channel", n.primary.Name()),
			logger.Int("message", i+1),
			logger.Int("status", res.Status),
			logger.Error(res.Err),
		)

		fb := n.secondary.Deliver(ctx, diagnostic(n.primary.Name(), res))
		if fb.Skipped {
			continue
		}
		rep.Fallbacks++
		if !fb.OK() {
			n.log.Error("fallback delivery failed",
				logger.String("channel", n.secondary.Name()),
				logger.Int("status", fb.Status),
				logger.Error(fb.Err),
			)
		}
	}

	if rep.Messages > 0 {
		n.log.Info("dispatch finished",
			logger.Int("messages", rep.Messages),
			logger.Int("delivered", rep.Delivered),
			logger.Int("failed", rep.Failed),
		)
	}
	return rep
}

// ReportHealth posts an operational message on the secondary channel.
func (n *Notifier) ReportHealth(ctx context.Context, text string) Result {
	res := n.secondary.Deliver(ctx, text)
	if !res.OK() {
		n.log.Warn("health report delivery failed",
			logger.String("channel", n.secondary.Name()),
			logger.Int("status", res.Status),
			logger.Error(res.Err),
		)
	}
	return res
}

func diagnostic(channel string, res Result) string {
	body := res.Body
	if res.Err != nil {
		body = res.Err.Error()
	}
	return fmt.Sprintf("Delivery failed\n- Channel: %s\n- Status: %d\n- Body: %s",
		channel, res.Status, firstRunes(body, diagnosticBodyChars))
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
