// Package novelty decides whether a fetched listing should be notified, silently
// recorded as backlog, or ignored.
package novelty

import (
	"fmt"
	"strings"
	"time"

	"jobwatch-engine/internal/domain"
)

type Outcome int

const (
	Skip Outcome = iota
	Seed
	Notify
)

func (o Outcome) String() string {
	switch o {
	case Seed:
		return "seed"
	case Notify:
		return "notify"
	default:
		return "skip"
	}
}

// postedLayouts are the date formats the jobs API renders postdate with.
var postedLayouts = []string{
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParsePostedDate parses "Aug 12, 2025" / "August 12, 2025". The result is a UTC midnight.
func ParsePostedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range postedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Classify applies the novelty rules to one listing.
// Anything whose posted date does not parse is never new enough to notify.
func Classify(l domain.Listing, cutoff time.Time, seedMode bool, alreadySeen func(id string) bool) Outcome {
	if l.ID == "" {
		return Skip
	}
	if alreadySeen != nil && alreadySeen(l.ID) {
		return Skip
	}

	posted, ok := ParsePostedDate(l.PostedDate)
	newEnough := ok && !posted.Before(dateOnly(cutoff))

	switch {
	case seedMode && !newEnough:
		return Seed
	case newEnough:
		return Notify
	default:
		return Skip
	}
}

// ResolveCutoff picks the cutoff date: explicit override, then the configured default,
// then today in tzName.
func ResolveCutoff(override, configured, tzName string, now time.Time) (time.Time, error) {
	for _, raw := range []string{override, configured} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cutoff date %q (want YYYY-MM-DD): %w", raw, err)
		}
		return t, nil
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return time.Time{}, fmt.Errorf("load time zone %q: %w", tzName, err)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}

// dateOnly drops the clock part so comparisons are by calendar day.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
