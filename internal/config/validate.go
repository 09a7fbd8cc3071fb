package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobwatch-engine/internal/notify"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("config validation failed:\n- %s", strings.Join(v.Errors, "\n- "))
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NormalizeAndValidate returns a trimmed copy of cfg and what is wrong with it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	trim := func(s *string) { *s = strings.TrimSpace(*s) }
	trim(&out.App.TimeZone)
	trim(&out.Source.APIURL)
	trim(&out.Source.TargetPage)
	trim(&out.Source.JobType)
	trim(&out.Sync.PostSince)
	trim(&out.Notify.OfficialWebhook)
	trim(&out.Notify.TestingWebhook)
	out.Sync.SeenBackend = strings.ToLower(strings.TrimSpace(out.Sync.SeenBackend))
	out.Source.ExtraFields = trimList(out.Source.ExtraFields)

	// ---- app ----
	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}
	if _, err := time.LoadLocation(out.App.TimeZone); err != nil || out.App.TimeZone == "" {
		res.addErr("app.time_zone %q is not a known time zone", out.App.TimeZone)
	}

	// ---- source ----
	checkURL := func(name, raw string) {
		u, err := url.Parse(raw)
		if raw == "" || err != nil || u.Scheme == "" || u.Host == "" {
			res.addErr("%s must be an absolute URL", name)
		}
	}
	checkURL("source.api_url", out.Source.APIURL)
	checkURL("source.target_page", out.Source.TargetPage)
	if out.Source.StateFile == "" {
		res.addErr("source.state_file is required")
	}
	if out.Source.TimeoutMS <= 0 {
		res.addErr("source.timeout_ms must be > 0")
	}
	if out.Source.PreviewChars < 2 {
		res.addErr("source.preview_chars must be >= 2")
	}

	// ---- sync ----
	if out.Sync.PageSize <= 0 {
		res.addErr("sync.page_size must be > 0")
	} else if out.Sync.PageSize > 100 {
		res.addWarn("sync.page_size is %d; the portal may cap it and report a smaller size.", out.Sync.PageSize)
	}
	if out.Sync.RequestDelaySeconds < 0 {
		res.addErr("sync.request_delay_seconds must be >= 0")
	} else if out.Sync.RequestDelaySeconds < 0.2 {
		res.addWarn("sync.request_delay_seconds is very low (%.2f) and may trip rate limits.", out.Sync.RequestDelaySeconds)
	}
	if out.Sync.MaxPages <= 0 {
		res.addErr("sync.max_pages must be > 0")
	}
	if out.Sync.PostSince != "" {
		if _, err := time.Parse(time.DateOnly, out.Sync.PostSince); err != nil {
			res.addErr("sync.post_since %q must be YYYY-MM-DD", out.Sync.PostSince)
		}
	}
	switch out.Sync.SeenBackend {
	case SeenBackendFile:
		if out.Sync.SeenFile == "" {
			res.addErr("sync.seen_file is required for the file backend")
		}
	case SeenBackendSQLite:
	case SeenBackendPostgres:
		if out.Sync.PostgresDSN == "" {
			res.addErr("sync.postgres_dsn is required for the postgres backend")
		}
	default:
		res.addErr("sync.seen_backend must be one of file, sqlite, postgres (got %q)", out.Sync.SeenBackend)
	}

	// ---- notify ----
	if out.Notify.MaxMessageChars < notify.MinMessageChars || out.Notify.MaxMessageChars > 2000 {
		res.addErr("notify.max_message_chars must be %d..2000", notify.MinMessageChars)
	}
	if out.Notify.OfficialWebhook == "" && !out.Notify.UseKeyring {
		res.addWarn("notify.official_webhook is empty; new jobs will not be announced.")
	}
	if out.Notify.TestingWebhook == "" && !out.Notify.UseKeyring {
		res.addWarn("notify.testing_webhook is empty; delivery failures and session checks go unreported.")
	}

	// ---- schedule ----
	for name, spec := range map[string]string{"schedule.sync": out.Schedule.Sync, "schedule.check": out.Schedule.Check} {
		if _, err := scheduleParser.Parse(spec); err != nil {
			res.addErr("%s %q is not a valid cron spec", name, spec)
		}
	}

	// ---- logging ----
	switch strings.ToLower(out.Logging.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		res.addWarn("logging.level %q is unknown; using info.", out.Logging.Level)
	}

	return out, res
}

func trimList(xs []string) []string {
	seen := map[string]bool{}
	var ys []string
	for _, x := range xs {
		x = strings.TrimSpace(x)
		if x == "" || seen[x] {
			continue
		}
		seen[x] = true
		ys = append(ys, x)
	}
	return ys
}
