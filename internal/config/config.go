package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration. Fields tagged env can be overridden from the
// environment (or a .env file); the variable names match the original cron scripts.
type Config struct {
	App struct {
		Port     int    `yaml:"port" env:"APP_PORT"`
		DataDir  string `yaml:"data_dir" env:"DATA_DIR"`
		TimeZone string `yaml:"time_zone" env:"LOCAL_TZ"`
	} `yaml:"app"`

	Source struct {
		APIURL       string   `yaml:"api_url" env:"CHECK_URL"`
		TargetPage   string   `yaml:"target_page" env:"TARGET_PAGE"`
		Sort         string   `yaml:"sort" env:"BCIT_SORT"`
		JobType      string   `yaml:"job_type" env:"BCIT_JOB_TYPE"` // empty = all types
		StateFile    string   `yaml:"state_file" env:"STATE_FILE"`
		UserAgent    string   `yaml:"user_agent"`
		TimeoutMS    int      `yaml:"timeout_ms" env:"REQ_TIMEOUT_MS"`
		PreviewChars int      `yaml:"preview_chars"`
		ExtraFields  []string `yaml:"extra_fields"`
	} `yaml:"source"`

	Sync struct {
		PageSize            int     `yaml:"page_size" env:"BCIT_PER_PAGE"`
		RequestDelaySeconds float64 `yaml:"request_delay_seconds" env:"REQ_SLEEP"`
		MaxPages            int     `yaml:"max_pages"`
		PostSince           string  `yaml:"post_since" env:"POST_SINCE"`     // default cutoff, YYYY-MM-DD
		SeenBackend         string  `yaml:"seen_backend" env:"SEEN_BACKEND"` // file | sqlite | postgres
		SeenFile            string  `yaml:"seen_file" env:"STATE_IDS"`
		PostgresDSN         string  `yaml:"postgres_dsn" env:"PG_DSN"`
	} `yaml:"sync"`

	Notify struct {
		OfficialWebhook string `yaml:"official_webhook" env:"DISCORD_WEBHOOK_URL"`
		TestingWebhook  string `yaml:"testing_webhook" env:"TESTING_WEBHOOK_URL"`
		UseKeyring      bool   `yaml:"use_keyring"`
		MaxMessageChars int    `yaml:"max_message_chars"`
	} `yaml:"notify"`

	Schedule struct {
		Sync  string `yaml:"sync" env:"SYNC_SCHEDULE"`
		Check string `yaml:"check" env:"CHECK_SCHEDULE"`
	} `yaml:"schedule"`

	Logging struct {
		Level       string `yaml:"level" env:"LOG_LEVEL"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`

	Export struct {
		Path string `yaml:"path" env:"OUTPUT_CSV"` // .csv or .xlsx; empty disables export
	} `yaml:"export"`
}

const (
	SeenBackendFile     = "file"
	SeenBackendSQLite   = "sqlite"
	SeenBackendPostgres = "postgres"
)

func Defaults() Config {
	var c Config
	c.App.Port = 38472
	c.App.DataDir = "data"
	c.App.TimeZone = "America/Vancouver"

	c.Source.APIURL = "https://bcit-csm.symplicity.com/api/v2/jobs"
	c.Source.TargetPage = "https://bcit-csm.symplicity.com/students/app/jobs/search?perPage=20&page=1&sort=!postdate"
	c.Source.Sort = "!postdate"
	c.Source.StateFile = "state.json"
	c.Source.UserAgent = "Mozilla/5.0"
	c.Source.TimeoutMS = 20000
	c.Source.PreviewChars = 350

	c.Sync.PageSize = 20
	c.Sync.RequestDelaySeconds = 0.4
	c.Sync.MaxPages = 500
	c.Sync.SeenBackend = SeenBackendFile
	c.Sync.SeenFile = "seen_job_ids.json"

	c.Notify.MaxMessageChars = 1900

	c.Schedule.Sync = "@every 30m"
	c.Schedule.Check = "0 */6 * * *"

	c.Logging.Level = "info"

	c.Export.Path = "bcit_jobs.csv"
	return c
}

// Load reads .env files, then the YAML file over Defaults, then environment overrides.
// A missing YAML file is not an error; defaults and environment still apply.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if err := loadEnvFiles(); err != nil {
		return cfg, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	ApplyEnv(&cfg)
	return cfg, nil
}

func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Sync.RequestDelaySeconds * float64(time.Second))
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutMS) * time.Millisecond
}

// Location falls back to UTC when the zone is unknown; validation reports that case.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
