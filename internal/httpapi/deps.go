package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"

	"jobwatch-engine/internal/config"
	"jobwatch-engine/internal/events"
	"jobwatch-engine/internal/health"
	"jobwatch-engine/internal/logger"
	"jobwatch-engine/internal/store"
	"jobwatch-engine/internal/syncer"
)

type Deps struct {
	Hub *events.Hub

	// Atomic store
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// Sync and session entrypoints (inject for testability)
	SyncStatus   func() syncer.Status
	RunSync      func(ctx context.Context) error
	CheckSession func(ctx context.Context) (*health.Outcome, error)
	ListCycles   func(ctx context.Context, limit int) ([]store.Cycle, error)

	// Secrets
	SetWebhook func(channel, url string) error

	Metrics http.Handler
	Log     logger.Logger

	// BaseCtx outlives requests; background runs started over HTTP use it.
	BaseCtx context.Context
}
