package httpapi

import (
	"context"
	"net/http"

	"jobwatch-engine/internal/logger"
)

// NewMux registers every route on a fresh mux.
func NewMux(d Deps) *http.ServeMux {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.BaseCtx == nil {
		d.BaseCtx = context.Background()
	}

	mux := http.NewServeMux()

	hh := HealthHandler{}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))

	// Sync
	sh := SyncHandler{
		Status:     d.SyncStatus,
		Run:        d.RunSync,
		ListCycles: d.ListCycles,
		BaseCtx:    d.BaseCtx,
		Log:        d.Log,
	}
	mux.HandleFunc("/sync/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.GetStatus,
	}))
	mux.HandleFunc("/sync/run", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.RunNow,
	}))
	mux.HandleFunc("/cycles", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.Cycles,
	}))

	// Session
	ssh := SessionHandler{Check: d.CheckSession}
	mux.HandleFunc("/session/check", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: ssh.CheckNow,
	}))

	// Config
	ch := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
	}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Get,
		http.MethodPut: ch.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Path,
	}))
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Validate,
	}))

	// Secrets
	if d.SetWebhook != nil {
		sech := SecretsHandler{SetWebhook: d.SetWebhook}
		mux.HandleFunc("/api/secrets/webhook", methodMux(map[string]http.HandlerFunc{
			http.MethodPost: sech.SetWebhook,
		}))
	}

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}

	return mux
}

// NewHandler wraps the mux in the standard middleware chain.
func NewHandler(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(logger.Component("http"))
	return Chain(NewMux(d), RequestID, Recover(log), AccessLog(log), Cors)
}
