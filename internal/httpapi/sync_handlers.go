package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"jobwatch-engine/internal/health"
	"jobwatch-engine/internal/logger"
	"jobwatch-engine/internal/scheduler"
	"jobwatch-engine/internal/store"
	"jobwatch-engine/internal/syncer"
)

const defaultCyclesLimit = 50

type SyncHandler struct {
	Status     func() syncer.Status
	Run        func(ctx context.Context) error
	ListCycles func(ctx context.Context, limit int) ([]store.Cycle, error)
	BaseCtx    context.Context
	Log        logger.Logger
}

func (h SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Status())
}

// RunNow starts a cycle in the background and answers immediately.
func (h SyncHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	if h.Status().Running {
		WriteError(w, r, http.StatusConflict, "busy", "sync already running")
		return
	}

	reqID := RequestIDFrom(r.Context())
	go func() {
		err := h.Run(h.BaseCtx)
		switch {
		case err == nil:
		case errors.Is(err, syncer.ErrCycleRunning), errors.Is(err, scheduler.ErrBusy):
			h.Log.Warn("manual sync skipped, busy", logger.String("request_id", reqID))
		default:
			h.Log.Error("manual sync failed", logger.String("request_id", reqID), logger.Error(err))
		}
	}()

	WriteJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h SyncHandler) Cycles(w http.ResponseWriter, r *http.Request) {
	limit := defaultCyclesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, r, http.StatusBadRequest, "bad_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	cycles, err := h.ListCycles(r.Context(), limit)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if cycles == nil {
		cycles = []store.Cycle{}
	}
	writeJSON(w, cycles)
}

type SessionHandler struct {
	Check func(ctx context.Context) (*health.Outcome, error)
}

// CheckNow probes the session synchronously. 503 means the session is still invalid.
func (h SessionHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	out, err := h.Check(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		WriteError(w, r, http.StatusConflict, "busy", "another task is running, try again shortly")
		return
	}
	if out == nil {
		msg := "session check failed"
		if err != nil {
			msg = err.Error()
		}
		WriteError(w, r, http.StatusBadGateway, "check_failed", msg)
		return
	}
	status := http.StatusOK
	if !out.OK {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, out)
}
