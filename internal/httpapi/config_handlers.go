package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync/atomic"

	"jobwatch-engine/internal/config"
)

// redacted replaces secrets in GET /config; a PUT carrying it keeps the stored value.
const redacted = "********"

type ConfigHandler struct {
	CfgVal      *atomic.Value // stores config.Config
	UserCfgPath string
	LoadCfg     func() (config.Config, error)
}

func (h ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cur := h.CfgVal.Load().(config.Config)
	writeJSON(w, redact(cur))
}

// Put validates and saves the config file. Running components keep their settings until
// the engine restarts.
func (h ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var incoming config.Config
	if err := dec.Decode(&incoming); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	if dec.More() {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON: trailing data")
		return
	}

	cur := h.CfgVal.Load().(config.Config)
	incoming = keepSecrets(incoming, cur)

	normalized, vr := config.NormalizeAndValidate(incoming)
	if !vr.OK() {
		// Return structured errors so the UI can show them nicely
		WriteJSON(w, http.StatusBadRequest, vr)
		return
	}

	if err := config.SaveAtomic(h.UserCfgPath, normalized); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "save_failed", err.Error())
		return
	}

	saved, err := h.LoadCfg()
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "reload_failed", "saved but reload failed: "+err.Error())
		return
	}
	h.CfgVal.Store(saved)
	writeJSON(w, redact(saved))
}

func (h ConfigHandler) Path(w http.ResponseWriter, r *http.Request) {
	abs, _ := filepath.Abs(h.UserCfgPath)
	writeJSON(w, map[string]any{"path": abs})
}

func (h ConfigHandler) Validate(w http.ResponseWriter, r *http.Request) {
	cur := h.CfgVal.Load().(config.Config)
	_, vr := config.NormalizeAndValidate(cur)
	writeJSON(w, vr)
}

func redact(cfg config.Config) config.Config {
	for _, s := range secretFields(&cfg) {
		if *s != "" {
			*s = redacted
		}
	}
	return cfg
}

func keepSecrets(incoming, cur config.Config) config.Config {
	in, old := secretFields(&incoming), secretFields(&cur)
	for i := range in {
		if *in[i] == redacted {
			*in[i] = *old[i]
		}
	}
	return incoming
}

func secretFields(cfg *config.Config) []*string {
	return []*string{
		&cfg.Notify.OfficialWebhook,
		&cfg.Notify.TestingWebhook,
		&cfg.Sync.PostgresDSN,
	}
}
