package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"jobwatch-engine/internal/secrets"
)

type SecretsHandler struct {
	SetWebhook func(channel, url string) error
}

type setWebhookReq struct {
	Channel string `json:"channel"`
	URL     string `json:"url"`
}

// SetWebhook stores a webhook URL in the OS keychain. It takes effect on the next start
// when notify.use_keyring is enabled.
func (h SecretsHandler) SetWebhook(w http.ResponseWriter, r *http.Request) {
	var req setWebhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}

	if err := h.SetWebhook(req.Channel, req.URL); err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, secrets.ErrUnknownChannel) && !errors.Is(err, secrets.ErrInvalidWebhook) {
			status = http.StatusInternalServerError
		}
		WriteError(w, r, status, "store_failed", "failed to store webhook: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
