package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const webhookTimeout = 15 * time.Second

// Channel delivers one text payload per call.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, text string) Result
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Status  int
	Body    string
	Err     error
	Skipped bool // channel not configured
}

func (r Result) OK() bool {
	if r.Skipped {
		return true
	}
	return r.Err == nil && r.Status > 0 && r.Status < 300
}

// WebhookChannel posts {"content": text} to a Discord-style webhook.
// An empty URL makes every delivery a skipped no-op.
type WebhookChannel struct {
	name string
	url  string
	hc   *http.Client
}

func NewWebhook(name, url string, hc *http.Client) *WebhookChannel {
	if hc == nil {
		hc = &http.Client{Timeout: webhookTimeout}
	}
	return &WebhookChannel{name: name, url: strings.TrimSpace(url), hc: hc}
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) Configured() bool { return w.url != "" }

func (w *WebhookChannel) Deliver(ctx context.Context, text string) Result {
	if w.url == "" {
		return Result{Skipped: true}
	}

	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return Result{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return Result{Err: fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.hc.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("post webhook %s: %w", w.name, err)}
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	return Result{Status: res.StatusCode, Body: string(body)}
}

type nopChannel struct{ name string }

func (n nopChannel) Name() string                           { return n.name }
func (n nopChannel) Deliver(context.Context, string) Result { return Result{Skipped: true} }
