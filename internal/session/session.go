// Package session provides the authenticated transport the fetcher and the health probe
// issue requests through.
package session

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Provider performs authenticated requests against the jobs portal.
// Implementations must not retry on their own; failures surface to the caller.
type Provider interface {
	Get(ctx context.Context, rawURL string, headers http.Header, query url.Values, timeout time.Duration) (*Response, error)
	Rewarm(ctx context.Context) error
}

type Response struct {
	Status      int
	ContentType string
	Body        []byte
}
