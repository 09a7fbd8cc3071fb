package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"jobwatch-engine/internal/logger"
)

const maxBodyBytes = 16 << 20

var ErrStateMissing = errors.New("session state file not found")

// storageState is the browser storage-state JSON written by the login flow.
type storageState struct {
	Cookies []stateCookie `json:"cookies"`
}

type stateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

type StateFileConfig struct {
	StatePath  string
	TargetPage string // visited on Rewarm, also used as Referer by callers
	UserAgent  string
	Timeout    time.Duration
}

// StateFileProvider replays a saved browser session through a cookie jar.
// Requests are serialized: the portal session is stateful per browser context.
type StateFileProvider struct {
	cfg StateFileConfig
	log logger.Logger

	mu sync.Mutex
	hc *http.Client
}

func NewStateFileProvider(cfg StateFileConfig, log logger.Logger) (*StateFileProvider, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &StateFileProvider{cfg: cfg, log: log.With(logger.Component("session"))}
	if err := p.loadLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *StateFileProvider) loadLocked() error {
	b, err := os.ReadFile(p.cfg.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w at %q: run the login flow to generate it", ErrStateMissing, p.cfg.StatePath)
	}
	if err != nil {
		return fmt.Errorf("read session state: %w", err)
	}

	var st storageState
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("parse session state %q: %w", p.cfg.StatePath, err)
	}

	jar, _ := cookiejar.New(nil)
	byURL := map[string][]*http.Cookie{}
	for _, c := range st.Cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" || c.Name == "" {
			continue
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		// A leading dot means the cookie applies to subdomains too.
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		key := scheme + "://" + host + "/"
		byURL[key] = append(byURL[key], hc)
	}
	for raw, cookies := range byURL {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		jar.SetCookies(u, cookies)
	}

	p.hc = &http.Client{Jar: jar, Timeout: p.cfg.Timeout}
	p.log.Debug("session state loaded", logger.String("path", p.cfg.StatePath), logger.Int("cookies", len(st.Cookies)))
	return nil
}

func (p *StateFileProvider) Get(ctx context.Context, rawURL string, headers http.Header, query url.Values, timeout time.Duration) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	res, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("session read body: %w", err)
	}
	return &Response{
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Rewarm reloads the state file (the login flow may have refreshed it) and visits the
// target page so the portal issues any per-visit cookies.
func (p *StateFileProvider) Rewarm(ctx context.Context) error {
	p.mu.Lock()
	if err := p.loadLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	if p.cfg.TargetPage == "" {
		return nil
	}
	res, err := p.Get(ctx, p.cfg.TargetPage, http.Header{"Accept": {"text/html,*/*"}}, nil, p.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("warm session: %w", err)
	}
	if res.Status >= 400 {
		return fmt.Errorf("warm session: target page status %d", res.Status)
	}
	p.log.Info("session warmed", logger.Int("status", res.Status))
	return nil
}
