package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobwatch-engine/internal/domain"
	"jobwatch-engine/internal/session"
)

const snippetChars = 300

type Config struct {
	APIURL       string
	TargetPage   string // Referer, and base of deep links
	Sort         string
	JobType      string // empty = all types
	UserAgent    string
	Timeout      time.Duration
	PreviewChars int
	ExtraFields  []string
}

// Page is one decoded API page. Total and PageSize are nil when the API omitted them.
type Page struct {
	Listings []domain.Listing
	Total    *int
	PageSize *int
}

type Fetcher struct {
	cfg     Config
	session session.Provider
}

func New(cfg Config, sp session.Provider) *Fetcher {
	if cfg.Sort == "" {
		cfg.Sort = "!postdate"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Fetcher{cfg: cfg, session: sp}
}

type apiPage struct {
	Total   any              `json:"total"`
	PerPage any              `json:"perPage"`
	Models  []map[string]any `json:"models"`
}

// FetchPage requests one page (1-indexed) and normalizes its records.
func (f *Fetcher) FetchPage(ctx context.Context, pageNumber, pageSize int) (Page, error) {
	if pageNumber < 1 {
		return Page{}, fmt.Errorf("page number must be >= 1, got %d", pageNumber)
	}
	if pageSize <= 0 {
		return Page{}, fmt.Errorf("page size must be > 0, got %d", pageSize)
	}

	res, err := f.session.Get(ctx, f.cfg.APIURL, f.headers(), f.query(pageNumber, pageSize), f.cfg.Timeout)
	if err != nil {
		return Page{}, &Error{Page: pageNumber, Err: err}
	}
	if !isJSONOK(res) {
		return Page{}, &Error{
			Page:        pageNumber,
			Status:      res.Status,
			ContentType: res.ContentType,
			Snippet:     snippet(res.Body),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(res.Body))
	dec.UseNumber()
	var raw apiPage
	if err := dec.Decode(&raw); err != nil {
		return Page{}, &Error{
			Page:        pageNumber,
			Status:      res.Status,
			ContentType: res.ContentType,
			Snippet:     snippet(res.Body),
			Err:         fmt.Errorf("decode page: %w", err),
		}
	}

	out := Page{Total: intPtr(raw.Total), PageSize: intPtr(raw.PerPage)}
	effective := pageSize
	if out.PageSize != nil && *out.PageSize > 0 {
		effective = *out.PageSize
	}
	opts := NormalizeOptions{PreviewChars: f.cfg.PreviewChars, ExtraFields: f.cfg.ExtraFields}
	out.Listings = make([]domain.Listing, 0, len(raw.Models))
	for _, m := range raw.Models {
		out.Listings = append(out.Listings, Normalize(m, pageNumber, effective, opts))
	}
	return out, nil
}

// ProbeResult describes a single lightweight API request used to check the session.
type ProbeResult struct {
	OK          bool
	Status      int
	ContentType string
	Bytes       int
	Preview     string
}

// Probe asks for a one-record page and reports what came back without failing on
// non-JSON or non-200 responses. Transport errors are returned as errors.
func (f *Fetcher) Probe(ctx context.Context) (ProbeResult, error) {
	res, err := f.session.Get(ctx, f.cfg.APIURL, f.headers(), f.query(0, 1), f.cfg.Timeout)
	if err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{
		OK:          isJSONOK(res),
		Status:      res.Status,
		ContentType: res.ContentType,
		Bytes:       len(res.Body),
		Preview:     snippet(res.Body),
	}, nil
}

func (f *Fetcher) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("x-requested-system-user", "students")
	h.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.TargetPage != "" {
		h.Set("Referer", f.cfg.TargetPage)
	}
	return h
}

// query builds the jobs API parameters; page 0 leaves the page parameter out.
func (f *Fetcher) query(pageNumber, pageSize int) url.Values {
	q := url.Values{}
	q.Set("perPage", strconv.Itoa(pageSize))
	if pageNumber > 0 {
		q.Set("page", strconv.Itoa(pageNumber))
	}
	q.Set("sort", f.cfg.Sort)
	q.Set("json_mode", "read_only")
	q.Set("enable_translation", "false")
	if jt := strings.TrimSpace(f.cfg.JobType); jt != "" {
		q.Set("job_type", jt)
	}
	return q
}

func isJSONOK(res *session.Response) bool {
	return res.Status == http.StatusOK && strings.HasPrefix(strings.ToLower(res.ContentType), "application/json")
}

func snippet(b []byte) string {
	s := string(b)
	r := []rune(s)
	if len(r) > snippetChars {
		s = string(r[:snippetChars])
	}
	return strings.ReplaceAll(s, "\n", " ")
}

func intPtr(v any) *int {
	s := asString(v)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		n = int(f)
	}
	return &n
}
