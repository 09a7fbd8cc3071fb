package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch-engine/internal/session"
)

type fakeSession struct {
	res     *session.Response
	err     error
	lastURL string
	headers http.Header
	query   url.Values
}

func (f *fakeSession) Get(_ context.Context, rawURL string, headers http.Header, query url.Values, _ time.Duration) (*session.Response, error) {
	f.lastURL = rawURL
	f.headers = headers
	f.query = query
	return f.res, f.err
}

func (f *fakeSession) Rewarm(context.Context) error { return nil }

func jsonResponse(body string) *session.Response {
	return &session.Response{Status: http.StatusOK, ContentType: "application/json; charset=utf-8", Body: []byte(body)}
}

func TestFetchPageQueryAndHeaders(t *testing.T) {
	testCases := []struct {
		name        string
		jobType     string
		wantJobType bool
	}{
		{name: "type filter omitted when unset", jobType: "", wantJobType: false},
		{name: "type filter sent when set", jobType: "2", wantJobType: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeSession{res: jsonResponse(`{"total":0,"models":[]}`)}
			f := New(Config{APIURL: "https://portal.example/api/v2/jobs", TargetPage: "https://portal.example/jobs", JobType: tc.jobType}, fs)

			_, err := f.FetchPage(context.Background(), 3, 20)
			require.NoError(t, err)

			assert.Equal(t, "https://portal.example/api/v2/jobs", fs.lastURL)
			assert.Equal(t, "20", fs.query.Get("perPage"))
			assert.Equal(t, "3", fs.query.Get("page"))
			assert.Equal(t, "!postdate", fs.query.Get("sort"))
			assert.Equal(t, "read_only", fs.query.Get("json_mode"))
			assert.Equal(t, "false", fs.query.Get("enable_translation"))
			_, has := fs.query["job_type"]
			assert.Equal(t, tc.wantJobType, has)

			assert.Equal(t, "students", fs.headers.Get("x-requested-system-user"))
			assert.Equal(t, "https://portal.example/jobs", fs.headers.Get("Referer"))
			assert.Contains(t, fs.headers.Get("Accept"), "application/json")
		})
	}
}

func TestFetchPageDecodesTotalsAndListings(t *testing.T) {
	body := `{"total":"25","perPage":20,"models":[
		{"job_id":"abc","job_title":"Junior Dev","name":"Acme","postdate":"Aug 12, 2025","job_type":["Co-op","Full Time"]},
		{"job_id":12345,"job_title":"Analyst"}
	]}`
	f := New(Config{}, &fakeSession{res: jsonResponse(body)})

	page, err := f.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)

	require.NotNil(t, page.Total)
	assert.Equal(t, 25, *page.Total)
	require.NotNil(t, page.PageSize)
	assert.Equal(t, 20, *page.PageSize)
	require.Len(t, page.Listings, 2)

	assert.Equal(t, "abc", page.Listings[0].ID)
	assert.Equal(t, "Co-op, Full Time", page.Listings[0].TypeDisplay())
	assert.Equal(t, 20, page.Listings[0].PageSize)
	assert.Equal(t, 1, page.Listings[0].PageNumber)
	assert.Equal(t, "12345", page.Listings[1].ID)
}

func TestFetchPageOmittedTotals(t *testing.T) {
	f := New(Config{}, &fakeSession{res: jsonResponse(`{"models":[{"job_id":"a"}]}`)})

	page, err := f.FetchPage(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Nil(t, page.Total)
	assert.Nil(t, page.PageSize)
	assert.Equal(t, 10, page.Listings[0].PageSize)
}

func TestFetchPageErrors(t *testing.T) {
	testCases := []struct {
		name       string
		res        *session.Response
		err        error
		wantStatus int
	}{
		{
			name:       "login page instead of json",
			res:        &session.Response{Status: http.StatusOK, ContentType: "text/html", Body: []byte("<html>\nSign in</html>")},
			wantStatus: http.StatusOK,
		},
		{
			name:       "forbidden",
			res:        &session.Response{Status: http.StatusForbidden, ContentType: "application/json", Body: []byte(`{"error":"denied"}`)},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "bad json",
			res:        jsonResponse(`{"models":`),
			wantStatus: http.StatusOK,
		},
		{
			name: "transport",
			err:  errors.New("connection reset"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := New(Config{}, &fakeSession{res: tc.res, err: tc.err})
			_, err := f.FetchPage(context.Background(), 2, 20)
			require.Error(t, err)

			var fe *Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.wantStatus, fe.Status)
			assert.Equal(t, 2, fe.Page)
			assert.NotContains(t, fe.Snippet, "\n")
		})
	}
}

func TestFetchPageRejectsBadArguments(t *testing.T) {
	f := New(Config{}, &fakeSession{res: jsonResponse(`{}`)})
	_, err := f.FetchPage(context.Background(), 0, 20)
	require.Error(t, err)
	_, err = f.FetchPage(context.Background(), 1, 0)
	require.Error(t, err)
}

func TestErrorSnippetBounded(t *testing.T) {
	long := strings.Repeat("x", 1000)
	f := New(Config{}, &fakeSession{res: &session.Response{Status: 500, ContentType: "text/plain", Body: []byte(long)}})
	_, err := f.FetchPage(context.Background(), 1, 20)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Len(t, fe.Snippet, snippetChars)
	assert.Contains(t, fe.Error(), "HTTP 500 text/plain")
}

func TestProbe(t *testing.T) {
	fs := &fakeSession{res: jsonResponse(`{"total":1,"models":[{}]}`)}
	f := New(Config{}, fs)

	res, err := f.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "1", fs.query.Get("perPage"))
	assert.Empty(t, fs.query.Get("page"))
	assert.Positive(t, res.Bytes)

	fs.res = &session.Response{Status: http.StatusUnauthorized, ContentType: "text/html", Body: []byte("login")}
	res, err = f.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "login", res.Preview)
}
