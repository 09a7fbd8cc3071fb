package fetch

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFullRecord(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"job_id": "5f1",
		"job_title": "Network Technician",
		"name": "Telus",
		"job_location": "Burnaby, BC",
		"postdate": "Aug 12, 2025",
		"deadline": "Sep 1, 2025",
		"job_type": ["Co-op"],
		"symp_remote_onsite": {"_id": "hybrid", "label": "Hybrid"},
		"compensation_from": 22.5,
		"compensation_to": "28",
		"compensation_frequency": "hourly",
		"job_desc": "<p>Hello <b>world</b></p><script>alert(1)</script><ul><li>one</li><li>two</li></ul>",
		"visual_id": 4411,
		"division": "IT"
	}`), &raw))

	l := Normalize(raw, 2, 20, NormalizeOptions{ExtraFields: []string{"division", "missing"}})

	assert.Equal(t, "5f1", l.ID)
	assert.Equal(t, "Network Technician", l.Title)
	assert.Equal(t, "Telus", l.Organization)
	assert.Equal(t, "Burnaby, BC", l.Location)
	assert.Equal(t, "Aug 12, 2025", l.PostedDate)
	assert.Equal(t, "Sep 1, 2025", l.Deadline)
	assert.Equal(t, "Co-op", l.TypeDisplay())
	assert.Equal(t, "Hybrid", l.RemoteLabel)
	assert.Equal(t, "22.5", l.Compensation.From)
	assert.Equal(t, "28", l.Compensation.To)
	assert.Equal(t, "hourly", l.Compensation.Frequency)
	assert.Equal(t, "Hello world one two", l.DescriptionPreview)
	assert.Equal(t, "4411", l.VisualID)
	assert.Equal(t, 2, l.PageNumber)
	assert.Equal(t, 20, l.PageSize)
	assert.Equal(t, map[string]string{"division": "IT"}, l.Extra)
}

func TestNormalizeToleratesMissingFields(t *testing.T) {
	l := Normalize(map[string]any{"job_id": "x"}, 1, 20, NormalizeOptions{})

	assert.Equal(t, "x", l.ID)
	assert.Empty(t, l.Title)
	assert.Empty(t, l.TypeTags)
	assert.Empty(t, l.RemoteLabel)
	assert.False(t, l.Compensation.Present())
	assert.Empty(t, l.DescriptionPreview)
	assert.Nil(t, l.Extra)
}

func TestPlainTextPreview(t *testing.T) {
	testCases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "empty", in: "", limit: 10, want: ""},
		{name: "short", in: "<p>abc</p>", limit: 10, want: "abc"},
		{name: "exact fit", in: "abcdefghij", limit: 10, want: "abcdefghij"},
		{name: "truncated", in: "abcdefghijk", limit: 10, want: "abcdefghi…"},
		{name: "whitespace collapsed", in: "<div>a\n\n   b</div>", limit: 10, want: "a b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PlainTextPreview(tc.in, tc.limit))
		})
	}
}

func TestPlainTextPreviewDefaultBudget(t *testing.T) {
	l := Normalize(map[string]any{"job_desc": strings.Repeat("é", 1000)}, 1, 1, NormalizeOptions{})
	assert.Equal(t, DefaultPreviewChars, utf8.RuneCountInString(l.DescriptionPreview))
	assert.True(t, strings.HasSuffix(l.DescriptionPreview, "…"))
}
