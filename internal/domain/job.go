package domain

import "strings"

// Listing is one job posting as normalized from the jobs API.
type Listing struct {
	ID                 string
	Title              string
	Organization       string
	Location           string
	PostedDate         string // raw, e.g. "Aug 12, 2025"
	Deadline           string // free text, advisory only
	Compensation       Compensation
	TypeTags           []string
	RemoteLabel        string // onsite/remote/hybrid label
	DescriptionPreview string
	VisualID           string

	// provenance, used to rebuild the deep link
	PageNumber int
	PageSize   int

	// Extra holds configured raw fields that are exported after the canonical columns.
	Extra map[string]string
}

type Compensation struct {
	From      string
	To        string
	Frequency string
}

func (c Compensation) Present() bool {
	return c.From != "" || c.To != ""
}

// TypeDisplay flattens the type tags for display and export.
func (l Listing) TypeDisplay() string {
	return strings.Join(l.TypeTags, ", ")
}
