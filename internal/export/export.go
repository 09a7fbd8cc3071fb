// Package export writes every listing fetched in a cycle to a tabular file.
package export

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"jobwatch-engine/internal/domain"
)

// Columns is the canonical column order. Extra fields follow in first-seen order.
var Columns = []string{
	"job_id",
	"job_title",
	"company",
	"postdate",
	"deadline",
	"location",
	"type",
	"onsite_remote",
	"comp_from",
	"comp_to",
	"comp_freq",
	"desc_preview",
	"visual_id",
}

// Sink receives the full normalized record set of one cycle, in fetch order.
type Sink interface {
	Write(ctx context.Context, listings []domain.Listing) error
}

// New picks a sink from the path extension: ".xlsx" writes a workbook, anything else CSV.
// An empty path disables export.
func New(path string) Sink {
	switch {
	case strings.TrimSpace(path) == "":
		return Nop{}
	case strings.EqualFold(filepath.Ext(path), ".xlsx"):
		return NewXLSX(path)
	default:
		return NewCSV(path)
	}
}

type Nop struct{}

func (Nop) Write(context.Context, []domain.Listing) error { return nil }

// Table flattens listings into a header and rows.
func Table(listings []domain.Listing) ([]string, [][]string) {
	var extras []string
	known := map[string]bool{}
	for _, c := range Columns {
		known[c] = true
	}
	for _, l := range listings {
		for _, k := range sortedKeys(l.Extra) {
			if !known[k] {
				known[k] = true
				extras = append(extras, k)
			}
		}
	}

	header := append(append([]string{}, Columns...), extras...)
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		row := []string{
			l.ID,
			l.Title,
			l.Organization,
			l.PostedDate,
			l.Deadline,
			l.Location,
			l.TypeDisplay(),
			l.RemoteLabel,
			l.Compensation.From,
			l.Compensation.To,
			l.Compensation.Frequency,
			l.DescriptionPreview,
			l.VisualID,
		}
		for _, k := range extras {
			row = append(row, l.Extra[k])
		}
		rows = append(rows, row)
	}
	return header, rows
}

// sortedKeys keeps column discovery deterministic within one listing.
func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
