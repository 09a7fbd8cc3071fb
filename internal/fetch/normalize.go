package fetch

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"jobwatch-engine/internal/domain"
)

const DefaultPreviewChars = 350

type NormalizeOptions struct {
	PreviewChars int      // <= 0 uses DefaultPreviewChars
	ExtraFields  []string // raw keys copied into Listing.Extra
}

// Normalize maps one raw API record into a Listing. Missing or oddly typed fields
// become empty values; a record is never rejected.
func Normalize(raw map[string]any, pageNumber, pageSize int, opts NormalizeOptions) domain.Listing {
	limit := opts.PreviewChars
	if limit <= 0 {
		limit = DefaultPreviewChars
	}

	l := domain.Listing{
		ID:           asString(raw["job_id"]),
		Title:        asString(raw["job_title"]),
		Organization: asString(raw["name"]),
		Location:     asString(raw["job_location"]),
		PostedDate:   asString(raw["postdate"]),
		Deadline:     asString(raw["deadline"]),
		Compensation: domain.Compensation{
			From:      asString(raw["compensation_from"]),
			To:        asString(raw["compensation_to"]),
			Frequency: asString(raw["compensation_frequency"]),
		},
		TypeTags:           asStrings(raw["job_type"]),
		RemoteLabel:        labelOf(raw["symp_remote_onsite"]),
		DescriptionPreview: PlainTextPreview(asString(raw["job_desc"]), limit),
		VisualID:           asString(raw["visual_id"]),
		PageNumber:         pageNumber,
		PageSize:           pageSize,
	}

	for _, k := range opts.ExtraFields {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if l.Extra == nil {
			l.Extra = map[string]string{}
		}
		l.Extra[k] = asString(v)
	}
	return l
}

// PlainTextPreview strips markup from an HTML fragment, collapses whitespace and bounds
// the result to limit runes, ending in "…" when cut.
func PlainTextPreview(fragment string, limit int) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	var text string
	if err != nil {
		text = fragment
	} else {
		var parts []string
		for _, n := range doc.Nodes {
			collectText(n, &parts)
		}
		text = strings.Join(parts, " ")
	}
	text = strings.Join(strings.Fields(text), " ")
	return truncateRunes(text, limit)
}

func collectText(n *html.Node, out *[]string) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*out = append(*out, s)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, out)
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return labelOf(t)
	case []any:
		return strings.Join(asStrings(t), ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := asString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		if s := asString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

// labelOf reads picklist values, which arrive either as {"label": ...} or as plain text.
func labelOf(v any) string {
	if m, ok := v.(map[string]any); ok {
		if s, ok := m["label"].(string); ok {
			return strings.TrimSpace(s)
		}
		if s, ok := m["_id"].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}
	return asString(v)
}
