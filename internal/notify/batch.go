package notify

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"jobwatch-engine/internal/domain"
)

// MinMessageChars is the smallest per-message limit Batch honours. Smaller limits are
// raised to it, so messages may then be up to MinMessageChars runes long.
const MinMessageChars = 64

const continuedOpener = "(continued)\n"

// Batch renders listings into messages of at most max(maxChars, MinMessageChars) runes
// each. The first message opens with the total count; later ones with a short
// continuation line.
func Batch(listings []domain.Listing, maxChars int, targetPage string) []string {
	if len(listings) == 0 {
		return nil
	}
	if maxChars < MinMessageChars {
		maxChars = MinMessageChars
	}

	var out []string
	buf := fmt.Sprintf("**%d new job(s) posted**\n\n", len(listings))
	hasContent := false

	for i, l := range listings {
		block := renderBlock(i+1, l, targetPage)
		if runeLen(buf)+runeLen(block) > maxChars {
			if hasContent {
				out = append(out, closeMessage(buf))
				buf = continuedOpener
				hasContent = false
			}
			if room := maxChars - runeLen(buf); runeLen(block) > room {
				block = truncate(block, room)
			}
		}
		buf += block
		hasContent = true
	}
	if hasContent {
		out = append(out, closeMessage(buf))
	}
	return out
}

func renderBlock(ordinal int, l domain.Listing, targetPage string) string {
	title := l.Title
	if title == "" {
		title = "(no title)"
	}
	head := fmt.Sprintf("%d. **%s**", ordinal, title)
	if l.Organization != "" {
		head += " - " + l.Organization
	}

	lines := []string{
		head,
		l.Location,
		fmt.Sprintf("Posted: %s  Deadline: %s", l.PostedDate, l.Deadline),
	}
	if c := l.Compensation; c.Present() {
		lines = append(lines, strings.TrimSpace(fmt.Sprintf("Comp: %s-%s %s", orQ(c.From), orQ(c.To), c.Frequency)))
	}
	if link := DeepLink(targetPage, l); link != "" {
		lines = append(lines, "Link: "+link)
	}

	var b strings.Builder
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		b.WriteString(ln)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// DeepLink points the portal's search page at one listing, on the page it was fetched from.
func DeepLink(targetPage string, l domain.Listing) string {
	if targetPage == "" || l.ID == "" {
		return ""
	}
	u, err := url.Parse(targetPage)
	if err != nil {
		return ""
	}
	q := u.Query()
	if l.PageSize > 0 {
		q.Set("perPage", strconv.Itoa(l.PageSize))
	}
	if l.PageNumber > 0 {
		q.Set("page", strconv.Itoa(l.PageNumber))
	}
	q.Set("currentJobId", l.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

func closeMessage(buf string) string {
	return strings.TrimRight(buf, "\n")
}

func orQ(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
