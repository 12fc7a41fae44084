// Package format renders consolidated recommendations as a long markdown
// document or a short Slack-style chat message.
package format

import (
	"fmt"
	"strings"

	"meetmatch/internal/consolidate"
	"meetmatch/internal/domain"
	"meetmatch/internal/textutil"
)

// Style selects a rendering.
type Style string

const (
	StyleLong  Style = "long"
	StyleShort Style = "short"
)

// ShortReasonLimit caps the one-line reason of the short style, in runes.
const ShortReasonLimit = 160

// EmptyMessage is rendered in place of an empty list.
const EmptyMessage = "No recommendations available."

// ParseStyle accepts "long" or "short", case-insensitively.
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case StyleLong:
		return StyleLong, nil
	case StyleShort:
		return StyleShort, nil
	}
	return "", fmt.Errorf("unknown output style %q (want long or short)", s)
}

var summarizer = textutil.NewFrequencySummarizer()

// Render formats list in the given style. Unknown styles render long.
func Render(list []domain.Recommendation, style Style) string {
	if style == StyleShort {
		return renderShort(list)
	}
	return renderLong(list)
}

func renderLong(list []domain.Recommendation) string {
	var b strings.Builder
	b.WriteString("## Recommended meetings\n\n")
	if len(list) == 0 {
		b.WriteString("_" + EmptyMessage + "_\n")
		return b.String()
	}
	for i, r := range list {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "### #%d. %s\n", rank(r, i), markdownName(r))
		fmt.Fprintf(&b, "_Suggested by %s_\n\n", plural(r.SupportCount, "sample"))
		why := r.CombinedRationale
		if why == "" {
			why = "No rationale given."
		}
		fmt.Fprintf(&b, "- **Why:** %s\n", why)
		if len(r.Topics) > 0 {
			fmt.Fprintf(&b, "- **Topics to discuss:** %s\n", strings.Join(r.Topics, "; "))
		}
	}
	return b.String()
}

func renderShort(list []domain.Recommendation) string {
	if len(list) == 0 {
		return "*" + EmptyMessage + "*\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Top %d people to meet*\n", len(list))
	for i, r := range list {
		fmt.Fprintf(&b, "*%d. %s* (%d×)", rank(r, i), slackName(r), r.SupportCount)
		if reason := OneLine(r.CombinedRationale); reason != "" {
			b.WriteString(" – " + reason)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderOverlap lists people recommended in both directions.
func RenderOverlap(entries []consolidate.OverlapEntry, style Style) string {
	var b strings.Builder
	if style == StyleShort {
		b.WriteString("*Meet both ways*\n")
		if len(entries) == 0 {
			b.WriteString("_Nobody appears on both lists._\n")
		}
		for _, e := range entries {
			fmt.Fprintf(&b, "• %s (#%d / #%d)\n", slackName(e.Recommendation), e.Recommendation.Rank, e.OtherRank)
		}
		return b.String()
	}
	b.WriteString("## On both lists\n\n")
	if len(entries) == 0 {
		b.WriteString("_Nobody appears on both lists._\n")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: #%d to get value, #%d to give value\n",
			markdownName(e.Recommendation), e.Recommendation.Rank, e.OtherRank)
	}
	return b.String()
}

// OneLine condenses a rationale to its most representative sentence.
func OneLine(rationale string) string {
	s := summarizer.Summarize(rationale, 1)
	if s == "" {
		s = strings.TrimSpace(rationale)
	}
	return textutil.Truncate(textutil.Normalize(s), ShortReasonLimit)
}

func rank(r domain.Recommendation, i int) int {
	if r.Rank > 0 {
		return r.Rank
	}
	return i + 1
}

func markdownName(r domain.Recommendation) string {
	name := displayName(r)
	if r.Link == "" {
		return name
	}
	return fmt.Sprintf("[%s](%s)", name, r.Link)
}

func slackName(r domain.Recommendation) string {
	name := displayName(r)
	if r.Link == "" {
		return name
	}
	return fmt.Sprintf("<%s|%s>", r.Link, name)
}

func displayName(r domain.Recommendation) string {
	if r.Name != "" {
		return r.Name
	}
	if r.ProfileID != "" {
		return r.ProfileID
	}
	return "Unknown attendee"
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
