package sampler

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"meetmatch/internal/domain"
)

// ParseResult is the best-effort decoding of one model response.
type ParseResult struct {
	Entries []domain.CandidateEntry
	// Valid is true when the whole response was strict JSON.
	Valid bool
	// Recovered is true when entries were salvaged from a response that
	// was not strict JSON.
	Recovered bool
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexTopics accepts a list of strings or one delimited string.
type flexTopics []string

func (f *flexTopics) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*f = cleanTopics(list)
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = splitTopics(string(s))
	return nil
}

type rawEntry struct {
	ID        flexString `json:"id"`
	ProfileID flexString `json:"profile_id"`
	Name      string     `json:"name"`
	Rationale string     `json:"rationale"`
	Reason    string     `json:"reason"`
	Why       string     `json:"why"`
	Topics    flexTopics `json:"topics"`
}

var (
	fenceRe     = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n?(.*?)```")
	numberedRe  = regexp.MustCompile(`^\s*(?:[-*]\s+)?(?:#{1,6}\s*)?#?\d+[.)]\s+(.+)$`)
	idRe        = regexp.MustCompile(`\[?\b([Pp]\d{3,})\b\]?`)
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	whyBulletRe = regexp.MustCompile(`(?i)^\s*[-*]\s*(?:\*\*)?(?:why|reason|rationale)\s*:?\s*(?:\*\*)?\s*:?\s*(.+)$`)
	topicsRe    = regexp.MustCompile(`(?i)^\s*[-*]\s*(?:\*\*)?topics(?:\s+to\s+discuss)?\s*:?\s*(?:\*\*)?\s*:?\s*(.+)$`)
	topicSepRe  = regexp.MustCompile(`\s*[;•]\s*|\s*\n\s*`)
	nameSepRe   = regexp.MustCompile(`\s+[—–-]\s+|:\s+`)
)

// ParseResponse decodes a model reply into candidate entries. It accepts
// strict JSON, JSON wrapped in prose or code fences, and numbered or
// markdown-heading lists as a last resort.
func ParseResponse(text string) ParseResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseResult{}
	}
	if entries, ok := decodeJSON([]byte(trimmed)); ok {
		return ParseResult{Entries: entries, Valid: true}
	}
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		if entries, ok := decodeJSON([]byte(strings.TrimSpace(m[1]))); ok {
			return ParseResult{Entries: entries, Recovered: true}
		}
	}
	if raw := extractJSON(trimmed); raw != "" {
		if entries, ok := decodeJSON([]byte(raw)); ok {
			return ParseResult{Entries: entries, Recovered: true}
		}
	}
	entries := parseLines(trimmed)
	return ParseResult{Entries: entries, Recovered: len(entries) > 0}
}

// ExtractJSON returns the JSON document in text: the whole text when it is
// valid JSON, else the body of a code fence, else the first balanced object
// or array found in prose.
func ExtractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if json.Valid([]byte(trimmed)) {
		return trimmed, true
	}
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		if body := strings.TrimSpace(m[1]); json.Valid([]byte(body)) {
			return body, true
		}
	}
	if raw := extractJSON(trimmed); raw != "" {
		return raw, true
	}
	return "", false
}

// decodeJSON accepts {"recommendations":[...]}, any object holding a single
// list of entries, or a bare array.
func decodeJSON(data []byte) ([]domain.CandidateEntry, bool) {
	if !json.Valid(data) {
		return nil, false
	}
	var list []rawEntry
	if err := json.Unmarshal(data, &list); err == nil {
		return toEntries(list), true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	if raw, ok := obj["recommendations"]; ok {
		if err := json.Unmarshal(raw, &list); err == nil {
			return toEntries(list), true
		}
		return nil, false
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// map order is random; pick deterministically
	sort.Strings(keys)
	for _, k := range keys {
		if err := json.Unmarshal(obj[k], &list); err == nil && len(list) > 0 {
			return toEntries(list), true
		}
	}
	return nil, false
}

func toEntries(list []rawEntry) []domain.CandidateEntry {
	out := make([]domain.CandidateEntry, 0, len(list))
	for _, r := range list {
		id := strings.TrimSpace(string(r.ID))
		if id == "" {
			id = strings.TrimSpace(string(r.ProfileID))
		}
		id = strings.Trim(id, "[]")
		name := strings.TrimSpace(r.Name)
		if id == "" && name == "" {
			continue
		}
		rationale := firstNonEmpty(r.Rationale, r.Reason, r.Why)
		out = append(out, domain.CandidateEntry{
			ProfileID: id,
			Name:      name,
			Rationale: strings.TrimSpace(rationale),
			Topics:    []string(r.Topics),
			Position:  len(out) + 1,
		})
	}
	return out
}

// extractJSON returns the first balanced JSON object or array in s.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end := matchBracket(s, start); end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func matchBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseLines recovers entries from numbered or markdown lists such as
// "1. [P003] Jane Doe — shares a focus on biosecurity" or
// "### #1. Jane Doe — Researcher, Org" followed by a "- **Why:** ..." bullet.
func parseLines(text string) []domain.CandidateEntry {
	var out []domain.CandidateEntry
	for _, line := range strings.Split(text, "\n") {
		if m := numberedRe.FindStringSubmatch(line); m != nil {
			if e, ok := parseEntryLine(m[1]); ok {
				e.Position = len(out) + 1
				out = append(out, e)
			}
			continue
		}
		if len(out) == 0 {
			continue
		}
		if m := topicsRe.FindStringSubmatch(line); m != nil {
			last := &out[len(out)-1]
			last.Topics = append(last.Topics, splitTopics(stripMarkdown(m[1]))...)
			continue
		}
		if m := whyBulletRe.FindStringSubmatch(line); m != nil {
			last := &out[len(out)-1]
			why := strings.TrimSpace(stripMarkdown(m[1]))
			if last.Rationale == "" {
				last.Rationale = why
			} else {
				last.Rationale = why + " " + last.Rationale
			}
		}
	}
	return out
}

func parseEntryLine(rest string) (domain.CandidateEntry, bool) {
	var e domain.CandidateEntry
	rest = linkRe.ReplaceAllString(rest, "$1")
	if m := idRe.FindStringSubmatchIndex(rest); m != nil {
		e.ProfileID = strings.ToUpper(rest[m[2]:m[3]])
		rest = rest[:m[0]] + rest[m[1]:]
	}
	rest = strings.TrimSpace(stripMarkdown(rest))
	parts := nameSepRe.Split(rest, 2)
	e.Name = strings.TrimSpace(strings.Trim(parts[0], "-—–: "))
	if len(parts) == 2 {
		e.Rationale = strings.TrimSpace(parts[1])
	}
	if e.ProfileID == "" && e.Name == "" {
		return e, false
	}
	return e, true
}

func stripMarkdown(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// splitTopics breaks a topics string on semicolons, bullets or newlines.
// Commas are kept since a single topic often contains one.
func splitTopics(s string) []string {
	return cleanTopics(topicSepRe.Split(s, -1))
}

func cleanTopics(list []string) []string {
	var out []string
	for _, t := range list {
		t = strings.TrimSpace(strings.Trim(strings.TrimSpace(t), "-*."))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
