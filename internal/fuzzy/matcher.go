// Package fuzzy resolves free-text name queries to corpus profiles.
package fuzzy

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"meetmatch/internal/domain"
	"meetmatch/internal/textutil"
)

const (
	DefaultMinSimilarity = 0.6
	DefaultLimit         = 5

	// partial matches never outrank an exact name
	maxPartialScore = 0.99
	// per-token alignment ignores word order and missing tokens
	tokenAlignWeight = 0.95
)

// Match is one search hit.
type Match struct {
	Profile domain.Profile
	Score   float64
}

// Matcher scores names by normalized edit distance.
type Matcher struct {
	MinSimilarity float64
	Limit         int
}

// NewMatcher returns a matcher; zero arguments fall back to defaults.
func NewMatcher(minSimilarity float64, limit int) *Matcher {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Matcher{MinSimilarity: minSimilarity, Limit: limit}
}

// Search returns matches scoring at least MinSimilarity, best first.
// Ties go to the shorter name, then to corpus order. An empty result means
// nothing matched.
func (m *Matcher) Search(query string, corpus []domain.Profile) []Match {
	q := textutil.NormalizeName(query)
	if q == "" {
		return nil
	}
	type scored struct {
		Match
		order   int
		nameLen int
	}
	var hits []scored
	for i, p := range corpus {
		score := Similarity(q, p.Name)
		if score < m.MinSimilarity {
			continue
		}
		hits = append(hits, scored{Match: Match{Profile: p, Score: score}, order: i, nameLen: utf8.RuneCountInString(p.Name)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].nameLen != hits[j].nameLen {
			return hits[i].nameLen < hits[j].nameLen
		}
		return hits[i].order < hits[j].order
	})
	if m.Limit > 0 && len(hits) > m.Limit {
		hits = hits[:m.Limit]
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = h.Match
	}
	return out
}

// Similarity scores two names in [0,1]; identical normalized names score 1.
func Similarity(a, b string) float64 {
	a, b = textutil.NormalizeName(a), textutil.NormalizeName(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	score := ratio(a, b)
	if s := ratio(sortedTokens(a), sortedTokens(b)); s > score {
		score = s
	}
	if s := tokenAlign(a, b) * tokenAlignWeight; s > score {
		score = s
	}
	if score > maxPartialScore {
		score = maxPartialScore
	}
	return score
}

// ratio is 1 - levenshtein/maxlen.
func ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func sortedTokens(s string) string {
	toks := textutil.Tokens(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// tokenAlign averages, over query tokens, the best ratio against any name token.
func tokenAlign(query, name string) float64 {
	qt, nt := textutil.Tokens(query), textutil.Tokens(name)
	if len(qt) == 0 || len(nt) == 0 {
		return 0
	}
	total := 0.0
	for _, q := range qt {
		best := 0.0
		for _, n := range nt {
			if r := ratio(q, n); r > best {
				best = r
			}
		}
		total += best
	}
	return total / float64(len(qt))
}
