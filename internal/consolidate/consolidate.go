// Package consolidate merges the candidate sets of several sampled
// generations into one ranked list, rewarding profiles that independent
// samples agree on.
package consolidate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"meetmatch/internal/domain"
	"meetmatch/internal/fuzzy"
	"meetmatch/internal/textutil"
)

const (
	DefaultK              = 10
	DefaultDedupThreshold = 0.8
	DefaultNameThreshold  = 0.85
	// MaxTopics caps the merged topics of one recommendation.
	MaxTopics = 5
)

// Options tunes identity resolution and rationale merging.
type Options struct {
	// DedupThreshold drops a rationale sentence whose Ochiai token overlap
	// with an already kept sentence reaches it.
	DedupThreshold float64
	// NameThreshold is the minimum fuzzy similarity for resolving an entry
	// that carries only a name.
	NameThreshold float64
	// ExcludeID is the target's own profile ID, never recommended.
	ExcludeID string
}

// Stats describes one merge.
type Stats struct {
	SetsUsed int
	Distinct int
	// Dropped counts entries that did not resolve to an eligible profile.
	Dropped int
}

// Consolidator merges candidate sets against a fixed corpus. With a nil
// corpus, entries are identified by upper-cased ID or normalized name.
type Consolidator struct {
	corpus []domain.Profile
	byID   map[string]int
	byName map[string]int
	opts   Options
}

// New builds a Consolidator over the eligible corpus.
func New(corpus []domain.Profile, opts Options) *Consolidator {
	if opts.DedupThreshold <= 0 {
		opts.DedupThreshold = DefaultDedupThreshold
	}
	if opts.NameThreshold <= 0 {
		opts.NameThreshold = DefaultNameThreshold
	}
	c := &Consolidator{
		corpus: corpus,
		byID:   make(map[string]int, len(corpus)),
		byName: make(map[string]int, len(corpus)),
		opts:   opts,
	}
	for i, p := range corpus {
		c.byID[strings.ToUpper(p.ID)] = i
		name := textutil.NormalizeName(p.Name)
		if _, dup := c.byName[name]; !dup && name != "" {
			c.byName[name] = i
		}
	}
	return c
}

type group struct {
	key          string
	order        int
	name         string
	link         string
	profileID    string
	support      int
	temperatures []float64
	bestPosition int
	rationales   []string
	topics       []string
}

// Consolidate returns at most k recommendations ranked by cross-set support.
func (c *Consolidator) Consolidate(sets []domain.CandidateSet, k int) []domain.Recommendation {
	recs, _ := c.Merge(sets, k)
	return recs
}

// Merge is Consolidate plus merge statistics. Failed sets are ignored.
// The result does not depend on the order of sets.
func (c *Consolidator) Merge(sets []domain.CandidateSet, k int) ([]domain.Recommendation, Stats) {
	if k <= 0 {
		k = DefaultK
	}
	ordered := canonicalOrder(sets)
	stats := Stats{SetsUsed: len(ordered)}

	groups := make(map[string]*group)
	nextOrder := 0
	for _, set := range ordered {
		inSet := make(map[string]bool)
		for i, e := range set.Entries {
			key, idx, ok := c.resolve(e)
			if !ok {
				stats.Dropped++
				continue
			}
			pos := e.Position
			if pos <= 0 {
				pos = i + 1
			}
			g, exists := groups[key]
			if !exists {
				g = &group{key: key, bestPosition: math.MaxInt}
				if idx >= 0 {
					p := c.corpus[idx]
					g.order, g.name, g.link, g.profileID = idx, p.Name, p.Link, p.ID
				} else {
					g.order, g.name, g.profileID = len(c.corpus)+nextOrder, e.Name, strings.ToUpper(strings.TrimSpace(e.ProfileID))
					nextOrder++
				}
				groups[key] = g
			}
			if pos < g.bestPosition {
				g.bestPosition = pos
			}
			if inSet[key] {
				continue
			}
			inSet[key] = true
			g.support++
			g.temperatures = append(g.temperatures, set.Temperature)
			if r := strings.TrimSpace(e.Rationale); r != "" {
				g.rationales = append(g.rationales, r)
			}
			g.topics = append(g.topics, e.Topics...)
			if g.name == "" {
				g.name = e.Name
			}
		}
	}

	list := make([]*group, 0, len(groups))
	for _, g := range groups {
		list = append(list, g)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.support != b.support {
			return a.support > b.support
		}
		if a.bestPosition != b.bestPosition {
			return a.bestPosition < b.bestPosition
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.key < b.key
	})
	stats.Distinct = len(list)
	if len(list) > k {
		list = list[:k]
	}

	out := make([]domain.Recommendation, len(list))
	for i, g := range list {
		out[i] = domain.Recommendation{
			ProfileID:         g.profileID,
			Name:              g.name,
			Link:              g.link,
			SupportCount:      g.support,
			Temperatures:      g.temperatures,
			BestPosition:      g.bestPosition,
			Rationales:        distinct(g.rationales),
			CombinedRationale: CombineRationales(g.rationales, c.opts.DedupThreshold),
			Topics:            MergeTopics(g.topics, MaxTopics),
			Rank:              i + 1,
		}
	}
	return out, stats
}

// resolve maps an entry to its identity key and corpus index (-1 when the
// consolidator has no corpus).
func (c *Consolidator) resolve(e domain.CandidateEntry) (string, int, bool) {
	id := strings.ToUpper(strings.Trim(strings.TrimSpace(e.ProfileID), "[]"))
	name := textutil.NormalizeName(e.Name)
	if c.corpus == nil {
		switch {
		case id != "" && !strings.EqualFold(id, c.opts.ExcludeID):
			return "id:" + id, -1, true
		case id == "" && name != "":
			return "name:" + name, -1, true
		}
		return "", -1, false
	}

	idx := -1
	if i, ok := c.byID[id]; ok && id != "" {
		idx = i
	} else if i, ok := c.byName[name]; ok {
		idx = i
	} else if name != "" {
		best := 0.0
		for i, p := range c.corpus {
			if s := fuzzy.Similarity(e.Name, p.Name); s >= c.opts.NameThreshold && s > best {
				best, idx = s, i
			}
		}
	}
	if idx < 0 || strings.EqualFold(c.corpus[idx].ID, c.opts.ExcludeID) {
		return "", -1, false
	}
	return "id:" + strings.ToUpper(c.corpus[idx].ID), idx, true
}

// canonicalOrder keeps successful sets ordered low to high temperature,
// breaking ties on content so input order never matters.
func canonicalOrder(sets []domain.CandidateSet) []domain.CandidateSet {
	type keyed struct {
		set domain.CandidateSet
		key string
	}
	var ks []keyed
	for _, s := range sets {
		if !s.Succeeded() {
			continue
		}
		ks = append(ks, keyed{set: s, key: contentKey(s)})
	}
	sort.Slice(ks, func(i, j int) bool {
		if ks[i].set.Temperature != ks[j].set.Temperature {
			return ks[i].set.Temperature < ks[j].set.Temperature
		}
		return ks[i].key < ks[j].key
	})
	out := make([]domain.CandidateSet, len(ks))
	for i, k := range ks {
		out[i] = k.set
	}
	return out
}

func contentKey(s domain.CandidateSet) string {
	var b strings.Builder
	for _, e := range s.Entries {
		fmt.Fprintf(&b, "%d|%s|%s|%s|%s\x1f", e.Position, e.ProfileID, e.Name, e.Rationale, strings.Join(e.Topics, ";"))
	}
	return b.String()
}

// CombineRationales joins rationales in order, skipping sentences that
// overlap an already kept sentence by at least threshold.
func CombineRationales(rationales []string, threshold float64) string {
	var kept []string
	var keptTokens []map[string]struct{}
	for _, r := range rationales {
		for _, sentence := range textutil.SplitSentences(r) {
			toks := textutil.TokenSet(sentence)
			if len(toks) == 0 {
				continue
			}
			dup := false
			for _, other := range keptTokens {
				if textutil.Ochiai(toks, other) >= threshold {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			kept = append(kept, sentence)
			keptTokens = append(keptTokens, toks)
		}
	}
	return strings.Join(kept, " ")
}

func distinct(rationales []string) []string {
	seen := make(map[string]bool, len(rationales))
	out := make([]string, 0, len(rationales))
	for _, r := range rationales {
		n := textutil.Normalize(strings.ToLower(r))
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, r)
	}
	return out
}

// MergeTopics keeps the first occurrence of each topic, compared on
// normalized lower-cased text, up to limit topics.
func MergeTopics(topics []string, limit int) []string {
	if len(topics) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(topics))
	var out []string
	for _, t := range topics {
		n := textutil.Normalize(strings.ToLower(t))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, strings.TrimSpace(t))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
