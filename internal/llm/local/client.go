// Package local is an offline model backend. It answers the recommendation
// and pre-screen prompts by TF-IDF similarity between the target and each
// candidate, with temperature-scaled jitter standing in for sampling
// randomness. Output is deterministic for a given prompt, temperature and
// seed.
package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"meetmatch/internal/domain"
	"meetmatch/internal/prompt"
)

// jitterScale bounds the noise added at temperature 1.0.
const jitterScale = 0.15

// Client implements domain.ModelClient without network access.
type Client struct {
	seed int64
}

// NewClient returns an offline client.
func NewClient(seed int64) *Client { return &Client{seed: seed} }

// Name returns the identifier of this backend.
func (c *Client) Name() string { return "local" }

type recommendation struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Rationale string   `json:"rationale"`
	Topics    []string `json:"topics,omitempty"`
}

type score struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// Complete ranks the prompt's candidates against its target profile.
func (c *Client) Complete(ctx context.Context, text string, temperature float64, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewServiceError(domain.ServiceTimeout, err)
	}
	sections := prompt.Parse(text)
	if sections.Target == "" {
		return "", domain.NewServiceError(domain.ServiceMalformed, fmt.Errorf("prompt has no target section"))
	}
	k := sections.K
	if k <= 0 {
		k = 10
	}

	docs := make([]string, 0, len(sections.Candidates)+1)
	query := sections.Target + "\n" + sections.Context
	docs = append(docs, query)
	for _, cand := range sections.Candidates {
		docs = append(docs, cand.Text)
	}
	ix := newIndex(docs)
	qv := ix.embed(query)

	rng := rand.New(rand.NewSource(c.seed ^ promptSeed(text, temperature)))
	type scored struct {
		idx   int
		score float64
		vec   vector
	}
	ranked := make([]scored, len(sections.Candidates))
	for i, cand := range sections.Candidates {
		cv := ix.embed(cand.Text)
		noise := rng.Float64() * jitterScale * temperature
		ranked[i] = scored{idx: i, score: cosine(qv, cv) + noise, vec: cv}
	}
	if sections.Scoring {
		return scores(sections.Candidates, func(i int) float64 { return ranked[i].score })
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := struct {
		Recommendations []recommendation `json:"recommendations"`
	}{Recommendations: make([]recommendation, 0, len(ranked))}
	for _, r := range ranked {
		cand := sections.Candidates[r.idx]
		terms := sharedTerms(qv, r.vec, 3)
		out.Recommendations = append(out.Recommendations, recommendation{
			ID:        cand.ID,
			Name:      cand.Name,
			Rationale: rationale(terms),
			Topics:    terms,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", domain.NewServiceError(domain.ServiceMalformed, err)
	}
	return string(data), nil
}

// scores maps similarities onto 1-10 relative to the best in the batch.
func scores(cands []prompt.CandidateLine, sim func(int) float64) (string, error) {
	best := 0.0
	for i := range cands {
		best = math.Max(best, sim(i))
	}
	out := struct {
		Scores []score `json:"scores"`
	}{Scores: make([]score, len(cands))}
	for i, cand := range cands {
		s := 1
		if best > 0 {
			s = 1 + int(math.Round(9*math.Max(sim(i), 0)/best))
		}
		out.Scores[i] = score{ID: cand.ID, Score: s}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", domain.NewServiceError(domain.ServiceMalformed, err)
	}
	return string(data), nil
}

func rationale(terms []string) string {
	switch len(terms) {
	case 0:
		return "Works on something outside your usual circle, which makes for a useful wildcard conversation."
	case 1:
		return fmt.Sprintf("You both focus on %s.", terms[0])
	default:
		return fmt.Sprintf("You both focus on %s and %s.", strings.Join(terms[:len(terms)-1], ", "), terms[len(terms)-1])
	}
}

func promptSeed(text string, temperature float64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return int64(h.Sum64() ^ math.Float64bits(temperature))
}
