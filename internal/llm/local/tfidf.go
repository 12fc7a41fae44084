package local

import (
	"math"
	"sort"

	"meetmatch/internal/textutil"
)

// index is a TF-IDF model over a small set of documents. Vectors are
// sparse and L2-normalized so cosine similarity is a dot product.
type index struct {
	idf       map[string]float64
	stopwords map[string]struct{}
}

func newIndex(corpus []string) *index {
	ix := &index{idf: make(map[string]float64), stopwords: textutil.Stopwords()}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range ix.tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	n := float64(len(corpus))
	for term, count := range df {
		// smoothed IDF
		ix.idf[term] = math.Log((1+n)/(1+float64(count))) + 1.0
	}
	return ix
}

type vector map[string]float64

func (ix *index) embed(text string) vector {
	tf := make(map[string]int)
	total := 0
	for _, tok := range ix.tokenize(text) {
		if _, ok := ix.idf[tok]; ok {
			tf[tok]++
			total++
		}
	}
	vec := make(vector, len(tf))
	if total == 0 {
		return vec
	}
	norm := 0.0
	for term, count := range tf {
		v := float64(count) / float64(total) * ix.idf[term]
		vec[term] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for term := range vec {
		vec[term] /= norm
	}
	return vec
}

func (ix *index) tokenize(text string) []string {
	raw := textutil.Tokens(text)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := ix.stopwords[t]; stop || len([]rune(t)) < 3 {
			continue
		}
		out = append(out, t)
	}
	return out
}

func cosine(a, b vector) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	sum := 0.0
	for term, v := range a {
		sum += v * b[term]
	}
	return sum
}

// sharedTerms returns up to n terms present in both vectors, heaviest first.
func sharedTerms(a, b vector, n int) []string {
	type tw struct {
		term   string
		weight float64
	}
	var terms []tw
	for term, v := range a {
		if w, ok := b[term]; ok {
			terms = append(terms, tw{term, v * w})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].weight != terms[j].weight {
			return terms[i].weight > terms[j].weight
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.term
	}
	return out
}
