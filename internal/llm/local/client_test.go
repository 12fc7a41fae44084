package local

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"meetmatch/internal/domain"
	"meetmatch/internal/prompt"
)

func testPrompt(k int) string {
	corpus := []domain.Profile{
		{ID: "P001", Name: "Target Person", NormalizedText: "pandemic preparedness biosecurity policy"},
		{ID: "P002", Name: "Bio Person", NormalizedText: "biosecurity researcher working on pandemic preparedness and vaccines"},
		{ID: "P003", Name: "Chip Person", NormalizedText: "semiconductor export controls and compute governance"},
		{ID: "P004", Name: "Animal Person", NormalizedText: "cage-free campaigns and animal welfare corporate outreach"},
	}
	target := domain.Target{Name: "Target Person", Text: "I work on pandemic preparedness and biosecurity policy.", ProfileID: "P001"}
	return prompt.NewBuilder(k, domain.DirectionGetValue, "").Build(target, corpus)
}

type response struct {
	Recommendations []recommendation `json:"recommendations"`
}

func complete(t *testing.T, c *Client, p string, temp float64) response {
	t.Helper()
	out, err := c.Complete(context.Background(), p, temp, 0)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	var r response
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return r
}

func TestCompleteRanksBySimilarity(t *testing.T) {
	r := complete(t, NewClient(1), testPrompt(10), 0)
	if len(r.Recommendations) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(r.Recommendations))
	}
	top := r.Recommendations[0]
	if top.ID != "P002" {
		t.Fatalf("expected P002 first, got %+v", r.Recommendations)
	}
	if !strings.Contains(top.Rationale, "biosecurity") && !strings.Contains(top.Rationale, "pandemic") {
		t.Fatalf("rationale lacks shared terms: %q", top.Rationale)
	}
	for _, rec := range r.Recommendations {
		if rec.ID == "P001" {
			t.Fatalf("target recommended to itself")
		}
	}
}

func TestCompleteRespectsK(t *testing.T) {
	if r := complete(t, NewClient(1), testPrompt(2), 0.7); len(r.Recommendations) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(r.Recommendations))
	}
}

func TestCompleteDeterministicPerTemperature(t *testing.T) {
	c := NewClient(42)
	p := testPrompt(10)
	a, _ := c.Complete(context.Background(), p, 1.1, 0)
	b, _ := c.Complete(context.Background(), p, 1.1, 0)
	if a != b {
		t.Fatalf("same prompt and temperature produced different output")
	}
}

func TestCompleteRejectsForeignPrompt(t *testing.T) {
	_, err := NewClient(0).Complete(context.Background(), "tell me a joke", 0.2, 0)
	var svcErr *domain.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Kind != domain.ServiceMalformed {
		t.Fatalf("expected malformed ServiceError, got %v", err)
	}
}

func TestCompleteHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewClient(0).Complete(ctx, testPrompt(3), 0.2, 0); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestCompleteScoresPrescreenBatch(t *testing.T) {
	corpus := []domain.Profile{
		{ID: "P002", Name: "Bio Person", NormalizedText: "biosecurity researcher working on pandemic preparedness and vaccines"},
		{ID: "P003", Name: "Chip Person", NormalizedText: "semiconductor export controls and compute governance"},
	}
	target := domain.Target{Text: "I work on pandemic preparedness and biosecurity policy.", Manual: true}
	p := prompt.NewBuilder(10, domain.DirectionGetValue, "").BuildScoring(target, corpus, 2)
	out, err := NewClient(1).Complete(context.Background(), p, 0, 0)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	var r struct {
		Scores []score `json:"scores"`
	}
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(r.Scores) != 2 || r.Scores[0].ID != "P002" || r.Scores[0].Score != 10 {
		t.Fatalf("scores = %+v", r.Scores)
	}
	if s := r.Scores[1].Score; s < 1 || s >= 8 {
		t.Fatalf("unrelated profile scored %d", s)
	}
}

func TestCompleteListsTopics(t *testing.T) {
	r := complete(t, NewClient(1), testPrompt(1), 0)
	if len(r.Recommendations) != 1 || len(r.Recommendations[0].Topics) == 0 {
		t.Fatalf("expected topics on top recommendation, got %+v", r.Recommendations)
	}
}
