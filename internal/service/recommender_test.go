package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"meetmatch/internal/domain"
	"meetmatch/internal/metrics"
	"meetmatch/internal/prescreen"
	"meetmatch/internal/prompt"
	"meetmatch/internal/session"
)

type scriptedClient struct {
	mu      sync.Mutex
	byTemp  map[float64]string
	errs    map[float64]error
	prompts []string
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Complete(ctx context.Context, prompt string, temp float64, maxTokens int) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	if err := c.errs[temp]; err != nil {
		return "", err
	}
	return c.byTemp[temp], nil
}

func reply(ids ...string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf(`{"id":%q,"rationale":"Shared interest number %d."}`, id, i+1)
	}
	return `{"recommendations":[` + strings.Join(parts, ",") + `]}`
}

func longText(topic string) string {
	return strings.Repeat("I work on "+topic+" and want to meet people in the field. ", 8)
}

func newSession() *session.Session {
	return session.New([]domain.RawRecord{
		{Name: "Alice Adams", ProfileText: longText("pandemic preparedness")},
		{Name: "Bob Brown", ProfileText: longText("biosecurity policy")},
		{Name: "Carol Chen", ProfileText: longText("vaccine platforms")},
		{Name: "Dan Diaz", ProfileText: longText("compute governance")},
		{Name: "Eve Evans", ProfileText: longText("animal welfare")},
		{Name: "Short Profile", ProfileText: "Too short to recommend."},
		{Name: "", ProfileText: longText("nameless")},
	})
}

func newRecommender(c domain.ModelClient) *Recommender {
	return NewRecommender(c, Options{
		MinProfileLength: 300,
		CallTimeout:      time.Second,
		Margin:           100 * time.Millisecond,
	})
}

func TestRecommendConsolidatesSamples(t *testing.T) {
	client := &scriptedClient{byTemp: map[float64]string{
		0.2: reply("P002", "P003", "P004"),
		0.7: reply("P002", "P004"),
		1.1: reply("P002", "P005"),
	}}
	sess := newSession()
	res, err := newRecommender(client).Recommend(context.Background(), sess, Request{Query: "alice adams"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.Target.ProfileID != "P001" {
		t.Fatalf("target = %+v", res.Target)
	}
	var got []string
	for _, r := range res.Consolidated {
		got = append(got, r.ProfileID)
	}
	if want := []string{"P002", "P004", "P003", "P005"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ranking = %v, want %v", got, want)
	}
	d := res.Diagnostics
	if d.SetsSucceeded != 3 || d.SetsFailed != 0 || d.SkippedRecords != 1 || d.Candidates != 4 {
		t.Fatalf("diagnostics = %+v", d)
	}
	if res.RequestID == "" {
		t.Fatalf("missing request ID")
	}
	for _, p := range client.prompts {
		if strings.Contains(p, "[P001]") || strings.Contains(p, "Short Profile") {
			t.Fatalf("prompt lists target or ineligible profile")
		}
	}
}

func TestRecommendPartialFailureAddsNote(t *testing.T) {
	client := &scriptedClient{
		byTemp: map[float64]string{0.2: reply("P003"), 0.7: reply("P003", "P002")},
		errs:   map[float64]error{1.1: domain.NewServiceError(domain.ServiceRateLimited, errors.New("429"))},
	}
	res, err := newRecommender(client).Recommend(context.Background(), newSession(), Request{Query: "Alice"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.Diagnostics.SetsSucceeded != 2 || res.Diagnostics.SetsFailed != 1 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	found := false
	for _, n := range res.Diagnostics.Notes {
		if n == "2 of 3 samples succeeded" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing partial note in %v", res.Diagnostics.Notes)
	}
	if len(res.Consolidated) != 2 || res.Consolidated[0].ProfileID != "P003" {
		t.Fatalf("unexpected list %+v", res.Consolidated)
	}
}

func TestRecommendAllFail(t *testing.T) {
	fail := domain.NewServiceError(domain.ServiceUnavailable, errors.New("down"))
	client := &scriptedClient{
		byTemp: map[float64]string{0.7: "not a list"},
		errs:   map[float64]error{0.2: fail, 1.1: fail},
	}
	before := testutil.ToFloat64(metrics.Recommendations.WithLabelValues("failed"))
	res, err := newRecommender(client).Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if res != nil {
		t.Fatalf("expected no result on total failure, got %+v", res)
	}
	var allErr *domain.AllGenerationsFailedError
	if !errors.As(err, &allErr) || !errors.Is(err, domain.ErrAllGenerationsFailed) {
		t.Fatalf("expected AllGenerationsFailedError, got %v", err)
	}
	if allErr.Attempts != 3 || len(allErr.Causes) != 3 {
		t.Fatalf("error = %+v", allErr)
	}
	if after := testutil.ToFloat64(metrics.Recommendations.WithLabelValues("failed")); after != before+1 {
		t.Fatalf("failed counter %v -> %v", before, after)
	}
}

func TestRecommendNotFound(t *testing.T) {
	client := &scriptedClient{}
	_, err := newRecommender(client).Recommend(context.Background(), newSession(), Request{Query: "Xavier Quintrell"})
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Query != "Xavier Quintrell" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if len(client.prompts) != 0 {
		t.Fatalf("model called on fuzzy miss")
	}
}

func TestRecommendEmptyCorpus(t *testing.T) {
	sess := session.New([]domain.RawRecord{{Name: "Only Short", ProfileText: "tiny"}})
	client := &scriptedClient{}
	res, err := newRecommender(client).Recommend(context.Background(), sess, Request{ProfileText: "I build vaccines.", Name: "Me"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Consolidated == nil || len(res.Consolidated) != 0 || len(res.Diagnostics.Notes) == 0 {
		t.Fatalf("expected empty list with note, got %+v", res)
	}
	if !res.Target.Manual {
		t.Fatalf("manual profile not marked")
	}
	if len(client.prompts) != 0 {
		t.Fatalf("model called with no candidates")
	}
}

func TestRecommendManualProfileKeepsEveryCandidate(t *testing.T) {
	client := &scriptedClient{byTemp: map[float64]string{0.2: reply("P001"), 0.7: reply("P001"), 1.1: reply("P001")}}
	res, err := newRecommender(client).Recommend(context.Background(), newSession(),
		Request{ProfileText: "I fund pandemic work.", Name: "Funder", AdditionalContext: "Looking for grantees."})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.Diagnostics.Candidates != 5 || len(res.Consolidated) != 1 || res.Consolidated[0].ProfileID != "P001" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(client.prompts[0], "Looking for grantees.") {
		t.Fatalf("additional context missing from prompt")
	}
}

func TestRecommendClosedSession(t *testing.T) {
	sess := newSession()
	sess.Close()
	if _, err := newRecommender(&scriptedClient{}).Recommend(context.Background(), sess, Request{Query: "Alice"}); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRecommendBoth(t *testing.T) {
	client := directionClient{}
	both, err := newRecommender(client).RecommendBoth(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("RecommendBoth: %v", err)
	}
	if both.GetValue.Direction != domain.DirectionGetValue || both.GiveValue.Direction != domain.DirectionGiveValue {
		t.Fatalf("directions not set")
	}
	if len(both.Overlap) != 1 || both.Overlap[0].Recommendation.ProfileID != "P003" {
		t.Fatalf("overlap = %+v", both.Overlap)
	}
}

// directionClient answers differently depending on the prompt's framing.
type directionClient struct{}

func (directionClient) Name() string { return "direction" }

func (directionClient) Complete(ctx context.Context, prompt string, temp float64, maxTokens int) (string, error) {
	if strings.Contains(prompt, "PROVIDE THE MOST VALUE") {
		return reply("P003", "P005"), nil
	}
	return reply("P002", "P003"), nil
}

// slowClient answers every temperature after delay unless ctx ends first.
type slowClient struct {
	delay time.Duration
	calls atomic.Int32
}

func (c *slowClient) Name() string { return "slow" }

func (c *slowClient) Complete(ctx context.Context, prompt string, temp float64, maxTokens int) (string, error) {
	c.calls.Add(1)
	select {
	case <-time.After(c.delay):
		return reply("P002", "P003"), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestRecommendSequentialSamplingKeepsEverySet(t *testing.T) {
	client := &slowClient{delay: 80 * time.Millisecond}
	rec := NewRecommender(client, Options{
		MinProfileLength: 300,
		CallTimeout:      100 * time.Millisecond,
		Margin:           20 * time.Millisecond,
		Concurrency:      1,
	})
	res, err := rec.Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.Diagnostics.SetsSucceeded != 3 || client.calls.Load() != 3 {
		t.Fatalf("diagnostics = %+v, calls = %d", res.Diagnostics, client.calls.Load())
	}
	if len(res.Consolidated) != 2 || res.Consolidated[0].SupportCount != 3 {
		t.Fatalf("unexpected list %+v", res.Consolidated)
	}
}

func TestRecommendByProfileIDWithDuplicateNames(t *testing.T) {
	sess := session.New([]domain.RawRecord{
		{Name: "Alex Kim", ProfileText: longText("pandemic preparedness")},
		{Name: "Alex Kim", ProfileText: longText("biosecurity policy")},
		{Name: "Carol Chen", ProfileText: longText("vaccine platforms")},
	})
	client := &scriptedClient{byTemp: map[float64]string{
		0.2: reply("P001", "P003"), 0.7: reply("P001"), 1.1: reply("P003"),
	}}
	rec := newRecommender(client)
	matches, err := rec.Search(sess, "Alex Kim")
	if err != nil || len(matches) < 2 {
		t.Fatalf("Search: %v %v", matches, err)
	}
	picked := matches[1].Profile
	res, err := rec.Recommend(context.Background(), sess, Request{Query: picked.Name, ProfileID: picked.ID})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.Target.ProfileID != picked.ID || res.Target.Text != picked.RawText {
		t.Fatalf("picked %s, target resolved to %+v", picked.ID, res.Target)
	}
	if res.Diagnostics.Candidates != 2 {
		t.Fatalf("other Alex Kim should stay a candidate: %+v", res.Diagnostics)
	}
	for _, p := range client.prompts {
		if strings.Contains(p, "["+picked.ID+"]") {
			t.Fatalf("picked profile listed as a candidate")
		}
	}
}

func TestRecommendUnknownProfileID(t *testing.T) {
	client := &scriptedClient{}
	_, err := newRecommender(client).Recommend(context.Background(), newSession(), Request{ProfileID: "P999"})
	if !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if len(client.prompts) != 0 {
		t.Fatalf("model called for unknown profile")
	}
}

func TestRecommendEmptyValidRepliesAreNotFailures(t *testing.T) {
	empty := `{"recommendations":[]}`
	client := &scriptedClient{byTemp: map[float64]string{0.2: empty, 0.7: empty, 1.1: empty}}
	res, err := newRecommender(client).Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("expected empty result, got %v", err)
	}
	if res.Diagnostics.SetsSucceeded != 3 || len(res.Consolidated) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRecommendZeroOptionsFilterShortProfiles(t *testing.T) {
	client := &scriptedClient{byTemp: map[float64]string{0.2: reply("P002"), 0.7: reply("P002"), 1.1: reply("P002")}}
	_, err := NewRecommender(client, Options{CallTimeout: time.Second}).
		Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if strings.Contains(client.prompts[0], "Short Profile") {
		t.Fatalf("short profile listed with default options")
	}

	all := &scriptedClient{byTemp: client.byTemp}
	res, err := NewRecommender(all, Options{CallTimeout: time.Second, DisableLengthFilter: true}).
		Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.Diagnostics.Candidates != 5 || !strings.Contains(all.prompts[0], "Short Profile") {
		t.Fatalf("disabled filter should list every profile, got %d candidates", res.Diagnostics.Candidates)
	}
}

// screeningClient scores pre-screen batches from scores and ranks the
// final prompt's candidates in listed order with topics.
type screeningClient struct {
	mu     sync.Mutex
	scores map[string]int
	final  []string
}

func (c *screeningClient) Name() string { return "screening" }

func (c *screeningClient) Complete(ctx context.Context, text string, temp float64, maxTokens int) (string, error) {
	s := prompt.Parse(text)
	if s.Scoring {
		parts := make([]string, len(s.Candidates))
		for i, cand := range s.Candidates {
			parts[i] = fmt.Sprintf(`{"id":%q,"score":%d}`, cand.ID, c.scores[cand.ID])
		}
		return `{"scores":[` + strings.Join(parts, ",") + `]}`, nil
	}
	c.mu.Lock()
	c.final = append(c.final, text)
	c.mu.Unlock()
	parts := make([]string, len(s.Candidates))
	for i, cand := range s.Candidates {
		parts[i] = fmt.Sprintf(`{"id":%q,"rationale":"Strong fit.","topics":["Topic for %s"]}`, cand.ID, cand.ID)
	}
	return `{"recommendations":[` + strings.Join(parts, ",") + `]}`, nil
}

func TestRecommendPrescreenNarrowsCandidates(t *testing.T) {
	client := &screeningClient{scores: map[string]int{"P002": 4, "P003": 9, "P004": 8, "P005": 3}}
	var progressed atomic.Int32
	rec := NewRecommender(client, Options{
		MinProfileLength: 300,
		CallTimeout:      time.Second,
		Prescreen:        &prescreen.Options{BatchSize: 2, Backoff: time.Millisecond},
		Progress: func(d domain.Direction, done, total int) {
			if d == domain.DirectionGetValue && total == 2 {
				progressed.Add(1)
			}
		},
	})
	res, err := rec.Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	ps := res.Diagnostics.Prescreen
	if ps == nil || ps.Scored != 4 || ps.Kept != 2 || ps.Batches != 2 || ps.MinScore != 8 || ps.Distribution[9] != 1 {
		t.Fatalf("prescreen stats = %+v", ps)
	}
	if progressed.Load() != 2 {
		t.Fatalf("progress called %d times", progressed.Load())
	}
	for _, p := range client.final {
		if strings.Contains(p, "[P002]") || strings.Contains(p, "[P005]") || !strings.Contains(p, "[P003]") {
			t.Fatalf("final prompt not narrowed to pre-screened profiles:\n%s", p)
		}
	}
	var got []string
	for _, r := range res.Consolidated {
		got = append(got, r.ProfileID)
	}
	if want := []string{"P003", "P004"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ranking = %v, want %v", got, want)
	}
	if topics := res.Consolidated[0].Topics; len(topics) != 1 || topics[0] != "Topic for P003" {
		t.Fatalf("topics = %q", topics)
	}
	found := false
	for _, n := range res.Diagnostics.Notes {
		if strings.HasPrefix(n, "pre-screened 4 profiles in 2 batches; 2 scored 8+") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing pre-screen note in %v", res.Diagnostics.Notes)
	}
}

func TestRecommendPrescreenSkippedForSmallCorpus(t *testing.T) {
	client := &screeningClient{}
	rec := NewRecommender(client, Options{
		MinProfileLength:       300,
		CallTimeout:            time.Second,
		Prescreen:              &prescreen.Options{},
		PrescreenMinCandidates: 10,
	})
	res, err := rec.Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.Diagnostics.Prescreen != nil || len(res.Consolidated) != 4 {
		t.Fatalf("pre-screen should not run for 4 candidates: %+v", res.Diagnostics)
	}
}

func TestRecommendPrescreenNobodyPasses(t *testing.T) {
	client := &screeningClient{scores: map[string]int{}}
	before := testutil.ToFloat64(metrics.Recommendations.WithLabelValues("empty_prescreen"))
	rec := NewRecommender(client, Options{MinProfileLength: 300, CallTimeout: time.Second, Prescreen: &prescreen.Options{}})
	res, err := rec.Recommend(context.Background(), newSession(), Request{Query: "Alice Adams"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(res.Consolidated) != 0 || res.Consolidated == nil || len(client.final) != 0 {
		t.Fatalf("expected empty list without a ranking call, got %+v", res)
	}
	if after := testutil.ToFloat64(metrics.Recommendations.WithLabelValues("empty_prescreen")); after != before+1 {
		t.Fatalf("empty_prescreen counter %v -> %v", before, after)
	}
}
