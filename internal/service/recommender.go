// Package service exposes the caller-facing Recommend API over a session.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"meetmatch/internal/config"
	"meetmatch/internal/consolidate"
	"meetmatch/internal/domain"
	"meetmatch/internal/fuzzy"
	"meetmatch/internal/logging"
	"meetmatch/internal/metrics"
	"meetmatch/internal/prescreen"
	"meetmatch/internal/profile"
	"meetmatch/internal/prompt"
	"meetmatch/internal/sampler"
	"meetmatch/internal/session"
)

// DefaultTemperatures are the sampling temperatures of one request.
var DefaultTemperatures = []float64{0.2, 0.7, 1.1}

// Options configures a Recommender.
type Options struct {
	// MinProfileLength defaults to profile.DefaultMinLength when not positive.
	MinProfileLength int
	// DisableLengthFilter makes every loaded profile a candidate.
	DisableLengthFilter bool
	MinSimilarity       float64
	MatchLimit          int
	Temperatures        []float64
	CallTimeout         time.Duration
	// Margin is added to CallTimeout to bound a whole request.
	Margin         time.Duration
	MaxTokens      int
	Concurrency    int
	TopK           int
	DedupThreshold float64
	NameThreshold  float64
	// Prescreen, when set, scores candidates in batches before the ranking
	// prompt whenever a request has more than PrescreenMinCandidates of them.
	Prescreen              *prescreen.Options
	PrescreenMinCandidates int
	// Progress reports finished pre-screen batches.
	Progress func(direction domain.Direction, done, total int)
}

// OptionsFromConfig maps application config onto Options.
func OptionsFromConfig(cfg *config.AppConfig) Options {
	opts := Options{
		MinProfileLength:    cfg.Corpus.MinProfileLength,
		DisableLengthFilter: cfg.Corpus.MinProfileLength == 0,
		MinSimilarity:       cfg.Matcher.MinSimilarity,
		MatchLimit:          cfg.Matcher.Limit,
		Temperatures:        cfg.Sampling.Temperatures,
		CallTimeout:         cfg.CallTimeout(),
		Margin:              time.Duration(cfg.Sampling.MarginSecs) * time.Second,
		Concurrency:         cfg.Sampling.Concurrency,
		TopK:                cfg.Consolidation.TopK,
		DedupThreshold:      cfg.Consolidation.DedupThreshold,
		NameThreshold:       cfg.Consolidation.NameThreshold,
	}
	if cfg.Model.OpenAI != nil {
		opts.MaxTokens = cfg.Model.OpenAI.MaxTokens
	}
	if p := cfg.Prescreen; p.Enabled {
		opts.Prescreen = &prescreen.Options{
			BatchSize:   p.BatchSize,
			MinScore:    p.MinScore,
			Concurrency: p.Concurrency,
			MaxRetries:  p.MaxRetries,
			Backoff:     time.Duration(p.BackoffSecs) * time.Second,
			CallTimeout: opts.CallTimeout,
			MaxTokens:   opts.MaxTokens,
		}
		opts.PrescreenMinCandidates = p.MinCandidates
	}
	return opts
}

// Request is one recommendation request. ProfileText, when set, is used
// verbatim as the target; otherwise ProfileID selects a loaded profile and
// Query is only fuzzy-matched when ProfileID is empty.
type Request struct {
	Query             string
	ProfileID         string
	ProfileText       string
	Name              string
	K                 int
	Direction         domain.Direction
	AdditionalContext string
}

// PrescreenStats summarizes the pre-screen stage of a request.
type PrescreenStats struct {
	Scored        int
	Kept          int
	MinScore      int
	Batches       int
	FailedBatches int
	// Distribution counts scored profiles per score.
	Distribution map[int]int
	Failures     []error
}

// Diagnostics describes how a result was produced.
type Diagnostics struct {
	SetsSucceeded int
	SetsFailed    int
	// Candidates counts eligible profiles other than the target, before any
	// pre-screen.
	Candidates     int
	DroppedEntries int
	SkippedRecords int
	Failures       []error
	Notes          []string
	// Prescreen is nil when the stage did not run.
	Prescreen *PrescreenStats
}

// Result is the outcome of Recommend.
type Result struct {
	RequestID    string
	Target       domain.Target
	Direction    domain.Direction
	Consolidated []domain.Recommendation
	Diagnostics  Diagnostics
	Elapsed      time.Duration
}

// BothResult holds the two directions and the people on both lists.
type BothResult struct {
	GetValue  *Result
	GiveValue *Result
	Overlap   []consolidate.OverlapEntry
}

// Recommender runs the match → prompt → sample → consolidate pipeline.
type Recommender struct {
	client  domain.ModelClient
	matcher *fuzzy.Matcher
	opts    Options
}

// NewRecommender returns a Recommender using client for generation.
func NewRecommender(client domain.ModelClient, opts Options) *Recommender {
	if len(opts.Temperatures) == 0 {
		opts.Temperatures = DefaultTemperatures
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = sampler.DefaultCallTimeout
	}
	if opts.TopK <= 0 {
		opts.TopK = consolidate.DefaultK
	}
	switch {
	case opts.DisableLengthFilter:
		opts.MinProfileLength = 0
	case opts.MinProfileLength <= 0:
		opts.MinProfileLength = profile.DefaultMinLength
	}
	return &Recommender{
		client:  client,
		matcher: fuzzy.NewMatcher(opts.MinSimilarity, opts.MatchLimit),
		opts:    opts,
	}
}

// Search returns the profiles whose names best match query. Targets may
// be any loaded profile, including ones too short to be recommended.
func (r *Recommender) Search(sess *session.Session, query string) ([]fuzzy.Match, error) {
	store, err := sess.Profiles()
	if err != nil {
		return nil, err
	}
	matches := r.matcher.Search(query, store.All())
	if len(matches) == 0 {
		return nil, &domain.NotFoundError{Query: query}
	}
	return matches, nil
}

// ResolveTarget turns a request into a target profile.
func (r *Recommender) ResolveTarget(sess *session.Session, req Request) (domain.Target, error) {
	if text := strings.TrimSpace(req.ProfileText); text != "" {
		return domain.Target{Name: strings.TrimSpace(req.Name), Text: text, Manual: true}, nil
	}
	if req.ProfileID != "" {
		store, err := sess.Profiles()
		if err != nil {
			return domain.Target{}, err
		}
		p, err := store.Get(req.ProfileID)
		if err != nil {
			return domain.Target{}, err
		}
		return domain.Target{Name: p.Name, Text: p.RawText, ProfileID: p.ID}, nil
	}
	matches, err := r.Search(sess, req.Query)
	if err != nil {
		return domain.Target{}, err
	}
	best := matches[0].Profile
	logging.Debug().Str("query", req.Query).Str("id", best.ID).Float64("score", matches[0].Score).Msg("target resolved")
	return domain.Target{Name: best.Name, Text: best.RawText, ProfileID: best.ID}, nil
}

// Recommend generates a consolidated recommendation list for one target.
// A fuzzy miss returns *domain.NotFoundError; when every sample fails it
// returns *domain.AllGenerationsFailedError and no list. An empty eligible
// corpus is not an error.
func (r *Recommender) Recommend(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	start := time.Now()
	store, err := sess.Profiles()
	if err != nil {
		return nil, err
	}
	target, err := r.ResolveTarget(sess, req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrProfileNotFound) {
			metrics.Recommendations.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	direction := req.Direction
	if direction == "" {
		direction = domain.DirectionGetValue
	}
	k := req.K
	if k <= 0 {
		k = r.opts.TopK
	}

	res := &Result{
		RequestID: uuid.NewString(),
		Target:    target,
		Direction: direction,
		Diagnostics: Diagnostics{
			SkippedRecords: sess.Report.Skipped,
		},
	}
	log := logging.With().Str("request", res.RequestID).Str("direction", string(direction)).Logger()
	if sess.Report.Skipped > 0 {
		res.note("%d corpus records skipped as malformed", sess.Report.Skipped)
	}

	eligible := store.Filter(r.opts.MinProfileLength)
	candidates := prompt.Candidates(target, eligible)
	res.Diagnostics.Candidates = len(candidates)
	if len(candidates) == 0 {
		res.Consolidated = []domain.Recommendation{}
		res.note("no eligible candidate profiles (minimum length %d)", r.opts.MinProfileLength)
		res.Elapsed = time.Since(start)
		metrics.Recommendations.WithLabelValues("empty_corpus").Inc()
		log.Warn().Int("loaded", store.Len()).Msg("empty corpus after filtering")
		return res, nil
	}

	builder := prompt.NewBuilder(k, direction, req.AdditionalContext)
	if r.opts.Prescreen != nil && len(candidates) > r.opts.PrescreenMinCandidates {
		kept, err := r.prescreen(ctx, res, builder, eligible)
		if err != nil {
			outcome := "failed"
			if ctx.Err() != nil {
				outcome = "cancelled"
			}
			metrics.Recommendations.WithLabelValues(outcome).Inc()
			log.Error().Err(err).Msg("pre-screen failed")
			return nil, fmt.Errorf("pre-screen candidates: %w", err)
		}
		if len(kept) == 0 {
			res.Consolidated = []domain.Recommendation{}
			res.note("no candidate scored %d or more in the pre-screen; try a lower prescreen.min_score", res.Diagnostics.Prescreen.MinScore)
			res.Elapsed = time.Since(start)
			metrics.Recommendations.WithLabelValues("empty_prescreen").Inc()
			return res, nil
		}
		eligible = kept
	}

	sopts := sampler.Options{
		CallTimeout: r.opts.CallTimeout,
		MaxTokens:   r.opts.MaxTokens,
		Concurrency: r.opts.Concurrency,
	}
	gctx, cancel := context.WithTimeout(ctx, sampler.RequestBudget(sopts, len(r.opts.Temperatures), r.opts.Margin))
	defer cancel()

	text := builder.Build(target, eligible)
	sets, err := sampler.New(r.client, sopts).Generate(gctx, text, r.opts.Temperatures)
	if err != nil {
		metrics.Recommendations.WithLabelValues("cancelled").Inc()
		return nil, fmt.Errorf("generate recommendations: %w", err)
	}

	for _, s := range sets {
		if s.Succeeded() {
			res.Diagnostics.SetsSucceeded++
			continue
		}
		res.Diagnostics.SetsFailed++
		res.Diagnostics.Failures = append(res.Diagnostics.Failures, s.Err)
	}
	if res.Diagnostics.SetsSucceeded == 0 {
		metrics.Recommendations.WithLabelValues("failed").Inc()
		log.Error().Errs("causes", res.Diagnostics.Failures).Msg("all generation calls failed")
		return nil, &domain.AllGenerationsFailedError{Attempts: len(sets), Causes: res.Diagnostics.Failures}
	}

	c := consolidate.New(eligible, consolidate.Options{
		DedupThreshold: r.opts.DedupThreshold,
		NameThreshold:  r.opts.NameThreshold,
		ExcludeID:      target.ProfileID,
	})
	recs, stats := c.Merge(sets, k)
	res.Consolidated = recs
	res.Diagnostics.DroppedEntries = stats.Dropped

	outcome := "ok"
	if res.Diagnostics.SetsFailed > 0 {
		outcome = "partial"
		res.note("%d of %d samples succeeded", res.Diagnostics.SetsSucceeded, len(sets))
	}
	if stats.Dropped > 0 {
		res.note("%d suggested entries did not match an eligible attendee", stats.Dropped)
	}
	res.Elapsed = time.Since(start)
	metrics.Recommendations.WithLabelValues(outcome).Inc()
	log.Info().
		Str("target", target.Name).
		Int("candidates", len(candidates)).
		Int("ranked", len(eligible)).
		Int("sets_ok", res.Diagnostics.SetsSucceeded).
		Int("sets_failed", res.Diagnostics.SetsFailed).
		Int("recommendations", len(recs)).
		Dur("took", res.Elapsed).
		Msg("recommendations ready")
	return res, nil
}

// RecommendBoth runs both directions concurrently and reports the people
// recommended in each.
func (r *Recommender) RecommendBoth(ctx context.Context, sess *session.Session, req Request) (*BothResult, error) {
	var out BothResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		get := req
		get.Direction = domain.DirectionGetValue
		res, err := r.Recommend(gctx, sess, get)
		out.GetValue = res
		return err
	})
	g.Go(func() error {
		give := req
		give.Direction = domain.DirectionGiveValue
		res, err := r.Recommend(gctx, sess, give)
		out.GiveValue = res
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out.Overlap = consolidate.Overlap(out.GetValue.Consolidated, out.GiveValue.Consolidated, r.opts.NameThreshold)
	return &out, nil
}

// prescreen scores eligible in batches and returns the profiles that pass.
func (r *Recommender) prescreen(ctx context.Context, res *Result, b *prompt.Builder, eligible []domain.Profile) ([]domain.Profile, error) {
	opts := *r.opts.Prescreen
	if r.opts.Progress != nil {
		direction := res.Direction
		opts.Progress = func(done, total int) { r.opts.Progress(direction, done, total) }
	}
	s := prescreen.New(r.client, opts)
	out, err := s.Screen(ctx, b, res.Target, eligible)
	if err != nil {
		return nil, err
	}
	res.Diagnostics.Prescreen = &PrescreenStats{
		Scored:        len(out.Scores),
		Kept:          len(out.Kept),
		MinScore:      s.MinScore(),
		Batches:       out.Batches,
		FailedBatches: out.FailedBatches,
		Distribution:  out.Distribution,
		Failures:      out.Failures,
	}
	res.note("pre-screened %d profiles in %d batches; %d scored %d+ (%s)",
		len(out.Scores), out.Batches, len(out.Kept), s.MinScore(), distribution(out.Distribution))
	if out.FailedBatches > 0 {
		res.note("%d of %d pre-screen batches failed; their profiles were not considered", out.FailedBatches, out.Batches)
	}
	return out.Kept, nil
}

// distribution renders score counts high to low, e.g. "10:2 9:5 5:40".
func distribution(d map[int]int) string {
	var parts []string
	for score := prescreen.MaxScore; score >= 0; score-- {
		if n := d[score]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d:%d", score, n))
		}
	}
	return strings.Join(parts, " ")
}

func (res *Result) note(format string, args ...any) {
	res.Diagnostics.Notes = append(res.Diagnostics.Notes, fmt.Sprintf(format, args...))
}
