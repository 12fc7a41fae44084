// Package prescreen narrows a large corpus before the final ranking
// prompt. Candidates are scored 1-10 against the target in fixed-size
// batches issued concurrently; only profiles at or above a threshold go on
// to the recommendation prompt.
package prescreen

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"meetmatch/internal/domain"
	"meetmatch/internal/logging"
	"meetmatch/internal/metrics"
	"meetmatch/internal/prompt"
	"meetmatch/internal/sampler"
)

const (
	DefaultBatchSize   = 50
	DefaultMinScore    = 8
	DefaultMaxRetries  = 2
	DefaultBackoff     = 5 * time.Second
	DefaultTemperature = 0.2
	MaxScore           = 10
)

// Options configures a Screener.
type Options struct {
	BatchSize int
	MinScore  int
	// Concurrency caps in-flight batches; 0 scores every batch at once.
	Concurrency int
	// MaxRetries defaults to DefaultMaxRetries; a negative value disables
	// retries.
	MaxRetries int
	// Backoff is the wait before the first retry; it doubles per attempt.
	Backoff     time.Duration
	CallTimeout time.Duration
	MaxTokens   int
	Temperature float64
	// Progress is called as each batch finishes, with the number of batches
	// done so far and the total.
	Progress func(done, total int)
}

// Result is the outcome of one screen.
type Result struct {
	// Kept holds the profiles scoring at least MinScore, best first, ties in
	// corpus order.
	Kept   []domain.Profile
	Scores map[string]int
	// Distribution counts profiles per score.
	Distribution  map[int]int
	Batches       int
	FailedBatches int
	Failures      []error
}

// Screener scores candidates with a model client.
type Screener struct {
	client domain.ModelClient
	opts   Options
}

// New returns a Screener over client.
func New(client domain.ModelClient, opts Options) *Screener {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = DefaultMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = sampler.DefaultCallTimeout
	}
	return &Screener{client: client, opts: opts}
}

// MinScore is the effective keep threshold.
func (s *Screener) MinScore() int { return s.opts.MinScore }

// Screen scores every candidate of corpus (the target excluded) for b's
// direction. A batch that still fails after its retries leaves its profiles
// unscored; when every batch fails Screen returns
// *domain.AllGenerationsFailedError. The error is ctx.Err() when ctx ends.
func (s *Screener) Screen(ctx context.Context, b *prompt.Builder, target domain.Target, corpus []domain.Profile) (*Result, error) {
	candidates := prompt.Candidates(target, corpus)
	batches := split(candidates, s.opts.BatchSize)
	res := &Result{
		Scores:       make(map[string]int, len(candidates)),
		Distribution: make(map[int]int),
		Batches:      len(batches),
	}
	if len(batches) == 0 {
		return res, nil
	}

	results := make([]batchResult, len(batches))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.opts.Concurrency > 0 {
		g.SetLimit(s.opts.Concurrency)
	}
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			results[i] = s.scoreBatch(gctx, b.BuildScoring(target, batch, len(candidates)), batch, i+1)
			mu.Lock()
			done++
			n := done
			mu.Unlock()
			if s.opts.Progress != nil {
				s.opts.Progress(n, len(batches))
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, br := range results {
		if br.err != nil {
			res.FailedBatches++
			res.Failures = append(res.Failures, br.err)
			continue
		}
		for id, score := range br.scores {
			res.Scores[id] = score
			res.Distribution[score]++
		}
	}
	if res.FailedBatches == len(batches) {
		return nil, &domain.AllGenerationsFailedError{Attempts: len(batches), Causes: res.Failures}
	}

	for _, p := range candidates {
		if score, ok := res.Scores[p.ID]; ok && score >= s.opts.MinScore {
			res.Kept = append(res.Kept, p)
		}
	}
	sort.SliceStable(res.Kept, func(i, j int) bool {
		return res.Scores[res.Kept[i].ID] > res.Scores[res.Kept[j].ID]
	})
	logging.Info().
		Int("scored", len(res.Scores)).
		Int("kept", len(res.Kept)).
		Int("batches", res.Batches).
		Int("failed_batches", res.FailedBatches).
		Int("min_score", s.opts.MinScore).
		Msg("pre-screen done")
	return res, nil
}

type batchResult struct {
	scores map[string]int
	err    error
}

func (s *Screener) scoreBatch(ctx context.Context, text string, batch []domain.Profile, num int) batchResult {
	attempts := s.opts.MaxRetries + 1
	delay := s.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		scores, err := s.call(ctx, text, batch)
		if err == nil {
			metrics.PrescreenBatches.WithLabelValues("ok").Inc()
			return batchResult{scores: scores}
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		metrics.PrescreenBatches.WithLabelValues("retry").Inc()
		logging.Warn().Err(err).Int("batch", num).Int("attempt", attempt).Dur("backoff", delay).Msg("pre-screen batch failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return batchResult{err: ctx.Err()}
		}
		delay *= 2
	}
	metrics.PrescreenBatches.WithLabelValues("failed").Inc()
	logging.Error().Err(lastErr).Int("batch", num).Int("attempts", attempts).Msg("pre-screen batch failed")
	return batchResult{err: fmt.Errorf("batch %d failed after %d attempts: %w", num, attempts, lastErr)}
}

func (s *Screener) call(ctx context.Context, text string, batch []domain.Profile) (map[string]int, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	start := time.Now()
	out, err := s.client.Complete(callCtx, text, s.opts.Temperature, s.opts.MaxTokens)
	took := time.Since(start)
	if err != nil {
		metrics.RecordGeneration(s.client.Name(), "error", took)
		return nil, err
	}
	scores, err := ParseScores(out, batch)
	if err != nil {
		metrics.RecordGeneration(s.client.Name(), "unparseable", took)
		return nil, domain.NewServiceError(domain.ServiceMalformed, err)
	}
	metrics.RecordGeneration(s.client.Name(), "success", took)
	return scores, nil
}

func split(profiles []domain.Profile, size int) [][]domain.Profile {
	var out [][]domain.Profile
	for start := 0; start < len(profiles); start += size {
		end := min(start+size, len(profiles))
		out = append(out, profiles[start:end])
	}
	return out
}
