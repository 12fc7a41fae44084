// Package sampler fans one prompt out to the model at several temperatures
// and decodes each reply into a candidate set.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"meetmatch/internal/domain"
	"meetmatch/internal/logging"
	"meetmatch/internal/metrics"
)

// DefaultCallTimeout bounds a single generation call.
const DefaultCallTimeout = 90 * time.Second

// Options configures an Orchestrator.
type Options struct {
	CallTimeout time.Duration
	MaxTokens   int
	// Concurrency caps in-flight calls; 0 means one goroutine per temperature.
	Concurrency int
}

// RequestBudget is the time n calls need under opts: with a concurrency
// cap the calls run in ceil(n/Concurrency) waves of CallTimeout each.
func RequestBudget(opts Options, n int, margin time.Duration) time.Duration {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	waves := 0
	if n > 0 {
		waves = 1
		if opts.Concurrency > 0 {
			waves = (n + opts.Concurrency - 1) / opts.Concurrency
		}
	}
	return time.Duration(waves)*timeout + margin
}

// Orchestrator issues the sampled generation calls of one request.
type Orchestrator struct {
	client domain.ModelClient
	opts   Options
}

// New returns an Orchestrator over client.
func New(client domain.ModelClient, opts Options) *Orchestrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Orchestrator{client: client, opts: opts}
}

// Generate runs one call per temperature concurrently. The returned sets
// are in the order of temps regardless of completion order; a failed or
// unparseable call yields a set with Err set. The error return is non-nil
// only when ctx ends first, in which case Generate returns without waiting
// for in-flight calls.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, temps []float64) ([]domain.CandidateSet, error) {
	sets := make([]domain.CandidateSet, len(temps))
	if len(temps) == 0 {
		return sets, nil
	}

	var g errgroup.Group
	if o.opts.Concurrency > 0 {
		g.SetLimit(o.opts.Concurrency)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, temp := range temps {
			i, temp := i, temp
			g.Go(func() error {
				sets[i] = o.sample(ctx, prompt, temp)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return sets, nil
	case <-ctx.Done():
		logging.Warn().Err(ctx.Err()).Int("samples", len(temps)).Msg("generation abandoned")
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) sample(ctx context.Context, prompt string, temp float64) domain.CandidateSet {
	set := domain.CandidateSet{Temperature: temp}
	backend := o.client.Name()

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := o.client.Complete(callCtx, prompt, temp, o.opts.MaxTokens)
	took := time.Since(start)
	if err != nil {
		set.Err = asServiceError(callCtx, err)
		metrics.RecordGeneration(backend, "error", took)
		logging.Warn().Err(set.Err).Float64("temperature", temp).Msg("generation call failed")
		return set
	}

	res := ParseResponse(out)
	if !res.Valid && len(res.Entries) == 0 {
		set.Err = domain.NewServiceError(domain.ServiceMalformed, fmt.Errorf("no candidates in %d-byte response", len(out)))
		metrics.RecordGeneration(backend, "unparseable", took)
		logging.Warn().Float64("temperature", temp).Int("bytes", len(out)).Msg("unparseable generation response")
		return set
	}
	set.Entries = res.Entries
	set.Valid = res.Valid
	metrics.RecordGeneration(backend, "success", took)
	logging.Debug().
		Float64("temperature", temp).
		Int("entries", len(res.Entries)).
		Bool("recovered", res.Recovered).
		Dur("took", took).
		Msg("generation call done")
	return set
}

// asServiceError makes sure every failure carries a ServiceError kind.
func asServiceError(ctx context.Context, err error) error {
	var svcErr *domain.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewServiceError(domain.ServiceTimeout, err)
	}
	return domain.NewServiceError(domain.ServiceTransport, err)
}
