// Package orchestrator runs record processors across a chosen set of
// endpoints, sequentially or under a bounded worker pool sharing one
// rate-limit budget, and aggregates their results into a run summary.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datalift/callrail-extract/pkg/processor"
	"github.com/datalift/callrail-extract/pkg/registry"
	"github.com/datalift/callrail-extract/pkg/resolver"
	"github.com/datalift/callrail-extract/pkg/sink"
	"github.com/datalift/callrail-extract/pkg/transport"
)

// MaxWorkers bounds the concurrent worker pool. The shared token bucket
// keeps the outbound rate constant regardless of pool size; more
// workers only add scheduling overhead.
const MaxWorkers = 5

// RunSummary is the aggregated, final report of one run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Results are ordered by requested endpoint, not completion order.
	Results []processor.Result

	TotalRecords int
	TotalErrors  int
	Succeeded    int
	Partial      int
	Failed       int
}

// Config holds the orchestrator dependencies.
type Config struct {
	// Registry of endpoint specs. Defaults to registry.Default().
	Registry *registry.Registry

	// Transport executes API requests. Required.
	Transport *transport.Client

	// Sink receives extracted records. Required.
	Sink sink.Sink

	// Reporter consumes progress events. Optional.
	Reporter Reporter

	// Workers is the pool size; 1 (the default) runs endpoints strictly
	// sequentially. Clamped to MaxWorkers.
	Workers int
}

// Orchestrator coordinates one or more extraction runs.
type Orchestrator struct {
	registry  *registry.Registry
	transport *transport.Client
	sink      sink.Sink
	reporter  Reporter
	workers   int
	logger    zerolog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}

	return &Orchestrator{
		registry:  cfg.Registry,
		transport: cfg.Transport,
		sink:      cfg.Sink,
		reporter:  cfg.Reporter,
		workers:   cfg.Workers,
		logger:    log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Run extracts the named endpoints (all registered endpoints when the
// list is empty) and returns the run summary. Per-endpoint failures are
// isolated into their results; Run itself fails only when a global
// prerequisite cannot be met.
func (o *Orchestrator) Run(ctx context.Context, endpoints []string, limit, batchSize int) (*RunSummary, error) {
	if len(endpoints) == 0 {
		endpoints = o.registry.Names()
	}
	if err := o.registry.Validate(endpoints); err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	o.reporter.RunStarted(summary.RunID, endpoints)

	res := resolver.New(o.transport)
	accountID, err := res.AccountID(ctx)
	if err != nil {
		return nil, fmt.Errorf("run prerequisites: %w", err)
	}

	rc := &processor.RunContext{
		AccountID: accountID,
		Companies: res,
		BatchSize: batchSize,
		Limit:     limit,
	}
	proc := processor.New(o.transport, o.sink, o.reporter.PageProcessed)

	results := make([]processor.Result, len(endpoints))
	if o.workers <= 1 {
		for i, name := range endpoints {
			results[i] = o.runEndpoint(ctx, proc, name, rc)
		}
	} else {
		sem := make(chan struct{}, o.workers)
		var wg sync.WaitGroup
		for i, name := range endpoints {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = o.runEndpoint(ctx, proc, name, rc)
			}(i, name)
		}
		wg.Wait()
	}

	summary.Results = results
	for _, r := range results {
		summary.TotalRecords += r.Records
		summary.TotalErrors += len(r.Errors)
		switch r.Status {
		case processor.StatusSuccess:
			summary.Succeeded++
		case processor.StatusPartial:
			summary.Partial++
		case processor.StatusFailed:
			summary.Failed++
		}
	}
	summary.FinishedAt = time.Now()

	o.reporter.RunCompleted(summary)
	return summary, nil
}

// runEndpoint processes one endpoint with coarse progress events. An
// endpoint whose turn comes after cancellation is reported as partial
// with cause "cancelled" so the summary stays complete.
func (o *Orchestrator) runEndpoint(ctx context.Context, proc *processor.Processor, name string, rc *processor.RunContext) processor.Result {
	spec, _ := o.registry.Get(name)

	o.reporter.EndpointStarted(name)
	var result processor.Result
	if ctx.Err() != nil {
		result = processor.Result{
			Endpoint: name,
			Status:   processor.StatusPartial,
			Cause:    "cancelled",
		}
	} else {
		result = proc.Process(ctx, spec, rc)
	}
	o.reporter.EndpointCompleted(result)
	return result
}
