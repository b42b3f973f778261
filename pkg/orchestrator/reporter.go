package orchestrator

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datalift/callrail-extract/pkg/processor"
)

// Reporter consumes progress events: one coarse event per endpoint
// started/completed, one fine event per processed page, and run
// boundaries. Implementations must be safe for concurrent use when the
// orchestrator runs a worker pool.
type Reporter interface {
	RunStarted(runID string, endpoints []string)
	EndpointStarted(endpoint string)
	PageProcessed(endpoint string, page, records int)
	EndpointCompleted(result processor.Result)
	RunCompleted(summary *RunSummary)
}

// LogReporter emits progress events as structured log lines.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter writing through the global logger.
func NewLogReporter() *LogReporter {
	return &LogReporter{logger: log.With().Str("component", "progress").Logger()}
}

// RunStarted implements Reporter.
func (r *LogReporter) RunStarted(runID string, endpoints []string) {
	r.logger.Info().
		Str("run_id", runID).
		Strs("endpoints", endpoints).
		Int("count", len(endpoints)).
		Msg("Run started")
}

// EndpointStarted implements Reporter.
func (r *LogReporter) EndpointStarted(endpoint string) {
	r.logger.Info().Str("endpoint", endpoint).Msg("Endpoint started")
}

// PageProcessed implements Reporter.
func (r *LogReporter) PageProcessed(endpoint string, page, records int) {
	r.logger.Debug().
		Str("endpoint", endpoint).
		Int("page", page).
		Int("records", records).
		Msg("Page processed")
}

// EndpointCompleted implements Reporter.
func (r *LogReporter) EndpointCompleted(result processor.Result) {
	event := r.logger.Info()
	if result.Status == processor.StatusFailed {
		event = r.logger.Error()
	}
	event.
		Str("endpoint", result.Endpoint).
		Str("status", string(result.Status)).
		Int("records", result.Records).
		Int("errors", len(result.Errors)).
		Str("output", result.Output).
		Dur("duration", result.Duration).
		Msg("Endpoint completed")
}

// RunCompleted implements Reporter.
func (r *LogReporter) RunCompleted(summary *RunSummary) {
	r.logger.Info().
		Str("run_id", summary.RunID).
		Int("total_records", summary.TotalRecords).
		Int("total_errors", summary.TotalErrors).
		Int("succeeded", summary.Succeeded).
		Int("partial", summary.Partial).
		Int("failed", summary.Failed).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Run completed")
}

// nopReporter discards all events.
type nopReporter struct{}

func (nopReporter) RunStarted(string, []string)          {}
func (nopReporter) EndpointStarted(string)               {}
func (nopReporter) PageProcessed(string, int, int)       {}
func (nopReporter) EndpointCompleted(processor.Result)   {}
func (nopReporter) RunCompleted(*RunSummary)             {}
