// Package processor drives one endpoint's pagination cursor through the
// transport, filters records to the endpoint's allow-list, and forwards
// completed batches to the sink. One fixed algorithm, parameterized by
// the endpoint spec.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datalift/callrail-extract/pkg/pagination"
	"github.com/datalift/callrail-extract/pkg/registry"
	"github.com/datalift/callrail-extract/pkg/sink"
	"github.com/datalift/callrail-extract/pkg/transport"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_records_total",
		Help: "Total records extracted by endpoint",
	}, []string{"endpoint"})

	recordErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_record_errors_total",
		Help: "Total records skipped for validation errors by endpoint",
	}, []string{"endpoint"})
)

// Status is the terminal state of one endpoint's extraction.
type Status string

const (
	// StatusSuccess means the endpoint completed without errors.
	StatusSuccess Status = "success"

	// StatusPartial means the endpoint completed but skipped records,
	// hit non-fatal errors, or was cancelled mid-run.
	StatusPartial Status = "partial"

	// StatusFailed means an unrecoverable error stopped the endpoint.
	StatusFailed Status = "failed"
)

// Result is the immutable outcome of one endpoint's extraction.
type Result struct {
	Endpoint string
	Records  int
	Pages    int
	Errors   []string
	Status   Status
	Cause    string
	Output   string
	Duration time.Duration
}

// CompanySource resolves the company identifier on first need.
type CompanySource interface {
	CompanyID(ctx context.Context) (string, error)
}

// RunContext carries the per-run state resolved by the orchestrator.
// Processors read it; they never mutate it.
type RunContext struct {
	AccountID string
	Companies CompanySource
	BatchSize int
	Limit     int
}

// PageFunc receives one fine-grained progress event per processed page.
type PageFunc func(endpoint string, page, records int)

// Processor runs endpoint extractions.
type Processor struct {
	transport *transport.Client
	sink      sink.Sink
	onPage    PageFunc
	logger    zerolog.Logger
}

// New creates a processor. onPage may be nil.
func New(t *transport.Client, s sink.Sink, onPage PageFunc) *Processor {
	return &Processor{
		transport: t,
		sink:      s,
		onPage:    onPage,
		logger:    log.With().Str("component", "processor").Logger(),
	}
}

// Process extracts one endpoint to its sink destination and returns the
// endpoint result. Unrecoverable errors are reflected in the result and
// never propagate past this endpoint.
func (p *Processor) Process(ctx context.Context, spec registry.EndpointSpec, rc *RunContext) Result {
	start := time.Now()
	res := Result{Endpoint: spec.Name, Status: StatusSuccess}
	logger := p.logger.With().Str("endpoint", spec.Name).Logger()

	if spec.RequiresAccountID && rc.AccountID == "" {
		return finish(res, start, StatusFailed, "account id not resolved")
	}

	companyID := ""
	if spec.RequiresCompanyID {
		if rc.Companies == nil {
			return finish(res, start, StatusFailed, "no company resolver configured")
		}
		id, err := rc.Companies.CompanyID(ctx)
		if err != nil {
			return finish(res, start, StatusFailed, fmt.Sprintf("company id not resolved: %v", err))
		}
		companyID = id
	}

	// The allow-list may be narrowed for this run if the server rejects
	// fields; the adjustment never outlives the run.
	allow := spec.AllFields()
	narrowed := false

	path := spec.ResolvePath(rc.AccountID)
	pageSize := rc.BatchSize
	if pageSize <= 0 || pageSize > spec.MaxPerPage {
		pageSize = spec.MaxPerPage
	}
	cursor := pagination.NewCursor(spec.Pagination, pageSize, rc.Limit)

	// columns is frozen when the destination opens; once a column has
	// appeared for the run it is never dropped, only left empty.
	var dest sink.Destination
	var columns []string

	for {
		params, ok := cursor.Next()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			res.Status, res.Cause = StatusPartial, "cancelled"
			break
		}

		req := url.Values{}
		for k, v := range params {
			req[k] = v
		}
		req.Set("fields", strings.Join(allow, ","))
		if companyID != "" {
			req.Set("company_id", companyID)
		}

		resp, err := p.transport.Execute(ctx, http.MethodGet, path, req)
		if err != nil {
			var rejected *transport.FieldRejectedError
			switch {
			case errors.As(err, &rejected):
				if narrowed {
					res.Status, res.Cause = StatusFailed, "field rejection recurred after narrowing: "+err.Error()
				} else if allow = without(allow, rejected.Fields); len(allow) == 0 {
					res.Status, res.Cause = StatusFailed, "all fields rejected"
				} else {
					narrowed = true
					logger.Warn().
						Strs("fields", rejected.Fields).
						Msg("Narrowing field list and resubmitting page")
					continue // same page, cursor not advanced
				}
			case transport.IsNotFound(err):
				// Zero records available. The destination still opens
				// so the previous run's artifact is overwritten.
				logger.Debug().Msg("Endpoint returned 404, treating as empty")
				if dest == nil {
					columns = append([]string(nil), allow...)
					d, openErr := p.sink.Open(ctx, spec.Name, columns)
					if openErr != nil {
						res.Status, res.Cause = StatusFailed, fmt.Sprintf("open destination: %v", openErr)
						break
					}
					dest = d
					res.Output = d.Location()
				}
			case ctx.Err() != nil:
				res.Status, res.Cause = StatusPartial, "cancelled"
			default:
				res.Status, res.Cause = StatusFailed, err.Error()
			}
			break
		}

		records, err := decodeRecords(resp.Body, spec.Name)
		if err != nil {
			res.Status, res.Cause = StatusFailed, fmt.Sprintf("malformed response: %v", err)
			break
		}

		if dest == nil {
			columns = append([]string(nil), allow...)
			d, err := p.sink.Open(ctx, spec.Name, columns)
			if err != nil {
				res.Status, res.Cause = StatusFailed, fmt.Sprintf("open destination: %v", err)
				break
			}
			dest = d
			res.Output = d.Location()
		}

		rows := make([][]string, 0, len(records))
		for i, rec := range records {
			row, err := buildRow(rec, columns, spec.Fields)
			if err != nil {
				recordErrorsTotal.WithLabelValues(spec.Name).Inc()
				res.Errors = append(res.Errors,
					fmt.Sprintf("page %d record %d: %v", res.Pages+1, i, err))
				continue
			}
			rows = append(rows, row)
		}

		if err := dest.Write(ctx, rows); err != nil {
			res.Status, res.Cause = StatusFailed, fmt.Sprintf("write batch: %v", err)
			break
		}

		res.Pages++
		res.Records += len(rows)
		recordsTotal.WithLabelValues(spec.Name).Add(float64(len(rows)))
		if p.onPage != nil {
			p.onPage(spec.Name, res.Pages, len(rows))
		}

		cursor.Advance(len(records))
	}

	if dest != nil {
		if err := dest.Close(ctx); err != nil {
			// The local artifact is already complete; mirror or close
			// problems are recorded but do not change the status.
			res.Errors = append(res.Errors, err.Error())
		}
	}

	if res.Status == StatusSuccess && len(res.Errors) > 0 {
		res.Status = StatusPartial
		if res.Cause == "" {
			res.Cause = "completed with non-fatal errors"
		}
	}
	res.Duration = time.Since(start)

	logger.Info().
		Str("status", string(res.Status)).
		Int("records", res.Records).
		Int("pages", res.Pages).
		Int("errors", len(res.Errors)).
		Dur("duration", res.Duration).
		Msg("Endpoint extraction finished")
	return res
}

// finish stamps a terminal state onto a result.
func finish(res Result, start time.Time, status Status, cause string) Result {
	res.Status = status
	res.Cause = cause
	res.Duration = time.Since(start)
	return res
}

// without returns fields minus the rejected names.
func without(fields, rejected []string) []string {
	drop := make(map[string]bool, len(rejected))
	for _, f := range rejected {
		drop[f] = true
	}
	out := fields[:0]
	for _, f := range fields {
		if !drop[f] {
			out = append(out, f)
		}
	}
	return out
}
