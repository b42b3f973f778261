// Package metrics documents the Prometheus metrics exposed by the
// extraction engine. All metrics are defined in their respective
// packages (transport, ratelimit, processor, sink) via promauto to
// keep registration next to the code that drives them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
var Registry = prometheus.DefaultRegisterer

// Metrics Reference
//
// Transport (pkg/transport):
//   - extract_requests_total{path, status} (Counter): request attempts
//   - extract_request_duration_seconds{path} (Histogram): attempt duration
//   - extract_errors_total{kind} (Counter): errors by classification
//   - extract_retries_total{kind} (Counter): retry attempts
//   - extract_retry_exhausted_total{kind} (Counter): exhausted retry budgets
//
// Rate limiting (pkg/ratelimit):
//   - extract_budget_wait_seconds (Histogram): waits on the shared budget
//   - extract_cooldowns_total (Counter): server-issued cooldown windows
//   - extract_cooldown_waits_total (Counter): requests that waited one out
//
// Processing (pkg/processor):
//   - extract_records_total{endpoint} (Counter): records extracted
//   - extract_record_errors_total{endpoint} (Counter): records skipped
//
// Sink (pkg/sink):
//   - extract_rows_written_total{endpoint} (Counter): rows written
//
// Example queries:
//
//   # Request error rate
//   rate(extract_errors_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(extract_request_duration_seconds_bucket[5m]))
//
//   # Throughput per endpoint
//   rate(extract_records_total[5m])
