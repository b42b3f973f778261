// Package sink writes extracted records to durable per-endpoint
// destinations. Each endpoint owns its own destination; destinations
// for distinct endpoints are safe to write concurrently.
package sink

import "context"

// Sink opens one destination per endpoint. The destination is
// overwritten on each run.
type Sink interface {
	// Open creates (or truncates) the destination for an endpoint and
	// writes the header row.
	Open(ctx context.Context, endpoint string, header []string) (Destination, error)
}

// Destination receives record batches for a single endpoint.
type Destination interface {
	// Write appends one batch of rows. Row values align with the header
	// passed to Open; absent values arrive as empty strings.
	Write(ctx context.Context, rows [][]string) error

	// Close flushes and finalizes the destination.
	Close(ctx context.Context) error

	// Location describes where the records were written.
	Location() string
}
