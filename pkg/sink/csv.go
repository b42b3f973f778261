package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var rowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "extract_rows_written_total",
	Help: "Total rows written to sinks by endpoint",
}, []string{"endpoint"})

// CSVSink writes one <endpoint>.csv file per endpoint into a directory,
// truncating any previous run's file. When a Mirror is configured,
// finished files are uploaded after Close.
type CSVSink struct {
	dir    string
	mirror *Mirror
	logger zerolog.Logger
}

// NewCSVSink creates a CSV sink rooted at dir, creating it if needed.
func NewCSVSink(dir string, mirror *Mirror) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &CSVSink{
		dir:    dir,
		mirror: mirror,
		logger: log.With().Str("component", "sink").Logger(),
	}, nil
}

// Open implements Sink.
func (s *CSVSink) Open(_ context.Context, endpoint string, header []string) (Destination, error) {
	path := filepath.Join(s.dir, endpoint+".csv")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	s.logger.Debug().
		Str("endpoint", endpoint).
		Str("path", path).
		Int("columns", len(header)).
		Msg("Opened CSV destination")

	return &csvDestination{
		endpoint: endpoint,
		path:     path,
		file:     file,
		writer:   w,
		mirror:   s.mirror,
		logger:   s.logger,
	}, nil
}

type csvDestination struct {
	endpoint string
	path     string
	file     *os.File
	writer   *csv.Writer
	mirror   *Mirror
	logger   zerolog.Logger
}

// Write implements Destination.
func (d *csvDestination) Write(_ context.Context, rows [][]string) error {
	for _, row := range rows {
		if err := d.writer.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	d.writer.Flush()
	if err := d.writer.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	rowsWrittenTotal.WithLabelValues(d.endpoint).Add(float64(len(rows)))
	return nil
}

// Close implements Destination. The local file is always finalized;
// a mirror upload failure is returned but leaves the local artifact
// intact.
func (d *csvDestination) Close(ctx context.Context) error {
	d.writer.Flush()
	flushErr := d.writer.Error()
	closeErr := d.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush destination: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close destination: %w", closeErr)
	}

	if d.mirror != nil {
		if err := d.mirror.Upload(ctx, d.endpoint, d.path); err != nil {
			return fmt.Errorf("mirror %s: %w", d.endpoint, err)
		}
	}
	return nil
}

// Location implements Destination.
func (d *csvDestination) Location() string {
	return d.path
}
