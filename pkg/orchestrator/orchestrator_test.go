package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/datalift/callrail-extract/internal/testutil"
	"github.com/datalift/callrail-extract/pkg/processor"
	"github.com/datalift/callrail-extract/pkg/registry"
	"github.com/datalift/callrail-extract/pkg/sink"
	"github.com/datalift/callrail-extract/pkg/transport"
)

// testRegistry defines three simple endpoints under one account.
func testRegistry() *registry.Registry {
	spec := func(name string) registry.EndpointSpec {
		return registry.EndpointSpec{
			Name:              name,
			Path:              "/v3/a/{account_id}/" + name + ".json",
			Fields:            []string{"id", "name"},
			Pagination:        registry.PaginationPage,
			MaxPerPage:        100,
			RequiresAccountID: true,
		}
	}
	return registry.New(spec("alpha"), spec("beta"), spec("gamma"))
}

func newTestOrchestrator(t *testing.T, api *testutil.MockAPI, mutate func(*Config)) *Orchestrator {
	t.Helper()

	cfg := transport.DefaultConfig("orch-test-key")
	cfg.BaseURL = api.URL()
	cfg.MaxRetries = 2
	cfg.BackoffBase = 5 * time.Millisecond

	client, err := transport.New(cfg)
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}

	s, err := sink.NewCSVSink(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewCSVSink() error = %v", err)
	}

	ocfg := Config{
		Registry:  testRegistry(),
		Transport: client,
		Sink:      s,
	}
	if mutate != nil {
		mutate(&ocfg)
	}

	o, err := New(ocfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func serveAccount(api *testutil.MockAPI) {
	api.ServeCollection("/v3/a.json", "accounts", []map[string]any{{"id": "A1"}})
}

func records(name string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": i + 1, "name": name}
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New(empty) error = nil, want transport requirement")
	}

	cfg := transport.DefaultConfig("k")
	client, err := transport.New(cfg)
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	if _, err := New(Config{Transport: client}); err == nil {
		t.Error("New(no sink) error = nil, want sink requirement")
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	serveAccount(api)
	api.ServeCollection("/v3/a/A1/alpha.json", "alpha", records("alpha", 3))
	api.Handle("/v3/a/A1/beta.json", testutil.Status(http.StatusInternalServerError))
	api.ServeCollection("/v3/a/A1/gamma.json", "gamma", records("gamma", 2))

	o := newTestOrchestrator(t, api, nil)
	summary, err := o.Run(context.Background(), []string{"alpha", "beta", "gamma"}, 0, 100)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.RunID == "" {
		t.Error("RunID is empty")
	}
	if len(summary.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(summary.Results))
	}

	// Results keep the requested order regardless of outcome.
	wantOrder := []string{"alpha", "beta", "gamma"}
	for i, r := range summary.Results {
		if r.Endpoint != wantOrder[i] {
			t.Errorf("result %d endpoint = %q, want %q", i, r.Endpoint, wantOrder[i])
		}
	}

	if summary.Results[0].Status != processor.StatusSuccess {
		t.Errorf("alpha status = %q, want success", summary.Results[0].Status)
	}
	if summary.Results[1].Status != processor.StatusFailed {
		t.Errorf("beta status = %q, want failed", summary.Results[1].Status)
	}
	if summary.Results[2].Status != processor.StatusSuccess {
		t.Errorf("gamma status = %q, want success (isolated from beta)", summary.Results[2].Status)
	}

	if summary.Succeeded != 2 || summary.Failed != 1 || summary.Partial != 0 {
		t.Errorf("counts = %d/%d/%d, want 2 succeeded, 1 failed, 0 partial",
			summary.Succeeded, summary.Partial, summary.Failed)
	}
	if summary.TotalRecords != 5 {
		t.Errorf("TotalRecords = %d, want 5", summary.TotalRecords)
	}
	if summary.FinishedAt.Before(summary.StartedAt) {
		t.Error("FinishedAt precedes StartedAt")
	}
}

func TestRun_UnknownEndpoint(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	serveAccount(api)

	o := newTestOrchestrator(t, api, nil)
	_, err := o.Run(context.Background(), []string{"alpha", "bogus"}, 0, 100)
	if err == nil {
		t.Fatal("Run() error = nil, want unknown endpoint error")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error %q does not name the unknown endpoint", err)
	}
	// Validation fails before any request is issued.
	if got := len(api.Requests()); got != 0 {
		t.Errorf("got %d requests, want 0", got)
	}
}

func TestRun_AccountResolutionFatal(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.Handle("/v3/a.json", testutil.Status(http.StatusUnauthorized))

	o := newTestOrchestrator(t, api, nil)
	_, err := o.Run(context.Background(), []string{"alpha"}, 0, 100)
	if err == nil {
		t.Fatal("Run() error = nil, want prerequisite failure")
	}
	if !transport.IsAuth(err) {
		t.Errorf("error %v, want auth classification preserved", err)
	}
	if got := api.RequestCount("/v3/a/A1/alpha.json"); got != 0 {
		t.Errorf("endpoint requests = %d, want 0 after fatal bootstrap", got)
	}
}

func TestRun_EmptySelectionRunsAll(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	serveAccount(api)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		api.ServeCollection("/v3/a/A1/"+name+".json", name, records(name, 1))
	}

	o := newTestOrchestrator(t, api, nil)
	summary, err := o.Run(context.Background(), nil, 0, 100)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Results) != 3 {
		t.Errorf("got %d results, want all 3 registered endpoints", len(summary.Results))
	}
	if summary.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", summary.Succeeded)
	}
}

func TestRun_WorkerPool(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	serveAccount(api)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		api.ServeCollection("/v3/a/A1/"+name+".json", name, records(name, 4))
	}

	o := newTestOrchestrator(t, api, func(cfg *Config) {
		cfg.Workers = 3
	})
	summary, err := o.Run(context.Background(), []string{"alpha", "beta", "gamma"}, 0, 100)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", summary.Succeeded)
	}
	wantOrder := []string{"alpha", "beta", "gamma"}
	for i, r := range summary.Results {
		if r.Endpoint != wantOrder[i] {
			t.Errorf("result %d endpoint = %q, want %q (requested order)", i, r.Endpoint, wantOrder[i])
		}
		if r.Records != 4 {
			t.Errorf("%s records = %d, want 4", r.Endpoint, r.Records)
		}
	}
}

func TestRun_CancellationMarksRemainingPartial(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	serveAccount(api)

	ctx, cancel := context.WithCancel(context.Background())

	api.ServeCollection("/v3/a/A1/alpha.json", "alpha", records("alpha", 2))
	// beta cancels the run while answering; gamma's turn then comes
	// after cancellation.
	api.Handle("/v3/a/A1/beta.json", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		testutil.JSON(w, http.StatusOK, map[string]any{
			"beta": records("beta", 2),
		})
	})
	api.ServeCollection("/v3/a/A1/gamma.json", "gamma", records("gamma", 2))

	o := newTestOrchestrator(t, api, nil)
	summary, err := o.Run(ctx, []string{"alpha", "beta", "gamma"}, 0, 100)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(summary.Results) != 3 {
		t.Fatalf("got %d results, want all 3 reported", len(summary.Results))
	}
	if summary.Results[0].Status != processor.StatusSuccess {
		t.Errorf("alpha status = %q, want success (finished before cancel)", summary.Results[0].Status)
	}

	gamma := summary.Results[2]
	if gamma.Status != processor.StatusPartial || gamma.Cause != "cancelled" {
		t.Errorf("gamma = %q/%q, want partial/cancelled", gamma.Status, gamma.Cause)
	}
	if got := api.RequestCount("/v3/a/A1/gamma.json"); got != 0 {
		t.Errorf("gamma requests = %d, want 0 after cancellation", got)
	}
	if summary.Failed != 0 {
		t.Errorf("Failed = %d, cancellation must not count as failure", summary.Failed)
	}
}

// recordingReporter captures progress events for assertions.
type recordingReporter struct {
	mu        sync.Mutex
	started   []string
	completed []processor.Result
	runs      int
	pages     int
}

func (r *recordingReporter) RunStarted(string, []string) {}

func (r *recordingReporter) EndpointStarted(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, endpoint)
}

func (r *recordingReporter) PageProcessed(string, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages++
}

func (r *recordingReporter) EndpointCompleted(result processor.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, result)
}

func (r *recordingReporter) RunCompleted(*RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func TestRun_ReportsProgress(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	serveAccount(api)
	api.ServeCollection("/v3/a/A1/alpha.json", "alpha", records("alpha", 3))

	rec := &recordingReporter{}
	o := newTestOrchestrator(t, api, func(cfg *Config) {
		cfg.Reporter = rec
	})

	if _, err := o.Run(context.Background(), []string{"alpha"}, 0, 100); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(rec.started) != 1 || rec.started[0] != "alpha" {
		t.Errorf("started events = %v, want [alpha]", rec.started)
	}
	if len(rec.completed) != 1 {
		t.Fatalf("completed events = %d, want 1", len(rec.completed))
	}
	if rec.completed[0].Records != 3 {
		t.Errorf("completed records = %d, want 3", rec.completed[0].Records)
	}
	if rec.pages != 1 {
		t.Errorf("page events = %d, want 1", rec.pages)
	}
	if rec.runs != 1 {
		t.Errorf("run completed events = %d, want 1", rec.runs)
	}
}

func TestNew_ClampsWorkers(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	o := newTestOrchestrator(t, api, func(cfg *Config) {
		cfg.Workers = 50
	})
	if o.workers != MaxWorkers {
		t.Errorf("workers = %d, want clamped to %d", o.workers, MaxWorkers)
	}

	o = newTestOrchestrator(t, api, func(cfg *Config) {
		cfg.Workers = -1
	})
	if o.workers != 1 {
		t.Errorf("workers = %d, want default 1", o.workers)
	}
}
