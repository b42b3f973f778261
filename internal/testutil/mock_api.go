// Package testutil provides a configurable mock CallRail API server
// for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// RecordedRequest captures one request the mock server received.
type RecordedRequest struct {
	Path   string
	Query  url.Values
	Header http.Header
	At     time.Time
}

// MockAPI is a configurable mock API server.
type MockAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockAPI creates a mock server. Paths without a registered handler
// answer 404 with a JSON error body.
func NewMockAPI() *MockAPI {
	m := &MockAPI{handlers: make(map[string]http.HandlerFunc)}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			At:     time.Now(),
		})
		handler := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if handler == nil {
			JSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		handler(w, r)
	}))

	return m
}

// URL returns the mock server base URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Handle registers a handler for a path.
func (m *MockAPI) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// Requests returns a copy of all recorded requests.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestsFor returns the recorded requests for one path.
func (m *MockAPI) RequestsFor(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, req := range m.Requests() {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

// RequestCount returns how many requests hit a path.
func (m *MockAPI) RequestCount(path string) int {
	return len(m.RequestsFor(path))
}

// ServeCollection registers a paginated collection handler. The backing
// records are served in order, honoring offset/page/per_page query
// parameters, wrapped in an envelope keyed by key.
func (m *MockAPI) ServeCollection(path, key string, records []map[string]any) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		perPage := len(records)
		if v := q.Get("per_page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				perPage = n
			}
		}

		offset := 0
		if v := q.Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		} else if v := q.Get("page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 1 {
				offset = (n - 1) * perPage
			}
		}

		start := offset
		if start > len(records) {
			start = len(records)
		}
		end := start + perPage
		if end > len(records) {
			end = len(records)
		}

		page := records[start:end]
		if page == nil {
			page = []map[string]any{}
		}
		JSON(w, http.StatusOK, map[string]any{
			key:             page,
			"total_records": len(records),
		})
	})
}

// ServeScript registers a handler cycling through steps, one per
// request; the last step repeats for all further requests.
func (m *MockAPI) ServeScript(path string, steps ...http.HandlerFunc) {
	var mu sync.Mutex
	calls := 0
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		step := calls
		if step >= len(steps) {
			step = len(steps) - 1
		}
		calls++
		mu.Unlock()
		steps[step](w, r)
	})
}

// JSON writes a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Status returns a handler answering a bare status with a JSON error
// body.
func Status(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSON(w, status, map[string]any{"error": http.StatusText(status)})
	}
}

// RateLimited returns a 429 handler with a Retry-After header.
func RateLimited(retryAfterSeconds int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		JSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limited"})
	}
}

// RejectFields returns a 400 handler refusing the named request fields.
func RejectFields(fields ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusBadRequest, map[string]any{
			"error":          "invalid fields requested",
			"invalid_fields": fields,
		})
	}
}
