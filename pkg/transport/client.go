// Package transport executes authenticated CallRail API requests with
// retry, backoff, and rate-limit handling. It has no knowledge of
// endpoints or business data.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datalift/callrail-extract/pkg/ratelimit"
)

// Prometheus metrics for API request attempts.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_requests_total",
		Help: "Total API request attempts by path and status",
	}, []string{"path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "extract_request_duration_seconds",
		Help:    "API request duration in seconds by path",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"path"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_errors_total",
		Help: "Total API errors by kind",
	}, []string{"kind"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_retries_total",
		Help: "Total retry attempts by error kind",
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"kind"})
)

// Config holds the transport configuration.
type Config struct {
	// BaseURL of the API, without trailing slash.
	BaseURL string

	// APIKey is the opaque credential applied to every request. It is
	// never echoed in logs, errors, or metrics.
	APIKey string

	// Timeout per request attempt.
	Timeout time.Duration

	// MaxRetries is the total attempt ceiling for transient failures.
	MaxRetries int

	// BackoffBase is the first retry delay; attempt n waits base * 2^n.
	BackoffBase time.Duration

	// RetryAfterDefault is the 429 wait when the server sends no
	// Retry-After header.
	RetryAfterDefault time.Duration

	// Limiter gates outbound requests. Optional; nil means no gating.
	Limiter *ratelimit.Limiter

	// HTTPClient overrides the underlying client (for tests).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:           "https://api.callrail.com",
		APIKey:            apiKey,
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		BackoffBase:       1 * time.Second,
		RetryAfterDefault: 60 * time.Second,
	}
}

// Response is a completed API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// Client executes API requests.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
}

// New creates a transport client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 1 * time.Second
	}
	if cfg.RetryAfterDefault <= 0 {
		cfg.RetryAfterDefault = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		limiter:    cfg.Limiter,
		logger:     log.With().Str("component", "transport").Logger(),
	}, nil
}

// Execute performs one logical API request. Transient failures are
// retried with exponential backoff up to the attempt ceiling; 429
// responses wait out the server-issued window without consuming a
// retry slot; remaining 4xx responses return immediately classified.
func (c *Client) Execute(ctx context.Context, method, path string, params url.Values) (*Response, error) {
	attempts := 0
	rateLimitWaits := 0
	var lastErr error

	for {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, method, path, params)
		if err != nil {
			// Network or timeout failure.
			errorsTotal.WithLabelValues(string(KindTransient)).Inc()
			lastErr = &APIError{Kind: KindTransient, Message: "request failed", Err: err}

			attempts++
			if attempts >= c.config.MaxRetries {
				break
			}
			retriesTotal.WithLabelValues(string(KindTransient)).Inc()
			if err := c.backoff(ctx, attempts-1, KindTransient); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		kind := classify(resp.StatusCode)
		errorsTotal.WithLabelValues(string(kind)).Inc()

		switch kind {
		case KindRateLimit:
			rateLimitWaits++
			if rateLimitWaits > c.config.MaxRetries {
				lastErr = &APIError{
					StatusCode: resp.StatusCode,
					Kind:       KindRateLimit,
					Message:    "rate limited",
				}
				retryExhaustedTotal.WithLabelValues(string(KindRateLimit)).Inc()
				return nil, fmt.Errorf("%w after %d rate limit waits: %v",
					ErrRetryExhausted, rateLimitWaits, lastErr)
			}
			if err := c.waitRetryAfter(ctx, resp.Header); err != nil {
				return nil, err
			}
			continue

		case KindTransient:
			lastErr = &APIError{
				StatusCode: resp.StatusCode,
				Kind:       KindTransient,
				Message:    http.StatusText(resp.StatusCode),
			}
			attempts++
			if attempts >= c.config.MaxRetries {
				break
			}
			retriesTotal.WithLabelValues(string(KindTransient)).Inc()
			if err := c.backoff(ctx, attempts-1, KindTransient); err != nil {
				return nil, err
			}
			continue

		case KindClient:
			if fields := rejectedFields(resp.Body); len(fields) > 0 {
				return nil, &FieldRejectedError{
					StatusCode: resp.StatusCode,
					Fields:     fields,
				}
			}
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Kind:       KindClient,
				Message:    bodyExcerpt(resp.Body),
			}

		default:
			// Auth and not-found are terminal without retry.
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Kind:       kind,
				Message:    http.StatusText(resp.StatusCode),
			}
		}
		break
	}

	retryExhaustedTotal.WithLabelValues(string(KindTransient)).Inc()
	c.logger.Warn().
		Str("path", path).
		Int("max_retries", c.config.MaxRetries).
		Msg("Retry attempts exhausted")
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.config.MaxRetries, lastErr)
}

// attempt executes a single HTTP request and reports it.
func (c *Client) attempt(ctx context.Context, method, path string, params url.Values) (*Response, error) {
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	// The attempt runs detached from the run context: cancellation
	// suppresses further requests but lets an in-flight page finish,
	// bounded by the client timeout. Budget, cooldown, and backoff
	// waits stay cancellable.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Token token=%q", c.config.APIKey))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("HTTP request failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(path, "read_error").Inc()
		return nil, fmt.Errorf("read body: %w", err)
	}

	requestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("API request")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// backoff sleeps for base * 2^attempt, respecting cancellation.
func (c *Client) backoff(ctx context.Context, attempt int, kind Kind) error {
	delay := c.config.BackoffBase << uint(attempt)
	c.logger.Debug().
		Str("kind", string(kind)).
		Int("attempt", attempt+1).
		Dur("backoff", delay).
		Msg("Retrying request after backoff")

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// waitRetryAfter waits out a 429 window and publishes it to the shared
// limiter so sibling workers hold off too.
func (c *Client) waitRetryAfter(ctx context.Context, header http.Header) error {
	wait := c.config.RetryAfterDefault
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
	}

	c.logger.Warn().
		Dur("retry_after", wait).
		Msg("Rate limited, waiting before retry")

	if c.limiter != nil {
		c.limiter.StartCooldown(ctx, wait)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-time.After(wait):
		return nil
	}
}

// bodyExcerpt trims an error body for inclusion in error messages.
func bodyExcerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty error body"
	}
	return s
}
