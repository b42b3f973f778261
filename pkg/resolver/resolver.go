// Package resolver discovers the cross-endpoint prerequisites of a run:
// the account identifier required by nearly every path, and the company
// identifier a subset of endpoints needs. Both are resolved through the
// transport and cached for the remainder of the run.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/datalift/callrail-extract/pkg/transport"
)

// Resolver caches run-scoped identifiers. Safe for concurrent use.
type Resolver struct {
	transport *transport.Client
	logger    zerolog.Logger

	mu          sync.Mutex
	accountID   string
	companyID   string
	companyErr  error
	companyDone bool
}

// New creates a resolver backed by the given transport.
func New(t *transport.Client) *Resolver {
	return &Resolver{
		transport: t,
		logger:    log.With().Str("component", "resolver").Logger(),
	}
}

// AccountID returns the first account visible to the API key, resolving
// it on first call. Failure here is fatal to the whole run; nothing can
// proceed without an account.
func (r *Resolver) AccountID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accountID != "" {
		return r.accountID, nil
	}

	params := url.Values{}
	params.Set("per_page", "1")
	resp, err := r.transport.Execute(ctx, http.MethodGet, "/v3/a.json", params)
	if err != nil {
		return "", fmt.Errorf("resolve account id: %w", err)
	}

	id, err := firstID(resp, "accounts")
	if err != nil {
		return "", fmt.Errorf("resolve account id: %w", err)
	}

	r.accountID = id
	r.logger.Info().Str("account_id", id).Msg("Resolved account id")
	return id, nil
}

// CompanyID returns the first company of the resolved account, querying
// it lazily on first need. The outcome, success or failure, is cached:
// a failed resolution fails every endpoint that requires a company id
// without re-issuing the bootstrap call, and leaves other endpoints
// untouched.
func (r *Resolver) CompanyID(ctx context.Context) (string, error) {
	accountID, err := r.AccountID(ctx)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.companyDone {
		return r.companyID, r.companyErr
	}
	r.companyDone = true

	params := url.Values{}
	params.Set("page", "1")
	params.Set("per_page", "1")
	resp, err := r.transport.Execute(ctx, http.MethodGet, "/v3/a/"+accountID+"/companies.json", params)
	if err != nil {
		r.companyErr = fmt.Errorf("resolve company id: %w", err)
		return "", r.companyErr
	}

	id, err := firstID(resp, "companies")
	if err != nil {
		r.companyErr = fmt.Errorf("resolve company id: %w", err)
		return "", r.companyErr
	}

	r.companyID = id
	r.logger.Info().Str("company_id", id).Msg("Resolved company id")
	return id, nil
}

// firstID pulls the id of the first record from an envelope response.
func firstID(resp *transport.Response, key string) (string, error) {
	var payload map[string]any
	if err := resp.JSON(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	list, ok := payload[key].([]any)
	if !ok || len(list) == 0 {
		return "", fmt.Errorf("no %s visible to this key", key)
	}
	record, ok := list[0].(map[string]any)
	if !ok {
		return "", fmt.Errorf("malformed %s record", key)
	}

	switch id := record["id"].(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("first %s record has empty id", key)
		}
		return id, nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("first %s record has no id", key)
	}
}
