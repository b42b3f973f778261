package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Kind classifies API errors for handling and observability.
type Kind string

const (
	// KindConfiguration covers missing prerequisites and malformed requests.
	KindConfiguration Kind = "configuration"

	// KindAuth covers 401/403 responses. Fatal to the run.
	KindAuth Kind = "auth"

	// KindNotFound covers 404 responses. Callers treat it as an empty
	// collection, not a failure.
	KindNotFound Kind = "not_found"

	// KindRateLimit covers 429 responses.
	KindRateLimit Kind = "rate_limit"

	// KindTransient covers 5xx responses and network/timeout failures.
	KindTransient Kind = "transient"

	// KindClient covers remaining 4xx responses. Never retried.
	KindClient Kind = "client"
)

// Sentinel errors returned by the transport.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// APIError is a classified upstream API error.
type APIError struct {
	StatusCode int
	Kind       Kind
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// FieldRejectedError reports request fields the server refused. The
// caller may narrow its field list and resubmit the same page once.
type FieldRejectedError struct {
	StatusCode int
	Fields     []string
}

// Error implements the error interface.
func (e *FieldRejectedError) Error() string {
	return fmt.Sprintf("api rejected fields (status %d): %v", e.StatusCode, e.Fields)
}

// IsAuth reports whether err is an authentication/authorization failure.
func IsAuth(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuth
}

// IsNotFound reports whether err is a 404 classification.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// classify maps an HTTP status code to an error kind.
func classify(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindClient
	default:
		return ""
	}
}

// fieldErrorBody is the 400 payload shape when the server refuses
// request fields.
type fieldErrorBody struct {
	Error         string   `json:"error"`
	InvalidFields []string `json:"invalid_fields"`
}

var fieldMessagePattern = regexp.MustCompile(`'([a-z0-9_]+)' is not a valid field`)

// rejectedFields extracts refused field names from a 400 body. Returns
// nil when the body does not describe a field rejection.
func rejectedFields(body []byte) []string {
	var payload fieldErrorBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	if len(payload.InvalidFields) > 0 {
		return payload.InvalidFields
	}

	var fields []string
	for _, m := range fieldMessagePattern.FindAllStringSubmatch(payload.Error, -1) {
		fields = append(fields, m[1])
	}
	return fields
}
