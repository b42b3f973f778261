package transport

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{404, KindNotFound},
		{429, KindRateLimit},
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
		{400, KindClient},
		{422, KindClient},
	}

	for _, tt := range tests {
		if got := classify(tt.status); got != tt.want {
			t.Errorf("classify(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &APIError{Kind: KindTransient, Message: "request failed", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is() did not find the wrapped cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Error("errors.As() did not find *APIError through wrapping")
	}
}

func TestIsAuthAndIsNotFound(t *testing.T) {
	auth := &APIError{StatusCode: 401, Kind: KindAuth}
	notFound := &APIError{StatusCode: 404, Kind: KindNotFound}

	if !IsAuth(auth) {
		t.Error("IsAuth(auth) = false")
	}
	if IsAuth(notFound) {
		t.Error("IsAuth(notFound) = true")
	}
	if !IsNotFound(notFound) {
		t.Error("IsNotFound(notFound) = false")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound(plain error) = true")
	}
}

func TestRejectedFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "invalid_fields list",
			body: `{"error": "invalid fields requested", "invalid_fields": ["transcription", "tags"]}`,
			want: []string{"transcription", "tags"},
		},
		{
			name: "message pattern",
			body: `{"error": "'keywords_spotted' is not a valid field"}`,
			want: []string{"keywords_spotted"},
		},
		{
			name: "multiple in message",
			body: `{"error": "'foo' is not a valid field, 'bar_2' is not a valid field"}`,
			want: []string{"foo", "bar_2"},
		},
		{
			name: "unrelated error body",
			body: `{"error": "date range too large"}`,
			want: nil,
		},
		{
			name: "not json",
			body: `<html>Bad Request</html>`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rejectedFields([]byte(tt.body))
			if len(got) != len(tt.want) {
				t.Fatalf("rejectedFields() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("rejectedFields()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBodyExcerpt(t *testing.T) {
	if got := bodyExcerpt(nil); got != "empty error body" {
		t.Errorf("bodyExcerpt(nil) = %q", got)
	}
	if got := bodyExcerpt([]byte("  short  ")); got != "short" {
		t.Errorf("bodyExcerpt(short) = %q", got)
	}

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := bodyExcerpt(long)
	if len(got) != 203 {
		t.Errorf("bodyExcerpt(long) length = %d, want 203 (200 + ellipsis)", len(got))
	}
}
