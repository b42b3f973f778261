// Package registry holds the static endpoint table for the CallRail API v3.
// The table is loaded once at startup and consulted read-only by the engine.
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// PaginationStyle selects how the pagination cursor walks an endpoint.
type PaginationStyle string

const (
	// PaginationNone issues a single request with no paging parameters.
	PaginationNone PaginationStyle = "none"

	// PaginationOffset pages with offset/per_page parameters.
	PaginationOffset PaginationStyle = "offset"

	// PaginationPage pages with 1-based page/per_page parameters.
	PaginationPage PaginationStyle = "page"
)

// EndpointSpec is the immutable descriptor for one API collection.
type EndpointSpec struct {
	// Name is the logical endpoint name, which doubles as the JSON
	// envelope key in API responses and the output file stem.
	Name string

	// Path is the request path template. It may contain the
	// {account_id} placeholder.
	Path string

	// Fields are required for every record of this endpoint.
	Fields []string

	// OptionalFields may be absent from individual records.
	OptionalFields []string

	// Pagination selects the cursor style for this endpoint.
	Pagination PaginationStyle

	// MaxPerPage is the server-declared page size ceiling.
	MaxPerPage int

	// RequiresAccountID marks paths containing {account_id}.
	RequiresAccountID bool

	// RequiresCompanyID marks endpoints that need a company_id parameter.
	RequiresCompanyID bool
}

// AllFields returns the required fields followed by the optional fields.
// The returned slice is a copy and safe to mutate.
func (s EndpointSpec) AllFields() []string {
	out := make([]string, 0, len(s.Fields)+len(s.OptionalFields))
	out = append(out, s.Fields...)
	out = append(out, s.OptionalFields...)
	return out
}

// ResolvePath substitutes the account id into the path template.
func (s EndpointSpec) ResolvePath(accountID string) string {
	return strings.ReplaceAll(s.Path, "{account_id}", accountID)
}

// Registry maps endpoint names to their specs.
type Registry struct {
	endpoints map[string]EndpointSpec
}

// Get returns the spec for an endpoint name.
func (r *Registry) Get(name string) (EndpointSpec, bool) {
	spec, ok := r.endpoints[name]
	return spec, ok
}

// Names returns all registered endpoint names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every requested name is registered.
func (r *Registry) Validate(names []string) error {
	var unknown []string
	for _, name := range names {
		if _, ok := r.endpoints[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown endpoints: %s (available: %s)",
			strings.Join(unknown, ", "), strings.Join(r.Names(), ", "))
	}
	return nil
}

// New builds a registry from explicit specs. Used by tests; production
// code uses Default.
func New(specs ...EndpointSpec) *Registry {
	r := &Registry{endpoints: make(map[string]EndpointSpec, len(specs))}
	for _, spec := range specs {
		r.endpoints[spec.Name] = spec
	}
	return r
}

// Default returns the registry for CallRail API v3.
func Default() *Registry {
	return New(
		EndpointSpec{
			Name:   "accounts",
			Path:   "/v3/a.json",
			Fields: []string{"id", "name", "created_at"},
			OptionalFields: []string{
				"numeric_id", "inbound_recording_enabled", "outbound_recording_enabled",
				"hipaa_account", "outbound_recording_on_by_default", "masked_id",
				"outbound_greeting_enabled", "brand_status", "allow_texting",
			},
			Pagination: PaginationNone,
			MaxPerPage: 250,
		},
		EndpointSpec{
			Name: "calls",
			Path: "/v3/a/{account_id}/calls.json",
			Fields: []string{
				"id", "answered", "business_phone_number", "customer_city",
				"customer_country", "customer_name", "customer_phone_number",
				"customer_state", "direction", "duration", "created_at",
				"start_time", "tracking_phone_number", "source", "source_name",
			},
			OptionalFields: []string{
				"recording", "recording_duration", "voicemail", "note",
				"lead_status", "value", "company_id", "device_type",
				"first_call", "prior_calls", "total_calls", "utm_source",
				"utm_medium", "utm_term", "utm_content", "utm_campaign",
				"referrer", "referring_url", "landing_page_url",
				"last_requested_url", "ip_address", "search_keywords",
				"tags", "agent_email", "call_type", "company_name",
				"tracker_id", "transcription", "keywords_spotted",
			},
			Pagination:        PaginationOffset,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name:   "companies",
			Path:   "/v3/a/{account_id}/companies.json",
			Fields: []string{"id", "name", "status", "time_zone", "created_at"},
			OptionalFields: []string{
				"disabled_at", "dni_active", "script_url", "callscore_enabled",
				"lead_scoring_enabled", "callscribe_enabled",
				"keyword_spotting_enabled", "form_capture", "masked_id",
			},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name: "form_submissions",
			Path: "/v3/a/{account_id}/form_submissions.json",
			Fields: []string{
				"id", "company_id", "person_id", "submitter_id", "content",
				"referrer", "referring_url", "landing_page_url",
				"last_requested_url", "created_at", "updated_at",
			},
			OptionalFields: []string{
				"formatted_submitter_phone_number", "utm_source", "utm_medium",
				"utm_term", "utm_content", "utm_campaign", "search_keywords",
				"ip_address", "tags", "value", "lead_status", "note",
			},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name:              "integrations",
			Path:              "/v3/a/{account_id}/integrations.json",
			Fields:            []string{"id", "name", "state", "created_at", "updated_at"},
			OptionalFields:    []string{"integration_data"},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
			RequiresCompanyID: true,
		},
		EndpointSpec{
			Name: "tags",
			Path: "/v3/a/{account_id}/tags.json",
			Fields: []string{
				"id", "name", "tag_level", "color", "background_color",
				"created_at", "updated_at",
			},
			OptionalFields:    []string{"company_id"},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name: "trackers",
			Path: "/v3/a/{account_id}/trackers.json",
			Fields: []string{
				"id", "name", "type", "status", "source", "tracking_number",
				"formatted_tracking_number", "created_at", "updated_at",
			},
			OptionalFields: []string{
				"company_id", "landing_page_url", "referrer", "referrer_domain",
				"utm_source", "utm_medium", "utm_term", "utm_content",
				"utm_campaign", "destination_number", "whisper_message",
				"record_calls", "sms_enabled",
			},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name: "users",
			Path: "/v3/a/{account_id}/users.json",
			Fields: []string{
				"id", "email", "first_name", "last_name", "role",
				"created_at", "updated_at",
			},
			OptionalFields:    []string{"avatar_url", "is_account_admin"},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name: "text_messages",
			Path: "/v3/a/{account_id}/text_messages.json",
			Fields: []string{
				"id", "company_id", "direction", "content",
				"customer_phone_number", "business_phone_number",
				"created_at", "updated_at",
			},
			OptionalFields: []string{
				"customer_name", "formatted_customer_phone_number",
				"conversation_id", "lead_status", "value", "note", "tags",
			},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name:              "notifications",
			Path:              "/v3/a/{account_id}/notifications.json",
			Fields:            []string{"id", "type", "target", "webhook_url", "created_at", "updated_at"},
			OptionalFields:    []string{"company_id", "enabled", "oauth_application_id"},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
		EndpointSpec{
			Name: "outbound_caller_ids",
			Path: "/v3/a/{account_id}/outbound_caller_ids.json",
			Fields: []string{
				"id", "phone_number", "formatted_phone_number", "name",
				"created_at", "updated_at",
			},
			OptionalFields:    []string{"company_id"},
			Pagination:        PaginationPage,
			MaxPerPage:        250,
			RequiresAccountID: true,
		},
	)
}
