package pagination

import (
	"net/url"
	"strconv"

	"github.com/datalift/callrail-extract/pkg/registry"
)

// Cursor is the per-endpoint pagination state machine. It produces the
// paging parameters for successive requests and knows when the data is
// exhausted. A cursor is owned by exactly one record processor and must
// not be shared.
type Cursor struct {
	style    registry.PaginationStyle
	pageSize int
	limit    int

	offset    int
	page      int
	fetched   int
	requested int
	exhausted bool
}

// NewCursor creates a cursor. pageSize is the per-request record count
// ceiling; limit is the total record ceiling for the run (0 = unlimited).
func NewCursor(style registry.PaginationStyle, pageSize, limit int) *Cursor {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Cursor{
		style:    style,
		pageSize: pageSize,
		limit:    limit,
		page:     1,
	}
}

// Next returns the paging parameters for the next request, or ok=false
// when the cursor is exhausted. Calling Next again without an
// intervening Advance returns parameters for the same page, which is
// how a caller resubmits a page with an adjusted field list.
func (c *Cursor) Next() (url.Values, bool) {
	if c.exhausted {
		return nil, false
	}

	c.requested = c.pageSize
	if c.limit > 0 {
		if remaining := c.limit - c.fetched; remaining < c.requested {
			c.requested = remaining
		}
	}
	if c.requested <= 0 {
		c.exhausted = true
		return nil, false
	}

	params := url.Values{}
	switch c.style {
	case registry.PaginationOffset:
		params.Set("offset", strconv.Itoa(c.offset))
		params.Set("per_page", strconv.Itoa(c.requested))
	case registry.PaginationPage:
		params.Set("page", strconv.Itoa(c.page))
		params.Set("per_page", strconv.Itoa(c.requested))
	}
	return params, true
}

// Advance records the count of records actually returned for the page
// last produced by Next. The offset advances by the actual count, not
// the requested size, so a short-delivering server keeps the walk
// correct; over-delivery is tolerated the same way. A short or empty
// page marks the cursor exhausted, as does reaching the run limit.
// Exhaustion is monotonic.
func (c *Cursor) Advance(returned int) {
	c.fetched += returned
	c.offset += returned
	c.page++

	switch {
	case c.style == registry.PaginationNone:
		c.exhausted = true
	case returned < c.requested || returned == 0:
		c.exhausted = true
	case c.limit > 0 && c.fetched >= c.limit:
		c.exhausted = true
	}
}

// Fetched returns the total records fetched so far.
func (c *Cursor) Fetched() int {
	return c.fetched
}

// Exhausted reports whether the cursor has reached the end of data.
func (c *Cursor) Exhausted() bool {
	return c.exhausted
}
