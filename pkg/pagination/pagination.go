package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	MaxLimit = 500

	HeaderTotalCount = "X-Total-Count"
)

// Params holds pagination parameters extracted from a request. A zero Limit
// means the caller asked for no paging and gets every row.
type Params struct {
	Limit  int
	Offset int
}

// Unbounded reports whether no limit applies.
func (p Params) Unbounded() bool {
	return p.Limit <= 0
}

// FromContext extracts limit/offset query parameters from the echo context.
// A missing or unusable limit leaves the listing unbounded.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 0 {
		limit = 0
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return !p.Unbounded() && p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page, clamped at 0.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// LinkHeader builds an RFC 8288 Link header value with next/prev relations.
// It returns "" when the page has no neighbours.
func (p Params) LinkHeader(basePath string, total int) string {
	if p.Unbounded() {
		return ""
	}
	var links []string
	if p.HasNext(total) {
		links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="next"`, basePath, p.NextOffset(), p.Limit))
	}
	if p.HasPrevious() {
		links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="prev"`, basePath, p.PreviousOffset(), p.Limit))
	}
	return strings.Join(links, ", ")
}

// SetHeaders writes X-Total-Count and, when applicable, Link on the response.
func SetHeaders(c echo.Context, p Params, total int) {
	h := c.Response().Header()
	h.Set(HeaderTotalCount, strconv.Itoa(total))
	if link := p.LinkHeader(c.Request().URL.Path, total); link != "" {
		h.Set("Link", link)
	}
}
