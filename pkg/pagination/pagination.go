// Package pagination implements limit/offset paging for list endpoints.
package pagination

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is a window over an ordered listing.
type Page struct {
	Limit  int
	Offset int
}

// Parse reads ?limit= and ?offset=. Absent, malformed or out-of-range values
// are clamped rather than rejected.
func Parse(c echo.Context) Page {
	p := Page{Limit: DefaultLimit}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		p.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// Response is the envelope returned by paginated endpoints.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Wrap builds the envelope for data, one page of a listing with total rows,
// served at path.
func (p Page) Wrap(path string, data interface{}, total int) *Response {
	r := &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
	r.Links = append(r.Links, Link{"self", p.at(path, p.Offset)})
	if r.HasMore {
		r.Links = append(r.Links, Link{"next", p.at(path, p.Offset+p.Limit)})
	}
	if p.Offset > 0 {
		r.Links = append(r.Links, Link{"previous", p.at(path, max(p.Offset-p.Limit, 0))})
	}
	return r
}

// Respond writes the page as a 200 JSON envelope linked to the request path.
func (p Page) Respond(c echo.Context, data interface{}, total int) error {
	return c.JSON(http.StatusOK, p.Wrap(c.Request().URL.Path, data, total))
}

func (p Page) at(path string, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	return path + "?" + q.Encode()
}
