package shared

import (
	"net/url"
	"strconv"
)

// Page describes limit/offset pagination applied to list queries.
type Page struct {
	Limit  int
	Offset int
}

// Clamp normalises the page to sane bounds.
func (p Page) Clamp() Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageFromQuery reads limit/offset query parameters, clamped.
func PageFromQuery(q url.Values) Page {
	var p Page
	p.Limit, _ = strconv.Atoi(q.Get("limit"))
	p.Offset, _ = strconv.Atoi(q.Get("offset"))
	return p.Clamp()
}
