// Package pagination parses page/limit/offset query parameters and builds
// the pagination block of list responses.
package pagination

import (
	"net/url"
	"strconv"
)

// Defaults and bounds for list endpoints.
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a resolved page request.
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Meta describes the returned page.
type Meta struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
}

// FromQuery reads page, limit and offset. Missing or invalid values fall
// back to the defaults, limit is capped at MaxLimit, and an explicit
// non-negative offset overrides the offset derived from the page. With an
// explicit offset, Page is the page that offset falls on.
func FromQuery(q url.Values) Params {
	p := Params{
		Page:  positive(q.Get("page"), DefaultPage),
		Limit: positive(q.Get("limit"), DefaultLimit),
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	p.Offset = (p.Page - 1) * p.Limit

	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			p.Offset = v
			p.Page = v/p.Limit + 1
		}
	}
	return p
}

// NewMeta computes the pagination block for total items.
func NewMeta(p Params, total int) Meta {
	totalPages := 0
	if p.Limit > 0 {
		totalPages = (total + p.Limit - 1) / p.Limit
	}
	return Meta{
		Page:        p.Page,
		Limit:       p.Limit,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     p.Offset+p.Limit < total,
		HasPrevious: p.Offset > 0,
	}
}

func positive(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
