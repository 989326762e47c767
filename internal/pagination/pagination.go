// internal/pagination/pagination.go
// Package pagination parses and clamps offset-based list parameters.
package pagination

import (
	"net/http"
	"strconv"
)

// Default pagination values.
const (
	DefaultPage    = 1
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Page represents offset-based pagination parameters.
type Page struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
}

// Offset returns the offset for database queries.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Limit returns the limit for database queries.
func (p Page) Limit() int {
	return p.PerPage
}

// SetTotal sets the total count and calculates total pages.
func (p *Page) SetTotal(total int) {
	p.Total = total
	if p.PerPage > 0 {
		p.TotalPages = (total + p.PerPage - 1) / p.PerPage
	}
}

// New creates pagination from page number and per-page count, clamping
// out-of-range values.
func New(page, perPage int) Page {
	if page < 1 {
		page = DefaultPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Page{Page: page, PerPage: perPage}
}

// FromRequest extracts pagination from ?page= and ?per_page= query
// parameters, falling back to defaults.
func FromRequest(r *http.Request) Page {
	q := r.URL.Query()
	return New(parseInt(q.Get("page"), DefaultPage), parseInt(q.Get("per_page"), DefaultPerPage))
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
