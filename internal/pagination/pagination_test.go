package pagination

import (
	"net/http/httptest"
	"testing"
)

func TestNewClamps(t *testing.T) {
	tests := []struct {
		page, perPage         int
		wantPage, wantPerPage int
	}{
		{1, 20, 1, 20},
		{0, 0, 1, 20},
		{-5, -1, 1, 20},
		{3, 500, 3, 100},
		{2, 1, 2, 1},
	}
	for _, tt := range tests {
		p := New(tt.page, tt.perPage)
		if p.Page != tt.wantPage || p.PerPage != tt.wantPerPage {
			t.Errorf("New(%d, %d) = %d/%d, want %d/%d",
				tt.page, tt.perPage, p.Page, p.PerPage, tt.wantPage, tt.wantPerPage)
		}
	}
}

func TestOffsetAndTotal(t *testing.T) {
	p := New(3, 20)
	if got := p.Offset(); got != 40 {
		t.Errorf("Offset() = %d, want 40", got)
	}
	p.SetTotal(45)
	if p.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", p.TotalPages)
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/issues?page=2&per_page=50", nil)
	p := FromRequest(r)
	if p.Page != 2 || p.PerPage != 50 {
		t.Errorf("FromRequest = %d/%d, want 2/50", p.Page, p.PerPage)
	}

	r = httptest.NewRequest("GET", "/api/issues?page=notanumber", nil)
	p = FromRequest(r)
	if p.Page != DefaultPage || p.PerPage != DefaultPerPage {
		t.Errorf("FromRequest defaults = %d/%d, want %d/%d",
			p.Page, p.PerPage, DefaultPage, DefaultPerPage)
	}
}
