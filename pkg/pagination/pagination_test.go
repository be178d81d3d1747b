package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"limit=5", 5, 0},
		{"limit=500", MaxLimit, 0},
		{"limit=-1", DefaultLimit, 0},
		{"limit=10&offset=30", 10, 30},
		{"offset=-4", DefaultLimit, 0},
		{"limit=10&page=3", 10, 20},
		{"limit=10&page=3&offset=5", 10, 5},
		{"page=0", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(t, tt.query)
			if p.Limit != tt.limit {
				t.Errorf("limit: expected %d, got %d", tt.limit, p.Limit)
			}
			if p.Offset != tt.offset {
				t.Errorf("offset: expected %d, got %d", tt.offset, p.Offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, Params{Limit: 2, Offset: 2})
	if !r.HasMore {
		t.Error("expected has_more")
	}
	if r.NextOffset == nil || *r.NextOffset != 4 {
		t.Errorf("expected next offset 4, got %v", r.NextOffset)
	}

	last := NewResponse([]string{"e"}, 5, Params{Limit: 2, Offset: 4})
	if last.HasMore || last.NextOffset != nil {
		t.Errorf("expected last page, got %+v", last)
	}
}
