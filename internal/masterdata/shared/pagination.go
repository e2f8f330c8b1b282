package shared

import (
	"net/http"
	"strconv"
)

// ListFilters represents standard list endpoint filters.
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string

	// Entity specific filters
	SupplierID *int64
}

// FiltersFromQuery parses the standard list query parameters.
func FiltersFromQuery(r *http.Request) ListFilters {
	q := r.URL.Query()
	filters := ListFilters{
		Page:    atoiDefault(q.Get("page"), DefaultPage),
		Limit:   atoiDefault(q.Get("limit"), DefaultLimit),
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
	if filters.Page < 1 {
		filters.Page = DefaultPage
	}
	if filters.Limit < 1 || filters.Limit > MaxLimit {
		filters.Limit = DefaultLimit
	}
	return filters
}

func atoiDefault(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
