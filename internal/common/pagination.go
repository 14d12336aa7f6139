package common

import (
	"net/url"
	"strconv"
	"strings"
)

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// ParsePagination extracts page and limit from query values. A zero limit
// means the caller asked for everything.
func ParsePagination(values url.Values, maxLimit int) (page, limit int, err error) {
	page = 1
	if v := strings.TrimSpace(values.Get("page")); v != "" {
		p, convErr := strconv.Atoi(v)
		if convErr != nil || p < 1 {
			return 0, 0, BadRequest("page", "page must be a positive integer", convErr)
		}
		page = p
	}
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		l, convErr := strconv.Atoi(v)
		if convErr != nil || l < 1 {
			return 0, 0, BadRequest("limit", "limit must be a positive integer", convErr)
		}
		limit = l
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, nil
}

// PageBounds returns the slice bounds for page/limit over total items.
func PageBounds(page, limit, total int) (start, end int) {
	if limit <= 0 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	// Compare before multiplying; page is caller input and may be huge.
	if page-1 > total/limit {
		return total, total
	}
	start = (page - 1) * limit
	if start > total {
		start = total
	}
	if limit > total-start {
		return start, total
	}
	return start, start + limit
}
