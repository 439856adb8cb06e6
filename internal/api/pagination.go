package api

import (
	"net/http"
	"strconv"
)

// Page bounds for list endpoints. The service caps limit again on its side.
const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// pageParams holds parsed pagination values from query params.
type pageParams struct {
	Page   int
	Limit  int
	Offset int
}

// PaginatedResponse wraps list data with pagination metadata.
type PaginatedResponse struct {
	Data       any            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta contains pagination metadata for the response.
type PaginationMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads page and limit, falling back to the defaults on
// missing or out-of-range values.
func parsePagination(r *http.Request) pageParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return pageParams{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

func newPaginatedResponse(data any, p pageParams, total int) PaginatedResponse {
	totalPages := (total + p.Limit - 1) / p.Limit
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    p.Page < totalPages,
		},
	}
}
