package shared

import (
	"net/http"
	"strconv"
)

// Page size bounds for listings.
const (
	DefaultPerPage = 20
	MaxPerPage     = 50
)

// ClampPage normalises page and perPage into the supported range.
func ClampPage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}

// PageFromRequest reads the page and perPage query parameters.
func PageFromRequest(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	return ClampPage(page, perPage)
}
