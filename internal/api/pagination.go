package api

import (
	"net/http"
	"strconv"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// parsePaginationParams reads ?limit= and ?offset=. Out of range values fall
// back to the defaults.
func parsePaginationParams(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
