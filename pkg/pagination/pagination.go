// Package pagination implements keyset paging over id-descending queries.
// Cursors are opaque to clients and carry only the last id served.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100

	cursorPrefix = "before:"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds the raw paging inputs from a request.
type Params struct {
	Limit  int
	Cursor string
}

// NormalizeLimit clamps a requested page size into [1, MaxLimit], falling
// back to DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// FetchLimit is the row count to query: one past the page so the caller
// can tell whether another page exists.
func FetchLimit(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor returns the cursor that resumes strictly below id.
func EncodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(id, 10)))
}

// DecodeCursor returns the id to page below. An empty cursor yields 0,
// meaning start from the newest row.
func DecodeCursor(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	idText, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidCursor
	}
	return id, nil
}

// Trim cuts rows fetched with FetchLimit down to the page and, when more
// rows remain, returns the cursor for the next page.
func Trim[T any](rows []T, limit int, idOf func(T) int64) ([]T, string) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return rows, ""
	}
	page := rows[:limit]
	return page, EncodeCursor(idOf(page[limit-1]))
}
