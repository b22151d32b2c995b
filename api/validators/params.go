package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
)

func paramError(message, field string, extra map[string]any) *pkgerrors.Error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(details)
}

// ParsePathID reads a positive integer route parameter such as {userId}.
func ParsePathID(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return 0, paramError("path parameter required", key, nil)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, paramError("path parameter must be a positive integer", key, nil)
	}
	return id, nil
}

// PathParam returns a trimmed, required string route parameter no longer
// than maxLen bytes.
func PathParam(r *http.Request, key string, maxLen int) (string, error) {
	value := strings.TrimSpace(chi.URLParam(r, key))
	switch {
	case value == "":
		return "", paramError("path parameter required", key, nil)
	case maxLen > 0 && len(value) > maxLen:
		return "", paramError("path parameter too long", key, map[string]any{"max_length": maxLen})
	}
	return value, nil
}

// ParseQueryInt reads an optional integer query value bounded to [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, paramError("query parameter must be numeric", key, nil)
	}
	if value < min || value > max {
		return 0, paramError("query parameter out of range", key, map[string]any{"min": min, "max": max})
	}
	return value, nil
}
