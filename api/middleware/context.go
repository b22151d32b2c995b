package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	ctxDeviceID contextKey = "device_id"

	deviceIDHeader = "X-Device-Id"
	deviceIDParam  = "deviceId"
)

func DeviceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxDeviceID).(string); ok {
		return v
	}
	return ""
}

// WithDeviceID injects the lane device identifier into the context.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxDeviceID, deviceID)
}

// deviceIDFromRequest prefers the {deviceId} route param, then a value an
// outer middleware already stored, then the header.
func deviceIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(chi.URLParam(r, deviceIDParam)); id != "" {
		return id
	}
	if id := DeviceIDFromContext(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(deviceIDHeader))
}
