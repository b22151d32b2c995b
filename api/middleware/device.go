package middleware

import (
	"net/http"

	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

// Device tags the request context and log fields with the calling lane
// device, when the request names one.
func Device(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := deviceIDFromRequest(r)
			if deviceID == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithDeviceID(r.Context(), deviceID)
			if logg != nil {
				ctx = logg.WithDeviceID(ctx, deviceID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
