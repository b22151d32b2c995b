package instance

import "github.com/smartpay-pos/smartpay-backend/pkg/env"

// GetID returns the process instance identifier used in logs and outbox
// claim traces. WORKER_ID wins over the platform-provided DYNO.
func GetID() string {
	return env.First("local", "WORKER_ID", "DYNO")
}
