package types

import (
	"encoding/json"
	"time"

	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
)

// Envelope is a settlement event as received from Pub/Sub.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateRef  string
	OccurredAt    time.Time
	Payload       json.RawMessage
}
