package enums

// OutboxAggregateType is outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateSettlement OutboxAggregateType = "settlement"
	AggregateWallet     OutboxAggregateType = "wallet"
)

var aggregateTypes = newSet("aggregate type", AggregateSettlement, AggregateWallet)

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.contains(a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return aggregateTypes.parse(value)
}

// OutboxEventType is outbox_events.event_type and the event_type message
// attribute.
type OutboxEventType string

const EventSettlementCompleted OutboxEventType = "settlement_completed"

var eventTypes = newSet("event type", EventSettlementCompleted)

func (e OutboxEventType) IsValid() bool { return eventTypes.contains(e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return eventTypes.parse(value)
}

// OutboxDLQErrorReason records why the publisher parked an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var dlqReasons = newSet("dlq reason", OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable)

func (r OutboxDLQErrorReason) IsValid() bool { return dlqReasons.contains(r) }
