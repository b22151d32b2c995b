// Package idempotency deduplicates at-least-once Pub/Sub deliveries of
// outbox events per consumer.
package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

// Guard claims event ids for one consumer. A claim is a Redis key
// smartpay:idempotency:evt:<consumer>:<event_id> holding the claim time in
// unix seconds; it expires after the retention window, which must outlast
// the subscription's redelivery horizon.
type Guard struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
	now      func() time.Time
}

func NewGuard(store redis.IdempotencyStore, consumer string, retention time.Duration) (*Guard, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case retention < 0:
		return nil, errors.New("retention must be non-negative")
	}
	return &Guard{store: store, consumer: consumer, ttl: retention, now: time.Now}, nil
}

// Claim returns true for the first delivery of eventID and false for every
// later one until the claim expires or is released.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return g.store.SetNX(ctx, g.key(eventID), strconv.FormatInt(g.now().Unix(), 10), g.ttl)
}

// Release drops a claim after a failed handle so the redelivery is processed.
func (g *Guard) Release(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *Guard) key(eventID uuid.UUID) string {
	return g.store.IdempotencyKey("evt:"+g.consumer, eventID.String())
}
