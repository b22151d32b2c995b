package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartpay-pos/smartpay-backend/pkg/instance"
	pkgredis "github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

const defaultLockTTL = 30 * time.Minute

// Lock makes one cron-worker replica the runner for a cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// holderReporter is implemented by locks that can name the current owner.
type holderReporter interface {
	Holder(ctx context.Context) (string, error)
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock is a SETNX lease. The stored value is "<instance>/<token>" so a
// skipped replica can log who is running; the TTL caps how long a crashed
// runner blocks the others.
type RedisLock struct {
	store    redisStore
	key      string
	lease    time.Duration
	instance string
	token    string
}

func NewRedisLock(store redisStore, key string, lease time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case strings.TrimSpace(key) == "":
		return nil, errors.New("lock key is required")
	}
	if lease <= 0 {
		lease = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, lease: lease, instance: instance.GetID()}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := l.instance + "/" + uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.lease)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Holder returns the instance id of the current lease owner, or "" when
// the lock is free.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	value, err := l.store.Get(ctx, l.key)
	if errors.Is(err, pkgredis.ErrNil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", l.key, err)
	}
	holder, _, _ := strings.Cut(value, "/")
	return holder, nil
}

// Release deletes the key only if this lock still holds the lease. After
// expiry another replica may own it.
func (l *RedisLock) Release(ctx context.Context) error {
	token := l.token
	if token == "" {
		return nil
	}
	l.token = ""

	current, err := l.store.Get(ctx, l.key)
	switch {
	case errors.Is(err, pkgredis.ErrNil):
		return nil
	case err != nil:
		return fmt.Errorf("read %s: %w", l.key, err)
	case current != token:
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
