package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pkgredis "github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

type memoryStore struct {
	values map[string]string
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestRedisLockExclusive(t *testing.T) {
	store := &memoryStore{values: map[string]string{}}
	ctx := context.Background()

	first, err := NewRedisLock(store, "smartpay:cron:lock", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "smartpay:cron:lock", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, second.Release(ctx), "non-owner release is a no-op")
	require.Contains(t, store.values, "smartpay:cron:lock")

	require.NoError(t, first.Release(ctx))
	require.NotContains(t, store.values, "smartpay:cron:lock")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	store := &memoryStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "k", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	delete(store.values, "k")
	require.NoError(t, lock.Release(context.Background()))
}

func TestRedisLockHolderNamesInstance(t *testing.T) {
	t.Setenv("WORKER_ID", "cron-7")
	store := &memoryStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "k", time.Minute)
	require.NoError(t, err)

	holder, err := lock.Holder(context.Background())
	require.NoError(t, err)
	require.Empty(t, holder)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	holder, err = lock.Holder(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cron-7", holder)
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	require.Error(t, err)
	_, err = NewRedisLock(&memoryStore{}, "  ", 0)
	require.Error(t, err)
}
