package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeSorted(t *testing.T) {
	got := dedupeSorted([]string{
		ClientKey("c-1"),
		LawyerKey("l-9"),
		ClientKey("c-1"),
		LawyerKey("l-2"),
	})

	assert.Equal(t, []string{"lock:client:c-1", "lock:lawyer:l-2", "lock:lawyer:l-9"}, got)
}

func TestPartyKeysDoNotCollide(t *testing.T) {
	// a lawyer and a client sharing an opaque id must not share a lock key
	assert.NotEqual(t, LawyerKey("same"), ClientKey("same"))
}

func TestWithLockUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisPartyLocker(client, time.Second, 100*time.Millisecond)

	ran := false
	err := locker.WithLock(context.Background(), []string{LawyerKey("l-1"), ClientKey("c-1")}, func(context.Context) error {
		ran = true
		return nil
	})

	require.ErrorIs(t, err, ErrLockUnavailable)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, ran)
}
