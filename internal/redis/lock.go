package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("party lock not acquired")

	// ErrLockUnavailable means Redis could not be reached; fn was not run.
	ErrLockUnavailable = errors.New("party lock store unavailable")
)

// Locker is used by the appointment service to serialize writes that touch
// the same lawyer or client.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

func LawyerKey(lawyerID string) string { return "lock:lawyer:" + lawyerID }

func ClientKey(clientID string) string { return "lock:client:" + clientID }

type redisPartyLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisPartyLocker creates a locker holding one Redis key per party.
// A held key is retried every 50ms until wait elapses.
func NewRedisPartyLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisPartyLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  50 * time.Millisecond,
	}
}

func (l *redisPartyLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	// Sorted acquisition keeps two callers locking {A,B} and {B,A} from deadlocking.
	ordered := dedupeSorted(keys)
	token := uuid.NewString()

	var held []string
	defer func() {
		// release with a fresh context so a cancelled caller still frees its keys
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(relCtx, held[i], token)
		}
	}()

	for _, key := range ordered {
		if err := l.acquire(ctx, key, token); err != nil {
			return err
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisPartyLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("%w: acquire %s: %w", ErrLockUnavailable, key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisPartyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release party lock: %w", err)
	}
	return nil
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
