package busytime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedFeed memoizes an upstream feed in Redis. Calendar APIs are slow and
// rate limited, and the booking UI asks for the same week repeatedly.
type CachedFeed struct {
	inner  Feed
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedFeed(inner Feed, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedFeed {
	return &CachedFeed{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

func cacheKey(lawyerID string, from, to time.Time) string {
	return fmt.Sprintf("busy:%s:%d:%d", lawyerID, from.Unix(), to.Unix())
}

// alignWindow widens [from, to) to whole UTC days so that callers asking
// from "now" share one cache entry per day range.
func alignWindow(from, to time.Time) (time.Time, time.Time) {
	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	if end.Before(to) {
		end = end.Add(24 * time.Hour)
	}
	return start, end
}

func clip(blocks []Block, from, to time.Time) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if from.Before(b.End) && b.Start.Before(to) {
			out = append(out, b)
		}
	}
	return out
}

func (c *CachedFeed) ListBusyBlocks(ctx context.Context, lawyerID string, from, to time.Time) ([]Block, error) {
	start, end := alignWindow(from, to)
	key := cacheKey(lawyerID, start, end)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var blocks []Block
		if uErr := json.Unmarshal(raw, &blocks); uErr == nil {
			return clip(blocks, from, to), nil
		}
		c.log.Warn("discarding corrupt busy cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		// cache trouble is not a reason to skip the upstream
		c.log.Warn("busy cache read failed", zap.String("key", key), zap.Error(err))
	}

	blocks, err := c.inner.ListBusyBlocks(ctx, lawyerID, start, end)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(blocks)
	if err != nil {
		return clip(blocks, from, to), nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("busy cache write failed", zap.String("key", key), zap.Error(err))
	}

	return clip(blocks, from, to), nil
}

// Invalidate drops every cached window of a lawyer, e.g. after a
// confirmation was pushed to their calendar.
func (c *CachedFeed) Invalidate(ctx context.Context, lawyerID string) error {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("busy:%s:*", lawyerID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan busy cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete busy cache: %w", err)
	}
	return nil
}
