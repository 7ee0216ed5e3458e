// Package busytime models unavailability that originates outside the
// scheduler, such as events on a lawyer's synced calendar.
package busytime

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Block is a read-only busy window, half-open [Start, End).
type Block struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Summary string    `json:"summary,omitempty"`
}

// Feed lists the busy blocks of a lawyer that intersect [from, to).
type Feed interface {
	ListBusyBlocks(ctx context.Context, lawyerID string, from, to time.Time) ([]Block, error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context, lawyerID string, from, to time.Time) ([]Block, error)

func (f FeedFunc) ListBusyBlocks(ctx context.Context, lawyerID string, from, to time.Time) ([]Block, error) {
	return f(ctx, lawyerID, from, to)
}

// NopFeed reports no busy time. Used when no calendar integration is configured.
type NopFeed struct{}

func (NopFeed) ListBusyBlocks(context.Context, string, time.Time, time.Time) ([]Block, error) {
	return nil, nil
}

// Fetch queries feed and never fails: errors are logged and treated as an
// empty result so an unreachable calendar cannot block booking.
func Fetch(ctx context.Context, feed Feed, log *zap.Logger, lawyerID string, from, to time.Time) []Block {
	if feed == nil {
		return nil
	}
	blocks, err := feed.ListBusyBlocks(ctx, lawyerID, from, to)
	if err != nil {
		log.Warn("busy feed unavailable, continuing without external busy time",
			zap.String("lawyer_id", lawyerID),
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Error(err),
		)
		return nil
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start.Before(blocks[j].Start) })
	return blocks
}

// Overlapping returns the first block intersecting [start, end).
// Touching endpoints do not intersect.
func Overlapping(blocks []Block, start, end time.Time) (Block, bool) {
	for _, b := range blocks {
		if start.Before(b.End) && b.Start.Before(end) {
			return b, true
		}
	}
	return Block{}, false
}
