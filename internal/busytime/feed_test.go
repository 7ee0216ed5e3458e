package busytime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var base = time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

func TestFetch_FailsOpen(t *testing.T) {
	feed := FeedFunc(func(context.Context, string, time.Time, time.Time) ([]Block, error) {
		return nil, errors.New("calendar api down")
	})

	got := Fetch(context.Background(), feed, zap.NewNop(), "lawyer-1", base, base.Add(time.Hour))
	assert.Empty(t, got)
}

func TestFetch_NilFeed(t *testing.T) {
	assert.Nil(t, Fetch(context.Background(), nil, zap.NewNop(), "lawyer-1", base, base.Add(time.Hour)))
}

func TestFetch_SortsByStart(t *testing.T) {
	feed := FeedFunc(func(context.Context, string, time.Time, time.Time) ([]Block, error) {
		return []Block{
			{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
			{Start: base, End: base.Add(time.Hour)},
		}, nil
	})

	got := Fetch(context.Background(), feed, zap.NewNop(), "lawyer-1", base, base.Add(4*time.Hour))
	assert.Equal(t, base, got[0].Start)
}

func TestOverlapping(t *testing.T) {
	blocks := []Block{{Start: base, End: base.Add(time.Hour), Summary: "court"}}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", base.Add(15 * time.Minute), base.Add(45 * time.Minute), true},
		{"straddles start", base.Add(-30 * time.Minute), base.Add(30 * time.Minute), true},
		{"touching after", base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"touching before", base.Add(-time.Hour), base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := Overlapping(blocks, tt.start, tt.end)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, "court", b.Summary)
			}
		})
	}
}
