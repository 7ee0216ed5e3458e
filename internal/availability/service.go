package availability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/busytime"
)

const maxQueryWindow = 62 * 24 * time.Hour

// Service is the availability side of scheduling: it owns lawyers' weekly
// schedules and derives calendar views and bookable instants from them.
type Service struct {
	repo Repository
	feed busytime.Feed
	loc  *time.Location
	log  *zap.Logger
}

// NewService wires the service. loc is the zone weekly hours are expressed
// in; feed may be nil when no calendar integration exists.
func NewService(repo Repository, feed busytime.Feed, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo: repo,
		feed: feed,
		loc:  loc,
		log:  log.Named("availability"),
	}
}

func (s *Service) Location() *time.Location { return s.loc }

func requireLawyer(lawyerID string) error {
	if strings.TrimSpace(lawyerID) == "" {
		return &ValidationError{Field: "lawyer_id", Value: lawyerID, Reason: "required"}
	}
	return nil
}

// Get returns the stored schedule, or the all-disabled default.
func (s *Service) Get(ctx context.Context, lawyerID string) (WeeklyAvailability, error) {
	if err := requireLawyer(lawyerID); err != nil {
		return WeeklyAvailability{}, err
	}

	w, err := s.repo.Get(ctx, lawyerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewWeeklyAvailability(), nil
		}
		return WeeklyAvailability{}, fmt.Errorf("load availability: %w", err)
	}
	return *w, nil
}

// Set validates every range before writing anything, then stores the
// normalized schedule.
func (s *Service) Set(ctx context.Context, lawyerID string, w WeeklyAvailability) (WeeklyAvailability, error) {
	if err := requireLawyer(lawyerID); err != nil {
		return WeeklyAvailability{}, err
	}
	if err := w.Validate(); err != nil {
		return WeeklyAvailability{}, err
	}

	normalized, err := w.Normalized()
	if err != nil {
		return WeeklyAvailability{}, err
	}

	if err := s.repo.Set(ctx, lawyerID, normalized); err != nil {
		return WeeklyAvailability{}, fmt.Errorf("save availability: %w", err)
	}

	s.log.Info("availability updated", zap.String("lawyer_id", lawyerID))
	return normalized, nil
}

// Calendar projects the schedule onto the week containing weekStart and
// appends the lawyer's external busy blocks as read-only entries.
func (s *Service) Calendar(ctx context.Context, lawyerID string, weekStart time.Time) ([]CalendarBlock, error) {
	w, err := s.Get(ctx, lawyerID)
	if err != nil {
		return nil, err
	}

	monday := WeekStart(weekStart.In(s.loc))
	blocks, err := ProjectToCalendar(w, monday)
	if err != nil {
		s.log.Warn("skipped malformed availability ranges",
			zap.String("lawyer_id", lawyerID),
			zap.Error(err),
		)
	}

	busy := busytime.Fetch(ctx, s.feed, s.log, lawyerID, monday, monday.AddDate(0, 0, daysPerWeek))
	for i, b := range busy {
		title := b.Summary
		if title == "" {
			title = "Busy"
		}
		blocks = append(blocks, CalendarBlock{
			ID:      "external-" + strconv.Itoa(i),
			Title:   title,
			Start:   b.Start.In(s.loc),
			End:     b.End.In(s.loc),
			Kind:    KindExternal,
			Movable: false,
		})
	}

	return blocks, nil
}

// SaveCalendar reconciles edited blocks back into the weekly schedule.
func (s *Service) SaveCalendar(ctx context.Context, lawyerID string, blocks []CalendarBlock) (WeeklyAvailability, error) {
	local := make([]CalendarBlock, len(blocks))
	for i, b := range blocks {
		b.Start = b.Start.In(s.loc)
		b.End = b.End.In(s.loc)
		local[i] = b
	}
	return s.Set(ctx, lawyerID, ReconcileFromCalendar(local))
}

// BookableInstants lists instants in [from, to) at which a consultation of
// durationMinutes fits inside the schedule and clears external busy time.
// Existing appointments are not considered here.
func (s *Service) BookableInstants(ctx context.Context, lawyerID string, from, to time.Time, granularityMinutes, durationMinutes int) ([]time.Time, error) {
	if granularityMinutes <= 0 {
		return nil, &ValidationError{Field: "granularity", Value: strconv.Itoa(granularityMinutes), Reason: "must be positive"}
	}
	if durationMinutes <= 0 {
		return nil, &ValidationError{Field: "duration", Value: strconv.Itoa(durationMinutes), Reason: "must be positive"}
	}
	if to.Sub(from) > maxQueryWindow {
		return nil, &ValidationError{Field: "range", Value: to.Sub(from).String(), Reason: "window too large"}
	}

	w, err := s.Get(ctx, lawyerID)
	if err != nil {
		return nil, err
	}

	instants, err := ExpandToInstants(w, from.In(s.loc), to.In(s.loc), granularityMinutes)
	if err != nil {
		s.log.Warn("skipped malformed availability ranges",
			zap.String("lawyer_id", lawyerID),
			zap.Error(err),
		)
	}
	if len(instants) == 0 {
		return instants, nil
	}

	duration := time.Duration(durationMinutes) * time.Minute
	busy := busytime.Fetch(ctx, s.feed, s.log, lawyerID, from, to.Add(duration))

	out := instants[:0]
	for _, t := range instants {
		end := t.Add(duration)
		if !Covers(w, t, end) {
			continue
		}
		if _, clash := busytime.Overlapping(busy, t, end); clash {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Covers reports whether [start, end) falls inside the lawyer's weekly
// hours. Lawyers who never enabled a day are unrestricted.
func (s *Service) Covers(ctx context.Context, lawyerID string, start, end time.Time) (bool, error) {
	w, err := s.Get(ctx, lawyerID)
	if err != nil {
		return false, err
	}
	if !w.HasEnabledDay() {
		return true, nil
	}
	return Covers(w, start.In(s.loc), end.In(s.loc)), nil
}
