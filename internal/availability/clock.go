package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrValidation = errors.New("validation failed")

// ValidationError describes a malformed availability input.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, &ValidationError{Field: "time", Value: s, Reason: "expected HH:MM"}
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM {
		return 0, &ValidationError{Field: "time", Value: s, Reason: "non-numeric component"}
	}
	if h > 23 {
		return 0, &ValidationError{Field: "time", Value: s, Reason: "hour out of range"}
	}
	if m > 59 {
		return 0, &ValidationError{Field: "time", Value: s, Reason: "minute out of range"}
	}
	return h*60 + m, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ClockOf returns the local "HH:MM" of t.
func ClockOf(t time.Time) string {
	return FormatClock(t.Hour()*60 + t.Minute())
}

func (r TimeRange) bounds() (int, int, error) {
	start, err := ParseClock(r.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseClock(r.End)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, &ValidationError{
			Field:  "range",
			Value:  r.Start + "-" + r.End,
			Reason: "end must be after start",
		}
	}
	return start, end, nil
}

// Validate checks both clock values and their ordering.
func (r TimeRange) Validate() error {
	_, _, err := r.bounds()
	return err
}

type span struct{ start, end int }

// spans parses ranges, skipping the malformed ones and reporting them.
// When mergeTouching is false only strictly overlapping ranges merge.
func spans(ranges []TimeRange, mergeTouching bool) ([]span, []error) {
	var out []span
	var errs []error
	for _, r := range ranges {
		s, e, err := r.bounds()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, span{s, e})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].end < out[j].end
	})

	merged := out[:0]
	for _, sp := range out {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if sp.start < last.end || (mergeTouching && sp.start == last.end) {
				if sp.end > last.end {
					last.end = sp.end
				}
				continue
			}
		}
		merged = append(merged, sp)
	}
	return merged, errs
}

// Normalize sorts a day's ranges and merges the ones that overlap.
// Touching ranges stay separate. Malformed ranges are dropped and returned
// as a joined error.
func Normalize(day DayAvailability) (DayAvailability, error) {
	sp, errs := spans(day.TimeSlots, false)
	out := DayAvailability{Enabled: day.Enabled, TimeSlots: make([]TimeRange, 0, len(sp))}
	for _, s := range sp {
		out.TimeSlots = append(out.TimeSlots, TimeRange{Start: FormatClock(s.start), End: FormatClock(s.end)})
	}
	return out, errors.Join(errs...)
}

// Validate fails if any range of any day is malformed.
func (w WeeklyAvailability) Validate() error {
	var errs []error
	for _, d := range Weekdays {
		for _, r := range w.days[d].TimeSlots {
			if err := r.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Normalized applies Normalize to every day.
func (w WeeklyAvailability) Normalized() (WeeklyAvailability, error) {
	out := NewWeeklyAvailability()
	var errs []error
	for _, d := range Weekdays {
		day, err := Normalize(w.days[d])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
		}
		out.SetDay(d, day)
	}
	return out, errors.Join(errs...)
}
