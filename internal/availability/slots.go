package availability

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ExpandToInstants lists the bookable start instants in [rangeStart, rangeEnd).
// Each range yields start, start+g, start+2g, ... while the instant is before
// the range end; a trailing partial step is not padded. Days are walked in
// rangeStart's location. Duplicates collapse and the result is ascending.
func ExpandToInstants(w WeeklyAvailability, rangeStart, rangeEnd time.Time, granularityMinutes int) ([]time.Time, error) {
	if granularityMinutes <= 0 {
		return nil, &ValidationError{
			Field:  "granularity",
			Value:  strconv.Itoa(granularityMinutes),
			Reason: "must be positive",
		}
	}
	if !rangeEnd.After(rangeStart) {
		return []time.Time{}, nil
	}

	step := time.Duration(granularityMinutes) * time.Minute
	loc := rangeStart.Location()
	seen := make(map[int64]time.Time)

	var errs []error
	reported := make(map[Weekday]bool, daysPerWeek)

	y, m, d := rangeStart.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, loc); day.Before(rangeEnd); day = day.AddDate(0, 0, 1) {
		wd := WeekdayOf(day)
		da := w.days[wd]
		if !da.Enabled || len(da.TimeSlots) == 0 {
			continue
		}

		sp, bad := spans(da.TimeSlots, false)
		if len(bad) > 0 && !reported[wd] {
			reported[wd] = true
			for _, err := range bad {
				errs = append(errs, fmt.Errorf("%s: %w", wd, err))
			}
		}

		for _, s := range sp {
			end := atClock(day, s.end)
			for t := atClock(day, s.start); t.Before(end); t = t.Add(step) {
				if t.Before(rangeStart) || !t.Before(rangeEnd) {
					continue
				}
				seen[t.UnixNano()] = t
			}
		}
	}

	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, errors.Join(errs...)
}

// Covers reports whether [start, end) lies inside a single stretch of the
// weekday's availability, evaluated in start's location. Adjacent ranges
// count as one stretch. Windows crossing midnight are never covered.
func Covers(w WeeklyAvailability, start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	end = end.In(start.Location())

	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy != ey || sm != em || sd != ed {
		return false
	}

	day := w.days[WeekdayOf(start)]
	if !day.Enabled {
		return false
	}

	sp, _ := spans(day.TimeSlots, true)
	midnight := time.Date(sy, sm, sd, 0, 0, 0, 0, start.Location())
	for _, s := range sp {
		if !start.Before(atClock(midnight, s.start)) && !end.After(atClock(midnight, s.end)) {
			return true
		}
	}
	return false
}
