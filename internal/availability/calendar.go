package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const availabilityTitle = "Available"

// WeekStart returns local midnight of the Monday of the week containing t.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d-int(WeekdayOf(t)), 0, 0, 0, 0, t.Location())
}

func atClock(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, day.Location())
}

// ProjectToCalendar anchors every range of every enabled day onto the week
// containing referenceWeekStart. Overlapping ranges are merged first.
// Malformed ranges are skipped; the error lists each of them while the
// returned blocks still cover every valid range.
func ProjectToCalendar(w WeeklyAvailability, referenceWeekStart time.Time) ([]CalendarBlock, error) {
	monday := WeekStart(referenceWeekStart)

	var blocks []CalendarBlock
	var errs []error
	for _, d := range Weekdays {
		day := w.days[d]
		if !day.Enabled || len(day.TimeSlots) == 0 {
			continue
		}

		sp, bad := spans(day.TimeSlots, false)
		for _, err := range bad {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
		}

		date := monday.AddDate(0, 0, int(d))
		for i, s := range sp {
			blocks = append(blocks, CalendarBlock{
				ID:      fmt.Sprintf("avail-%s-%d", d, i),
				Title:   availabilityTitle,
				Start:   atClock(date, s.start),
				End:     atClock(date, s.end),
				Kind:    KindAvailability,
				Movable: true,
			})
		}
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Start.Before(blocks[j].Start) })
	return blocks, errors.Join(errs...)
}

// ReconcileFromCalendar derives the weekly schedule from edited blocks.
// Only AVAILABILITY blocks count. A block that does not end later on the
// same local day cannot be expressed as a range and is ignored.
func ReconcileFromCalendar(blocks []CalendarBlock) WeeklyAvailability {
	w := NewWeeklyAvailability()

	for _, b := range blocks {
		if b.Kind != KindAvailability {
			continue
		}
		end := b.End.In(b.Start.Location())
		sy, sm, sd := b.Start.Date()
		ey, em, ed := end.Date()
		if sy != ey || sm != em || sd != ed || !end.After(b.Start) {
			continue
		}

		r := TimeRange{Start: ClockOf(b.Start), End: ClockOf(end)}
		if r.Start == r.End {
			continue
		}

		d := WeekdayOf(b.Start)
		day := w.days[d]
		day.Enabled = true
		day.TimeSlots = append(day.TimeSlots, r)
		w.days[d] = day
	}

	for i := range w.days {
		slots := w.days[i].TimeSlots
		if len(slots) == 0 {
			w.days[i] = DayAvailability{Enabled: false, TimeSlots: []TimeRange{}}
			continue
		}
		sort.SliceStable(slots, func(a, b int) bool { return slots[a].Start < slots[b].Start })
	}

	return w
}
