package availability

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Weekday enumerates the seven keys of a weekly availability, Monday first.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

const daysPerWeek = 7

var weekdayKeys = [daysPerWeek]string{
	"monday",
	"tuesday",
	"wednesday",
	"thursday",
	"friday",
	"saturday",
	"sunday",
}

var weekdayByKey = func() map[string]Weekday {
	m := make(map[string]Weekday, daysPerWeek)
	for i, k := range weekdayKeys {
		m[k] = Weekday(i)
	}
	return m
}()

// Weekdays lists every day in storage order.
var Weekdays = [daysPerWeek]Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayKeys[d]
}

// ParseWeekday maps a lower-case day key back to its Weekday.
func ParseWeekday(key string) (Weekday, bool) {
	d, ok := weekdayByKey[key]
	return d, ok
}

// WeekdayOf returns the Weekday of t in t's own location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % daysPerWeek)
}

// TimeWeekday converts to the standard library's Sunday-first numbering.
func (d Weekday) TimeWeekday() time.Weekday {
	return time.Weekday((int(d) + 1) % daysPerWeek)
}

// TimeRange is a recurring local "HH:MM" window, half-open [Start, End).
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DayAvailability struct {
	Enabled   bool        `json:"enabled"`
	TimeSlots []TimeRange `json:"timeSlots"`
}

// WeeklyAvailability is the canonical recurring schedule of one lawyer.
// It always carries all seven days.
type WeeklyAvailability struct {
	days [daysPerWeek]DayAvailability
}

// NewWeeklyAvailability returns a week with every day disabled.
func NewWeeklyAvailability() WeeklyAvailability {
	var w WeeklyAvailability
	for i := range w.days {
		w.days[i] = DayAvailability{TimeSlots: []TimeRange{}}
	}
	return w
}

func (w WeeklyAvailability) Day(d Weekday) DayAvailability {
	return w.days[d]
}

func (w *WeeklyAvailability) SetDay(d Weekday, day DayAvailability) {
	if day.TimeSlots == nil {
		day.TimeSlots = []TimeRange{}
	}
	w.days[d] = day
}

// HasEnabledDay reports whether at least one day accepts bookings.
func (w WeeklyAvailability) HasEnabledDay() bool {
	for _, day := range w.days {
		if day.Enabled && len(day.TimeSlots) > 0 {
			return true
		}
	}
	return false
}

func (w WeeklyAvailability) MarshalJSON() ([]byte, error) {
	out := make(map[string]DayAvailability, daysPerWeek)
	for _, d := range Weekdays {
		day := w.days[d]
		if day.TimeSlots == nil {
			day.TimeSlots = []TimeRange{}
		}
		out[d.String()] = day
	}
	return json.Marshal(out)
}

// UnmarshalJSON substitutes the disabled default for missing days and
// rejects unknown day keys.
func (w *WeeklyAvailability) UnmarshalJSON(data []byte) error {
	var in map[string]DayAvailability
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	next := NewWeeklyAvailability()
	for key, day := range in {
		d, ok := ParseWeekday(key)
		if !ok {
			return &ValidationError{Field: "weekday", Value: key, Reason: "unknown day"}
		}
		next.SetDay(d, day)
	}

	*w = next
	return nil
}

type BlockKind string

const (
	KindAvailability BlockKind = "AVAILABILITY"
	KindExternal     BlockKind = "EXTERNAL"
)

// CalendarBlock is an editing projection of availability or external busy
// time onto concrete dates.
type CalendarBlock struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Kind    BlockKind `json:"kind"`
	Movable bool      `json:"movable"`
}
