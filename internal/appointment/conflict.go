package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func NewWindow(start time.Time, durationMinutes int) Window {
	return Window{Start: start, End: start.Add(time.Duration(durationMinutes) * time.Minute)}
}

// Overlaps is true when the windows share any instant. Touching endpoints
// do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Candidate is a prospective booking to test against existing appointments.
type Candidate struct {
	LawyerID  string
	ClientID  string
	Window    Window
	ExcludeID uuid.UUID // uuid.Nil excludes nothing
}

type ConflictResult struct {
	HasConflict bool
	Reason      ConflictReason
	Conflicting *Appointment
}

// CheckConflict scans existing for a non-cancelled appointment overlapping
// the candidate. The lawyer's bookings are checked before the client's, and
// the first overlap ends the scan.
func CheckConflict(c Candidate, existing []Appointment) ConflictResult {
	if r, ok := firstOverlap(c, existing, func(a Appointment) bool { return a.LawyerID == c.LawyerID }); ok {
		r.Reason = ReasonLawyerBusy
		return r
	}
	if r, ok := firstOverlap(c, existing, func(a Appointment) bool { return a.ClientID == c.ClientID }); ok {
		r.Reason = ReasonClientBusy
		return r
	}
	return ConflictResult{}
}

func firstOverlap(c Candidate, existing []Appointment, sameParty func(Appointment) bool) (ConflictResult, bool) {
	for i := range existing {
		a := existing[i]
		if a.Status == StatusCancelled || !sameParty(a) {
			continue
		}
		if c.ExcludeID != uuid.Nil && a.ID == c.ExcludeID {
			continue
		}
		if c.Window.Overlaps(a.Window()) {
			return ConflictResult{HasConflict: true, Conflicting: &a}, true
		}
	}
	return ConflictResult{}, false
}
