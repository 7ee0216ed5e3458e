package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func confirmed(lawyerID, clientID string, start time.Time, minutes int) Appointment {
	return Appointment{
		ID:       uuid.New(),
		LawyerID: lawyerID,
		ClientID: clientID,
		Date:     start,
		Duration: minutes,
		Type:     TypeVideo,
		Status:   StatusConfirmed,
	}
}

func TestCheckConflictSymmetric(t *testing.T) {
	a := confirmed("lawyer-1", "client-a", at(10, 0), 60)
	b := confirmed("lawyer-1", "client-b", at(10, 30), 60)

	ab := CheckConflict(Candidate{LawyerID: a.LawyerID, ClientID: a.ClientID, Window: a.Window()}, []Appointment{b})
	ba := CheckConflict(Candidate{LawyerID: b.LawyerID, ClientID: b.ClientID, Window: b.Window()}, []Appointment{a})

	assert.True(t, ab.HasConflict)
	assert.True(t, ba.HasConflict)
	assert.Equal(t, ReasonLawyerBusy, ab.Reason)
	assert.Equal(t, b.ID, ab.Conflicting.ID)
	assert.Equal(t, a.ID, ba.Conflicting.ID)
}

func TestCheckConflictTouchingBoundary(t *testing.T) {
	a := confirmed("lawyer-1", "client-a", at(10, 0), 60)
	c := Candidate{LawyerID: "lawyer-1", ClientID: "client-b", Window: NewWindow(at(11, 0), 60)}

	assert.False(t, CheckConflict(c, []Appointment{a}).HasConflict)

	before := Candidate{LawyerID: "lawyer-1", ClientID: "client-b", Window: NewWindow(at(9, 0), 60)}
	assert.False(t, CheckConflict(before, []Appointment{a}).HasConflict)
}

func TestCheckConflictExcludesItself(t *testing.T) {
	a := confirmed("lawyer-1", "client-a", at(10, 0), 60)
	c := Candidate{LawyerID: a.LawyerID, ClientID: a.ClientID, Window: a.Window(), ExcludeID: a.ID}

	assert.False(t, CheckConflict(c, []Appointment{a}).HasConflict)

	c.ExcludeID = uuid.Nil
	assert.True(t, CheckConflict(c, []Appointment{a}).HasConflict)
}

func TestCheckConflictReasons(t *testing.T) {
	otherLawyer := confirmed("lawyer-2", "client-a", at(10, 0), 60)
	sameLawyer := confirmed("lawyer-1", "client-z", at(10, 15), 30)

	tests := []struct {
		name     string
		existing []Appointment
		want     ConflictReason
	}{
		{"client double booked with another lawyer", []Appointment{otherLawyer}, ReasonClientBusy},
		{"lawyer double booked with another client", []Appointment{sameLawyer}, ReasonLawyerBusy},
		{"lawyer side reported first", []Appointment{otherLawyer, sameLawyer}, ReasonLawyerBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Candidate{LawyerID: "lawyer-1", ClientID: "client-a", Window: NewWindow(at(10, 0), 60)}
			res := CheckConflict(c, tt.existing)
			require.True(t, res.HasConflict)
			assert.Equal(t, tt.want, res.Reason)
		})
	}
}

func TestCheckConflictIgnoresCancelled(t *testing.T) {
	a := confirmed("lawyer-1", "client-a", at(10, 0), 60)
	a.Status = StatusCancelled

	c := Candidate{LawyerID: "lawyer-1", ClientID: "client-b", Window: NewWindow(at(10, 0), 60)}
	assert.False(t, CheckConflict(c, []Appointment{a}).HasConflict)
}

func TestCanJoinVideo(t *testing.T) {
	a := confirmed("lawyer-1", "client-a", at(10, 0), 60)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"too early", at(9, 54), false},
		{"five minutes before", at(9, 55), true},
		{"during", at(10, 30), true},
		{"at end", at(11, 0), true},
		{"after end", at(11, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanJoinVideo(a, tt.now))
		})
	}

	phone := a
	phone.Type = TypePhone
	assert.False(t, CanJoinVideo(phone, at(10, 30)))

	cancelled := a
	cancelled.Status = StatusCancelled
	assert.False(t, CanJoinVideo(cancelled, at(10, 30)))
}
