package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type ConsultationType string

const (
	TypeVideo    ConsultationType = "VIDEO"
	TypeInPerson ConsultationType = "IN_PERSON"
	TypePhone    ConsultationType = "PHONE"
)

func (t ConsultationType) Valid() bool {
	switch t {
	case TypeVideo, TypeInPerson, TypePhone:
		return true
	}
	return false
}

// SystemActor marks transitions made by the scheduler itself.
const SystemActor = "system"

type Appointment struct {
	ID          uuid.UUID
	LawyerID    string
	ClientID    string
	LawyerName  string
	ClientName  string
	Date        time.Time
	Duration    int // minutes
	Type        ConsultationType
	Status      AppointmentStatus
	Notes       string
	CancelledBy *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a Appointment) End() time.Time {
	return a.Date.Add(time.Duration(a.Duration) * time.Minute)
}

func (a Appointment) Window() Window {
	return Window{Start: a.Date, End: a.End()}
}

// IsParty reports whether userID is the lawyer or the client.
func (a Appointment) IsParty(userID string) bool {
	return userID != "" && (userID == a.LawyerID || userID == a.ClientID)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ListFilter narrows appointment listings. Zero values mean no constraint.
type ListFilter struct {
	Status AppointmentStatus
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

const (
	videoJoinLead = 5 * time.Minute
)

// CanJoinVideo reports whether the video room should be open at now: from
// five minutes before the start until the scheduled end.
func CanJoinVideo(a Appointment, now time.Time) bool {
	if a.Type != TypeVideo {
		return false
	}
	if a.Status != StatusConfirmed && a.Status != StatusPending {
		return false
	}
	return !now.Before(a.Date.Add(-videoJoinLead)) && !now.After(a.End())
}
