package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	LawyerID   string    `json:"lawyer_id" validate:"required,max=128"`
	LawyerName string    `json:"lawyer_name" validate:"max=200"`
	ClientName string    `json:"client_name" validate:"max=200"`
	Date       time.Time `json:"date" validate:"required"`
	Duration   int       `json:"duration" validate:"gte=0,lte=480"`
	Type       string    `json:"type" validate:"omitempty,oneof=VIDEO IN_PERSON PHONE"`
	Notes      string    `json:"notes" validate:"max=2000"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	LawyerID     string    `json:"lawyer_id"`
	ClientID     string    `json:"client_id"`
	LawyerName   string    `json:"lawyer_name,omitempty"`
	ClientName   string    `json:"client_name,omitempty"`
	Date         time.Time `json:"date"`
	EndsAt       time.Time `json:"ends_at"`
	Duration     int       `json:"duration"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CancelledBy  *string   `json:"cancelled_by,omitempty"`
	CanJoinVideo bool      `json:"can_join_video"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toAppointmentResponse(a appointment.Appointment, now time.Time) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		LawyerID:     a.LawyerID,
		ClientID:     a.ClientID,
		LawyerName:   a.LawyerName,
		ClientName:   a.ClientName,
		Date:         a.Date,
		EndsAt:       a.End(),
		Duration:     a.Duration,
		Type:         string(a.Type),
		Status:       string(a.Status),
		Notes:        a.Notes,
		CancelledBy:  a.CancelledBy,
		CanJoinVideo: appointment.CanJoinVideo(a, now),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type SlotsResponse struct {
	LawyerID    string      `json:"lawyer_id"`
	Timezone    string      `json:"timezone"`
	Granularity int         `json:"granularity"`
	Duration    int         `json:"duration"`
	Slots       []time.Time `json:"slots"`
}

type ConnectCalendarRequest struct {
	Code        string `json:"code" validate:"required"`
	RedirectURL string `json:"redirect_url" validate:"required,url"`
}

type ConnectURLResponse struct {
	URL string `json:"url"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// Set on conflicts.
	Reason        string     `json:"reason,omitempty"`
	ConflictingID *uuid.UUID `json:"conflicting_id,omitempty"`

	// Set on cancellation window errors.
	RemainingMinutes *int `json:"remaining_minutes,omitempty"`
}
