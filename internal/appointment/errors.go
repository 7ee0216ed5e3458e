package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/lawyer-scheduling/internal/busytime"
)

var (
	ErrNotFound           = errors.New("appointment not found")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("scheduling conflict")
	ErrUnauthorized       = errors.New("not authorized for this appointment")
	ErrCancellationWindow = errors.New("cancellation window has passed")
	ErrInvalidState       = errors.New("invalid status transition")

	// ErrStatusChanged is returned by repositories when a conditional status
	// update found a different status than expected.
	ErrStatusChanged = errors.New("appointment status changed concurrently")

	ErrPartyBusy = errors.New("another booking for this lawyer or client is in progress, please retry")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type ConflictReason string

const (
	ReasonLawyerBusy          ConflictReason = "lawyer_busy"
	ReasonClientBusy          ConflictReason = "client_busy"
	ReasonCalendarBusy        ConflictReason = "calendar_busy"
	ReasonOutsideAvailability ConflictReason = "outside_availability"
)

// Message is the user-facing wording of the reason.
func (r ConflictReason) Message() string {
	switch r {
	case ReasonLawyerBusy:
		return "lawyer already booked in this window"
	case ReasonClientBusy:
		return "client already booked in this window"
	case ReasonCalendarBusy:
		return "lawyer's calendar is busy in this window"
	case ReasonOutsideAvailability:
		return "lawyer is not available in this window"
	}
	return "time window is not available"
}

type ConflictError struct {
	Reason      ConflictReason
	Conflicting *Appointment   // set for lawyer_busy and client_busy
	Busy        *busytime.Block // set for calendar_busy
}

func (e *ConflictError) Error() string { return e.Reason.Message() }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type AuthorizationError struct {
	UserID string
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q may not %s this appointment", e.UserID, e.Action)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

type CancellationWindowError struct {
	Remaining time.Duration
	Window    time.Duration
}

func (e *CancellationWindowError) Error() string {
	return fmt.Sprintf("cancellation window has passed: appointment starts in %s, cancelling requires %s notice",
		e.Remaining.Truncate(time.Minute), e.Window)
}

func (e *CancellationWindowError) Is(target error) bool { return target == ErrCancellationWindow }

type InvalidStateError struct {
	Status AppointmentStatus
	Action string
	Detail string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s an appointment that is %s", e.Action, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
