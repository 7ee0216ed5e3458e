package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByLawyer(ctx context.Context, lawyerID string, f ListFilter) ([]Appointment, error)
	ListByClient(ctx context.Context, clientID string, f ListFilter) ([]Appointment, error)

	// WithinPartyTx runs fn as one atomic unit that no other WithinPartyTx
	// call sharing the lawyer or the client can interleave with. Returning
	// an error from fn rolls everything back.
	WithinPartyTx(ctx context.Context, lawyerID, clientID string, fn func(ctx context.Context, tx PartyTx) error) error

	// UpdateStatus moves id from one status to another. It fails with
	// ErrNotFound when id is absent and ErrStatusChanged when the current
	// status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, actor string) (*Appointment, error)

	// Expiry worker
	FindStalePending(ctx context.Context, startedBefore time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// PartyTx is the view of the store available inside WithinPartyTx.
type PartyTx interface {
	// ActiveForParties returns non-cancelled appointments of the lawyer or
	// the client that intersect [from, to).
	ActiveForParties(ctx context.Context, lawyerID, clientID string, from, to time.Time) ([]Appointment, error)
	Create(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, actor string) (*Appointment, error)
}
