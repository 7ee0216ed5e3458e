package availability

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("availability not found")

// Repository persists one WeeklyAvailability per lawyer.
type Repository interface {
	// Get returns ErrNotFound when the lawyer never saved a schedule.
	Get(ctx context.Context, lawyerID string) (*WeeklyAvailability, error)
	Set(ctx context.Context, lawyerID string, w WeeklyAvailability) error
}
