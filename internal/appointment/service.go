package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/busytime"
	"github.com/hackgods/lawyer-scheduling/internal/config"
	redisclient "github.com/hackgods/lawyer-scheduling/internal/redis"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
)

const (
	maxDurationMinutes = 8 * 60
	defaultListLimit   = 20
	maxListLimit       = 100
)

// AvailabilityChecker tells whether a window lies inside a lawyer's weekly
// hours. Implemented by availability.Service.
type AvailabilityChecker interface {
	Covers(ctx context.Context, lawyerID string, start, end time.Time) (bool, error)
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    *zap.Logger

	avail AvailabilityChecker
	busy  busytime.Feed

	hooks       []ConfirmationHook
	cancelHooks []CancellationHook
	hookWG      sync.WaitGroup

	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log.Named("appointment"),
		now:    time.Now,
	}
}

// WithAvailability makes Request reject windows outside the lawyer's weekly
// hours when EnforceAvailability is set.
func (s *Service) WithAvailability(a AvailabilityChecker) *Service {
	s.avail = a
	return s
}

// WithBusyFeed makes Request and Accept reject windows that clash with the
// lawyer's external busy time. Feed errors are ignored.
func (s *Service) WithBusyFeed(f busytime.Feed) *Service {
	s.busy = f
	return s
}

type RequestInput struct {
	LawyerID   string
	ClientID   string
	LawyerName string
	ClientName string
	Date       time.Time
	Duration   int // minutes, 0 means the configured default
	Type       ConsultationType
	Notes      string
}

func (s *Service) normalizeRequest(in RequestInput) (RequestInput, error) {
	in.LawyerID = strings.TrimSpace(in.LawyerID)
	in.ClientID = strings.TrimSpace(in.ClientID)

	if in.LawyerID == "" {
		return in, &ValidationError{Field: "lawyer_id", Reason: "required"}
	}
	if in.ClientID == "" {
		return in, &ValidationError{Field: "client_id", Reason: "required"}
	}
	if in.LawyerID == in.ClientID {
		return in, &ValidationError{Field: "client_id", Reason: "must differ from lawyer_id"}
	}

	if in.Type == "" {
		in.Type = TypeVideo
	}
	if !in.Type.Valid() {
		return in, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown consultation type %q", in.Type)}
	}

	if in.Duration == 0 {
		in.Duration = s.cfg.DefaultDurationMinutes
		if in.Duration <= 0 {
			in.Duration = 60
		}
	}
	if in.Duration < 0 || in.Duration > maxDurationMinutes {
		return in, &ValidationError{Field: "duration", Reason: "must be between 1 and " + strconv.Itoa(maxDurationMinutes) + " minutes"}
	}

	if in.Date.IsZero() {
		return in, &ValidationError{Field: "date", Reason: "required"}
	}
	if !in.Date.After(s.now()) {
		return in, &ValidationError{Field: "date", Reason: "must be in the future"}
	}

	return in, nil
}

// Request creates a PENDING appointment. Nothing is written when the window
// conflicts with a committed appointment of either party.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Appointment, error) {
	in, err := s.normalizeRequest(in)
	if err != nil {
		return nil, err
	}

	win := NewWindow(in.Date, in.Duration)

	if s.cfg.EnforceAvailability && s.avail != nil {
		ok, err := s.avail.Covers(ctx, in.LawyerID, win.Start, win.End)
		if err != nil {
			return nil, fmt.Errorf("check availability: %w", err)
		}
		if !ok {
			return nil, &ConflictError{Reason: ReasonOutsideAvailability}
		}
	}

	// fetched before locking; a clash with the lawyer's own bookings
	// is reported ahead of the calendar
	busy := s.busyBlocks(ctx, in.LawyerID, win)

	appt := &Appointment{
		ID:         uuid.New(),
		LawyerID:   in.LawyerID,
		ClientID:   in.ClientID,
		LawyerName: in.LawyerName,
		ClientName: in.ClientName,
		Date:       in.Date,
		Duration:   in.Duration,
		Type:       in.Type,
		Status:     StatusPending,
		Notes:      in.Notes,
	}

	err = s.withParties(ctx, in.LawyerID, in.ClientID, func(ctx context.Context, tx PartyTx) error {
		existing, err := tx.ActiveForParties(ctx, in.LawyerID, in.ClientID, win.Start, win.End)
		if err != nil {
			return err
		}

		res := CheckConflict(Candidate{LawyerID: in.LawyerID, ClientID: in.ClientID, Window: win}, committed(existing))
		if res.HasConflict {
			return &ConflictError{Reason: res.Reason, Conflicting: res.Conflicting}
		}
		if err := calendarClash(busy, win); err != nil {
			return err
		}

		if err := tx.Create(ctx, appt); err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment requested",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("lawyer_id", appt.LawyerID),
		zap.String("client_id", appt.ClientID),
		zap.Time("date", appt.Date),
	)
	s.logEvent(ctx, appt.ID, EventAppointmentRequested, map[string]any{
		"lawyer_id": appt.LawyerID,
		"client_id": appt.ClientID,
		"date":      appt.Date,
		"duration":  appt.Duration,
		"type":      appt.Type,
	})

	return appt, nil
}

// Accept confirms a PENDING appointment on behalf of its lawyer. The
// conflict check is repeated under the party lock; of two overlapping
// requests only the first accepted one is confirmed.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, actingUserID string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if actingUserID != appt.LawyerID {
		return nil, &AuthorizationError{UserID: actingUserID, Action: "accept"}
	}
	if appt.Status != StatusPending {
		return nil, &InvalidStateError{Status: appt.Status, Action: "accept"}
	}
	if !s.now().Before(appt.Date) {
		return nil, &InvalidStateError{Status: appt.Status, Action: "accept", Detail: "appointment start has passed"}
	}

	win := appt.Window()
	busy := s.busyBlocks(ctx, appt.LawyerID, win)

	var updated *Appointment
	err = s.withParties(ctx, appt.LawyerID, appt.ClientID, func(ctx context.Context, tx PartyTx) error {
		existing, err := tx.ActiveForParties(ctx, appt.LawyerID, appt.ClientID, win.Start, win.End)
		if err != nil {
			return err
		}

		res := CheckConflict(Candidate{
			LawyerID:  appt.LawyerID,
			ClientID:  appt.ClientID,
			Window:    win,
			ExcludeID: appt.ID,
		}, committed(existing))
		if res.HasConflict {
			return &ConflictError{Reason: res.Reason, Conflicting: res.Conflicting}
		}
		if err := calendarClash(busy, win); err != nil {
			return err
		}

		updated, err = tx.UpdateStatus(ctx, appt.ID, StatusPending, StatusConfirmed, actingUserID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.statusRace(ctx, id, "accept")
		}
		return nil, err
	}

	s.log.Info("appointment confirmed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("lawyer_id", updated.LawyerID),
	)
	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{
		"confirmed_by": actingUserID,
	})

	s.dispatchConfirmed(ctx, *updated)

	return updated, nil
}

// Cancel withdraws a PENDING or CONFIRMED appointment on behalf of either
// party. Confirmed appointments need CancellationWindow notice.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actingUserID string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !appt.IsParty(actingUserID) {
		return nil, &AuthorizationError{UserID: actingUserID, Action: "cancel"}
	}
	if appt.Status != StatusPending && appt.Status != StatusConfirmed {
		return nil, &InvalidStateError{Status: appt.Status, Action: "cancel"}
	}

	exempt := appt.Status == StatusPending && s.cfg.PendingCancelExempt
	if !exempt {
		remaining := appt.Date.Sub(s.now())
		if remaining < s.cfg.CancellationWindow {
			return nil, &CancellationWindowError{Remaining: remaining, Window: s.cfg.CancellationWindow}
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, StatusCancelled, actingUserID)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.statusRace(ctx, id, "cancel")
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("cancelled_by", actingUserID),
		zap.String("previous_status", string(appt.Status)),
	)
	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"cancelled_by":    actingUserID,
		"previous_status": appt.Status,
	})

	s.dispatchCancelled(ctx, *updated, appt.Status)

	return updated, nil
}

// Complete marks a CONFIRMED appointment done once it has started.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actingUserID string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if actingUserID != appt.LawyerID {
		return nil, &AuthorizationError{UserID: actingUserID, Action: "complete"}
	}
	if appt.Status != StatusConfirmed {
		return nil, &InvalidStateError{Status: appt.Status, Action: "complete"}
	}
	if s.now().Before(appt.Date) {
		return nil, &InvalidStateError{Status: appt.Status, Action: "complete", Detail: "appointment has not started yet"}
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted, actingUserID)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.statusRace(ctx, id, "complete")
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{})

	return updated, nil
}

// Get returns an appointment visible to one of its parties.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actingUserID string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !appt.IsParty(actingUserID) {
		return nil, &AuthorizationError{UserID: actingUserID, Action: "view"}
	}
	return appt, nil
}

// ListForLawyer retrieves a lawyer's appointments, oldest first.
func (s *Service) ListForLawyer(ctx context.Context, lawyerID, actingUserID string, f ListFilter) ([]Appointment, error) {
	if actingUserID != lawyerID {
		return nil, &AuthorizationError{UserID: actingUserID, Action: "list"}
	}
	f, err := clampFilter(f)
	if err != nil {
		return nil, err
	}

	appointments, err := s.repo.ListByLawyer(ctx, lawyerID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments by lawyer: %w", err)
	}
	return appointments, nil
}

// ListForClient retrieves a client's appointments, oldest first.
func (s *Service) ListForClient(ctx context.Context, clientID, actingUserID string, f ListFilter) ([]Appointment, error) {
	if actingUserID != clientID {
		return nil, &AuthorizationError{UserID: actingUserID, Action: "list"}
	}
	f, err := clampFilter(f)
	if err != nil {
		return nil, err
	}

	appointments, err := s.repo.ListByClient(ctx, clientID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments by client: %w", err)
	}
	return appointments, nil
}

func clampFilter(f ListFilter) (ListFilter, error) {
	if f.Status != "" && !f.Status.Valid() {
		return f, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, &ValidationError{Field: "range", Reason: "from must be before to"}
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit // default
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit // max
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f, nil
}

// FreeInstants drops the instants whose [t, t+duration) window overlaps a
// committed appointment of the lawyer.
func (s *Service) FreeInstants(ctx context.Context, lawyerID string, instants []time.Time, durationMinutes int) ([]time.Time, error) {
	if len(instants) == 0 {
		return instants, nil
	}
	if durationMinutes <= 0 {
		return nil, &ValidationError{Field: "duration", Reason: "must be positive"}
	}

	from, to := instants[0], instants[0]
	for _, t := range instants {
		if t.Before(from) {
			from = t
		}
		if t.After(to) {
			to = t
		}
	}
	to = to.Add(time.Duration(durationMinutes) * time.Minute)

	booked, err := s.repo.ListByLawyer(ctx, lawyerID, ListFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("list lawyer appointments: %w", err)
	}
	booked = committed(booked)

	free := make([]time.Time, 0, len(instants))
	for _, t := range instants {
		res := CheckConflict(Candidate{LawyerID: lawyerID, Window: NewWindow(t, durationMinutes)}, booked)
		if !res.HasConflict {
			free = append(free, t)
		}
	}
	return free, nil
}

// ExpireStalePending is intended to be called by the worker periodically.
// PENDING requests whose start has passed are cancelled by the system.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	stale, err := s.repo.FindStalePending(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	expired := 0
	for _, appt := range stale {
		updated, err := s.repo.UpdateStatus(ctx, appt.ID, StatusPending, StatusCancelled, SystemActor)
		if err != nil {
			if !errors.Is(err, ErrStatusChanged) && !errors.Is(err, ErrNotFound) {
				s.log.Error("failed to expire appointment",
					zap.String("appointment_id", appt.ID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		expired++
		s.logEvent(ctx, appt.ID, EventAppointmentExpired, map[string]any{
			"reason": "worker",
		})
		s.dispatchCancelled(ctx, *updated, StatusPending)
	}

	return expired, nil
}

// committed keeps the appointments that hold their window. Pending requests
// may overlap each other until one of them is accepted.
func committed(in []Appointment) []Appointment {
	out := make([]Appointment, 0, len(in))
	for _, a := range in {
		if a.Status == StatusConfirmed || a.Status == StatusCompleted {
			out = append(out, a)
		}
	}
	return out
}

func (s *Service) busyBlocks(ctx context.Context, lawyerID string, win Window) []busytime.Block {
	return busytime.Fetch(ctx, s.busy, s.log, lawyerID, win.Start, win.End)
}

func calendarClash(blocks []busytime.Block, win Window) error {
	if b, clash := busytime.Overlapping(blocks, win.Start, win.End); clash {
		return &ConflictError{Reason: ReasonCalendarBusy, Busy: &b}
	}
	return nil
}

// withParties runs fn under the distributed lock of both parties and inside
// the repository's party transaction.
func (s *Service) withParties(ctx context.Context, lawyerID, clientID string, fn func(ctx context.Context, tx PartyTx) error) error {
	inTx := func(ctx context.Context) error {
		return s.repo.WithinPartyTx(ctx, lawyerID, clientID, fn)
	}

	if s.locker == nil {
		return inTx(ctx)
	}

	keys := []string{redisclient.LawyerKey(lawyerID), redisclient.ClientKey(clientID)}
	err := s.locker.WithLock(ctx, keys, inTx)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrPartyBusy
	case errors.Is(err, redisclient.ErrLockUnavailable):
		// the transaction's advisory locks still serialize the parties
		s.log.Warn("party lock unavailable, relying on database locks",
			zap.String("lawyer_id", lawyerID),
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return inTx(ctx)
	}
	return err
}

// statusRace reports a lost compare-and-set as the state now stored.
func (s *Service) statusRace(ctx context.Context, id uuid.UUID, action string) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("reload appointment: %w", err)
	}
	return &InvalidStateError{Status: current.Status, Action: action, Detail: "status changed concurrently"}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
