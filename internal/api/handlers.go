package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
	"github.com/hackgods/lawyer-scheduling/internal/availability"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	appointments AppointmentService
	availability AvailabilityService
	calendar     CalendarConnector
	validate     *validator.Validate
	log          *zap.Logger
	now          func() time.Time

	defaultGranularity int
	defaultDuration    int
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	clientID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.appointments.Request(r.Context(), appointment.RequestInput{
		LawyerID:   req.LawyerID,
		ClientID:   clientID,
		LawyerName: req.LawyerName,
		ClientName: req.ClientName,
		Date:       req.Date,
		Duration:   req.Duration,
		Type:       appointment.ConsultationType(req.Type),
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt, h.now()))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.Get(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt, h.now()))
}

func (h *handlers) acceptAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.appointments.Accept)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.appointments.Cancel)
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.appointments.Complete)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actingUserID string) (*appointment.Appointment, error)

func (h *handlers) transition(w http.ResponseWriter, r *http.Request, do transitionFunc) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := do(r.Context(), id, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt, h.now()))
}

type listFunc func(ctx context.Context, partyID, actingUserID string, f appointment.ListFilter) ([]appointment.Appointment, error)

func (h *handlers) listLawyerAppointments(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, h.appointments.ListForLawyer)
}

func (h *handlers) listClientAppointments(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, h.appointments.ListForClient)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request, list listFunc) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	items, err := list(r.Context(), chi.URLParam(r, "id"), userID, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	now := h.now()
	resp := AppointmentListResponse{
		Items:  make([]AppointmentResponse, 0, len(items)),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, a := range items {
		resp.Items = append(resp.Items, toAppointmentResponse(a, now))
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseListFilter(r *http.Request) (appointment.ListFilter, error) {
	q := r.URL.Query()
	f := appointment.ListFilter{
		Status: appointment.AppointmentStatus(strings.ToUpper(q.Get("status"))),
	}

	var err error
	if f.Limit, err = queryInt(q.Get("limit"), 0); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	if f.From, err = queryTime(q.Get("from")); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = queryTime(q.Get("to")); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	return f, nil
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func queryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into dst and runs struct validation.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) && len(vErrs) > 0 {
			fe := vErrs[0]
			writeError(w, http.StatusBadRequest, "validation_failed",
				fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// writeServiceError maps service errors to HTTP responses.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict *appointment.ConflictError
		window   *appointment.CancellationWindowError
	)

	switch {
	case errors.As(err, &conflict):
		resp := ErrorResponse{
			Error:   "conflict",
			Details: conflict.Error(),
			Reason:  string(conflict.Reason),
		}
		if c := conflict.Conflicting; c != nil && c.IsParty(GetUserID(r.Context())) {
			resp.ConflictingID = &c.ID
		}
		writeJSON(w, http.StatusConflict, resp)

	case errors.As(err, &window):
		minutes := int(window.Remaining / time.Minute)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:            "cancellation_window_passed",
			Details:          window.Error(),
			RemainingMinutes: &minutes,
		})

	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, appointment.ErrValidation), errors.Is(err, availability.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrPartyBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "booking_in_progress", err.Error())

	default:
		h.log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
