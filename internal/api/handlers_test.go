package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
	"github.com/hackgods/lawyer-scheduling/internal/availability"
)

var testNow = time.Date(2026, time.February, 27, 8, 0, 0, 0, time.UTC)

type mockAppointments struct {
	requestFn  func(ctx context.Context, in appointment.RequestInput) (*appointment.Appointment, error)
	acceptFn   func(ctx context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error)
	cancelFn   func(ctx context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error)
	getFn      func(ctx context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error)
	listFn     func(ctx context.Context, partyID, userID string, f appointment.ListFilter) ([]appointment.Appointment, error)
	freeFn     func(ctx context.Context, lawyerID string, instants []time.Time, duration int) ([]time.Time, error)
	lastFilter appointment.ListFilter
}

func (m *mockAppointments) Request(ctx context.Context, in appointment.RequestInput) (*appointment.Appointment, error) {
	return m.requestFn(ctx, in)
}

func (m *mockAppointments) Accept(ctx context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error) {
	return m.acceptFn(ctx, id, userID)
}

func (m *mockAppointments) Cancel(ctx context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error) {
	return m.cancelFn(ctx, id, userID)
}

func (m *mockAppointments) Complete(ctx context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAppointments) Get(ctx context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error) {
	return m.getFn(ctx, id, userID)
}

func (m *mockAppointments) ListForLawyer(ctx context.Context, lawyerID, userID string, f appointment.ListFilter) ([]appointment.Appointment, error) {
	m.lastFilter = f
	return m.listFn(ctx, lawyerID, userID, f)
}

func (m *mockAppointments) ListForClient(ctx context.Context, clientID, userID string, f appointment.ListFilter) ([]appointment.Appointment, error) {
	m.lastFilter = f
	return m.listFn(ctx, clientID, userID, f)
}

func (m *mockAppointments) FreeInstants(ctx context.Context, lawyerID string, instants []time.Time, duration int) ([]time.Time, error) {
	return m.freeFn(ctx, lawyerID, instants, duration)
}

type mockAvailability struct {
	weekly    availability.WeeklyAvailability
	setCalls  int
	bookable  []time.Time
	bookedArg struct{ granularity, duration int }
}

func (m *mockAvailability) Get(context.Context, string) (availability.WeeklyAvailability, error) {
	return m.weekly, nil
}

func (m *mockAvailability) Set(_ context.Context, _ string, w availability.WeeklyAvailability) (availability.WeeklyAvailability, error) {
	m.setCalls++
	if err := w.Validate(); err != nil {
		return availability.WeeklyAvailability{}, err
	}
	m.weekly = w
	return w, nil
}

func (m *mockAvailability) Calendar(_ context.Context, _ string, week time.Time) ([]availability.CalendarBlock, error) {
	return availability.ProjectToCalendar(m.weekly, availability.WeekStart(week))
}

func (m *mockAvailability) SaveCalendar(ctx context.Context, lawyerID string, blocks []availability.CalendarBlock) (availability.WeeklyAvailability, error) {
	return m.Set(ctx, lawyerID, availability.ReconcileFromCalendar(blocks))
}

func (m *mockAvailability) BookableInstants(_ context.Context, _ string, _, _ time.Time, granularity, duration int) ([]time.Time, error) {
	m.bookedArg.granularity = granularity
	m.bookedArg.duration = duration
	return m.bookable, nil
}

func (m *mockAvailability) Location() *time.Location { return time.UTC }

func newTestRouter(appts *mockAppointments, avail *mockAvailability) http.Handler {
	if avail == nil {
		avail = &mockAvailability{weekly: availability.NewWeeklyAvailability()}
	}
	return NewRouter(RouterConfig{
		Appointments:       appts,
		Availability:       avail,
		CORSAllowedOrigins: []string{"*"},
		SlotGranularity:    30,
		DefaultDuration:    60,
		Now:                func() time.Time { return testNow },
	})
}

func do(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func sampleAppointment(status appointment.AppointmentStatus) *appointment.Appointment {
	return &appointment.Appointment{
		ID:       uuid.New(),
		LawyerID: "law-1",
		ClientID: "cli-1",
		Date:     time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC),
		Duration: 60,
		Type:     appointment.TypeVideo,
		Status:   status,
	}
}

func TestCreateAppointment(t *testing.T) {
	var got appointment.RequestInput
	appts := &mockAppointments{
		requestFn: func(_ context.Context, in appointment.RequestInput) (*appointment.Appointment, error) {
			got = in
			return sampleAppointment(appointment.StatusPending), nil
		},
	}
	h := newTestRouter(appts, nil)

	rec := do(t, h, http.MethodPost, "/appointments", "cli-1", map[string]any{
		"lawyer_id": "law-1",
		"date":      "2026-03-02T10:00:00Z",
		"duration":  45,
		"type":      "PHONE",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "cli-1", got.ClientID)
	assert.Equal(t, "law-1", got.LawyerID)
	assert.Equal(t, 45, got.Duration)
	assert.Equal(t, appointment.TypePhone, got.Type)

	resp := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "PENDING", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointmentRejectsBadInput(t *testing.T) {
	appts := &mockAppointments{
		requestFn: func(context.Context, appointment.RequestInput) (*appointment.Appointment, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	h := newTestRouter(appts, nil)

	tests := []struct {
		name   string
		userID string
		body   any
		status int
	}{
		{"anonymous", "", map[string]any{"lawyer_id": "law-1", "date": "2026-03-02T10:00:00Z"}, http.StatusUnauthorized},
		{"missing lawyer", "cli-1", map[string]any{"date": "2026-03-02T10:00:00Z"}, http.StatusBadRequest},
		{"unknown type", "cli-1", map[string]any{"lawyer_id": "law-1", "date": "2026-03-02T10:00:00Z", "type": "FAX"}, http.StatusBadRequest},
		{"duration too long", "cli-1", map[string]any{"lawyer_id": "law-1", "date": "2026-03-02T10:00:00Z", "duration": 900}, http.StatusBadRequest},
		{"not json", "cli-1", "nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/appointments", tt.userID, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestServiceErrorMapping(t *testing.T) {
	other := sampleAppointment(appointment.StatusConfirmed)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", &appointment.ConflictError{Reason: appointment.ReasonLawyerBusy, Conflicting: other}, http.StatusConflict, "conflict"},
		{"window", &appointment.CancellationWindowError{Remaining: 90 * time.Minute, Window: 24 * time.Hour}, http.StatusUnprocessableEntity, "cancellation_window_passed"},
		{"not found", appointment.ErrNotFound, http.StatusNotFound, "appointment_not_found"},
		{"forbidden", &appointment.AuthorizationError{UserID: "x", Action: "cancel"}, http.StatusForbidden, "forbidden"},
		{"state", &appointment.InvalidStateError{Status: appointment.StatusCancelled, Action: "cancel"}, http.StatusConflict, "invalid_status_transition"},
		{"busy", appointment.ErrPartyBusy, http.StatusConflict, "booking_in_progress"},
		{"validation", &appointment.ValidationError{Field: "date", Reason: "required"}, http.StatusBadRequest, "validation_failed"},
		{"unexpected", errors.New("db exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appts := &mockAppointments{
				cancelFn: func(context.Context, uuid.UUID, string) (*appointment.Appointment, error) {
					return nil, tt.err
				},
			}
			h := newTestRouter(appts, nil)

			rec := do(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", "law-1", nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Error)
			assert.NotContains(t, resp.Details, "db exploded")
		})
	}
}

func TestConflictResponseDetails(t *testing.T) {
	mine := sampleAppointment(appointment.StatusConfirmed)
	appts := &mockAppointments{
		acceptFn: func(context.Context, uuid.UUID, string) (*appointment.Appointment, error) {
			return nil, &appointment.ConflictError{Reason: appointment.ReasonLawyerBusy, Conflicting: mine}
		},
	}
	h := newTestRouter(appts, nil)

	rec := do(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/accept", "law-1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "lawyer_busy", resp.Reason)
	assert.Equal(t, "lawyer already booked in this window", resp.Details)
	require.NotNil(t, resp.ConflictingID)
	assert.Equal(t, mine.ID, *resp.ConflictingID)

	// a client does not learn about another client's booking
	rec = do(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/accept", "cli-9", nil)
	resp = decodeBody[ErrorResponse](t, rec)
	assert.Nil(t, resp.ConflictingID)
}

func TestCancellationWindowResponse(t *testing.T) {
	appts := &mockAppointments{
		cancelFn: func(context.Context, uuid.UUID, string) (*appointment.Appointment, error) {
			return nil, &appointment.CancellationWindowError{Remaining: 23*time.Hour + 59*time.Minute, Window: 24 * time.Hour}
		},
	}
	h := newTestRouter(appts, nil)

	rec := do(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", "cli-1", nil)
	resp := decodeBody[ErrorResponse](t, rec)

	require.NotNil(t, resp.RemainingMinutes)
	assert.Equal(t, 23*60+59, *resp.RemainingMinutes)
	assert.Contains(t, resp.Details, "cancellation window has passed")
}

func TestGetAppointmentInvalidID(t *testing.T) {
	h := newTestRouter(&mockAppointments{}, nil)

	rec := do(t, h, http.MethodGet, "/appointments/not-a-uuid", "cli-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAppointmentCanJoinVideo(t *testing.T) {
	appt := sampleAppointment(appointment.StatusConfirmed)
	appt.Date = testNow.Add(3 * time.Minute)

	appts := &mockAppointments{
		getFn: func(_ context.Context, id uuid.UUID, userID string) (*appointment.Appointment, error) {
			return appt, nil
		},
	}
	h := newTestRouter(appts, nil)

	rec := do(t, h, http.MethodGet, "/appointments/"+appt.ID.String(), "cli-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[AppointmentResponse](t, rec).CanJoinVideo)
}

func TestListAppointmentsQuery(t *testing.T) {
	appts := &mockAppointments{
		listFn: func(_ context.Context, partyID, userID string, f appointment.ListFilter) ([]appointment.Appointment, error) {
			assert.Equal(t, "law-1", partyID)
			assert.Equal(t, "law-1", userID)
			return []appointment.Appointment{*sampleAppointment(appointment.StatusConfirmed)}, nil
		},
	}
	h := newTestRouter(appts, nil)

	rec := do(t, h, http.MethodGet, "/lawyers/law-1/appointments?status=confirmed&limit=5&from=2026-03-01T00:00:00Z", "law-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, appointment.StatusConfirmed, appts.lastFilter.Status)
	assert.Equal(t, 5, appts.lastFilter.Limit)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), appts.lastFilter.From)

	resp := decodeBody[AppointmentListResponse](t, rec)
	assert.Len(t, resp.Items, 1)

	rec = do(t, h, http.MethodGet, "/clients/cli-1/appointments?limit=many", "cli-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutAvailability(t *testing.T) {
	avail := &mockAvailability{weekly: availability.NewWeeklyAvailability()}
	h := newTestRouter(&mockAppointments{}, avail)

	body := map[string]any{
		"monday": map[string]any{"enabled": true, "timeSlots": []map[string]string{{"start": "09:00", "end": "12:00"}}},
	}

	rec := do(t, h, http.MethodPut, "/lawyers/law-1/availability", "cli-1", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, avail.setCalls)

	rec = do(t, h, http.MethodPut, "/lawyers/law-1/availability", "law-1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, avail.weekly.Day(availability.Monday).Enabled)

	bad := map[string]any{
		"monday": map[string]any{"enabled": true, "timeSlots": []map[string]string{{"start": "25:00", "end": "10:00"}}},
	}
	rec = do(t, h, http.MethodPut, "/lawyers/law-1/availability", "law-1", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestAvailabilityCalendarRoundTrip(t *testing.T) {
	weekly := availability.NewWeeklyAvailability()
	weekly.SetDay(availability.Tuesday, availability.DayAvailability{
		Enabled:   true,
		TimeSlots: []availability.TimeRange{{Start: "14:00", End: "18:00"}},
	})
	avail := &mockAvailability{weekly: weekly}
	h := newTestRouter(&mockAppointments{}, avail)

	rec := do(t, h, http.MethodGet, "/lawyers/law-1/availability/calendar?week=2026-03-04", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	blocks := decodeBody[[]availability.CalendarBlock](t, rec)
	require.Len(t, blocks, 1)
	assert.Equal(t, time.Date(2026, time.March, 3, 14, 0, 0, 0, time.UTC), blocks[0].Start)

	rec = do(t, h, http.MethodPut, "/lawyers/law-1/availability/calendar", "law-1", blocks)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, weekly.Day(availability.Tuesday), avail.weekly.Day(availability.Tuesday))

	rec = do(t, h, http.MethodGet, "/lawyers/law-1/availability/calendar?week=03/04/2026", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSlots(t *testing.T) {
	past := testNow.Add(-time.Hour)
	a := testNow.Add(2 * time.Hour)
	b := testNow.Add(3 * time.Hour)
	c := testNow.Add(4 * time.Hour)

	avail := &mockAvailability{weekly: availability.NewWeeklyAvailability(), bookable: []time.Time{past, a, b, c}}
	appts := &mockAppointments{
		freeFn: func(_ context.Context, _ string, instants []time.Time, duration int) ([]time.Time, error) {
			assert.Equal(t, 45, duration)
			return []time.Time{past, a, c}, nil
		},
	}
	h := newTestRouter(appts, avail)

	rec := do(t, h, http.MethodGet, "/lawyers/law-1/slots?duration=45", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[SlotsResponse](t, rec)
	assert.Equal(t, 30, resp.Granularity)
	assert.Equal(t, 45, avail.bookedArg.duration)
	require.Len(t, resp.Slots, 2)
	assert.True(t, resp.Slots[0].Equal(a))
	assert.True(t, resp.Slots[1].Equal(c))

	rec = do(t, h, http.MethodGet, "/lawyers/law-1/slots?from=2026-03-05T00:00:00Z&to=2026-03-04T00:00:00Z", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarConnectDisabled(t *testing.T) {
	h := newTestRouter(&mockAppointments{}, nil)

	rec := do(t, h, http.MethodGet, "/lawyers/law-1/calendar/connect?redirect_url=https://x.test/cb", "law-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name    string
		pg, rdb PingFunc
		status  int
		overall string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{PostgresPing: tt.pg, RedisPing: tt.rdb, CORSAllowedOrigins: []string{"*"}})
			rec := do(t, h, http.MethodGet, "/health/ready", "", nil)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeBody[ReadinessResponse](t, rec)
			assert.Equal(t, tt.overall, resp.Status)
		})
	}
}

func TestIdentityHeaderIsTrimmed(t *testing.T) {
	var seen string
	h := IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(""))
	req.Header.Set(UserIDHeader, "  law-1 ")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "law-1", seen)
}
