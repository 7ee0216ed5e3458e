package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
	"github.com/hackgods/lawyer-scheduling/internal/availability"
)

type AppointmentService interface {
	Request(ctx context.Context, in appointment.RequestInput) (*appointment.Appointment, error)
	Accept(ctx context.Context, id uuid.UUID, actingUserID string) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, actingUserID string) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, actingUserID string) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID, actingUserID string) (*appointment.Appointment, error)
	ListForLawyer(ctx context.Context, lawyerID, actingUserID string, f appointment.ListFilter) ([]appointment.Appointment, error)
	ListForClient(ctx context.Context, clientID, actingUserID string, f appointment.ListFilter) ([]appointment.Appointment, error)
	FreeInstants(ctx context.Context, lawyerID string, instants []time.Time, durationMinutes int) ([]time.Time, error)
}

type AvailabilityService interface {
	Get(ctx context.Context, lawyerID string) (availability.WeeklyAvailability, error)
	Set(ctx context.Context, lawyerID string, w availability.WeeklyAvailability) (availability.WeeklyAvailability, error)
	Calendar(ctx context.Context, lawyerID string, weekStart time.Time) ([]availability.CalendarBlock, error)
	SaveCalendar(ctx context.Context, lawyerID string, blocks []availability.CalendarBlock) (availability.WeeklyAvailability, error)
	BookableInstants(ctx context.Context, lawyerID string, from, to time.Time, granularityMinutes, durationMinutes int) ([]time.Time, error)
	Location() *time.Location
}

// CalendarConnector links a lawyer's external calendar. Optional.
type CalendarConnector interface {
	AuthCodeURL(state, redirectURL string) string
	Connect(ctx context.Context, lawyerID, code, redirectURL string) error
}

type RouterConfig struct {
	Appointments AppointmentService
	Availability AvailabilityService
	Calendar     CalendarConnector

	PostgresPing PingFunc
	RedisPing    PingFunc

	Logger             *zap.Logger
	Env                string
	Version            string
	RateLimitRPS       int
	CORSAllowedOrigins []string
	SlotGranularity    int
	DefaultDuration    int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log.Named("http")))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", UserIDHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
	}
	r.Use(IdentityMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PostgresPing, cfg.RedisPing, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{
		appointments:       cfg.Appointments,
		availability:       cfg.Availability,
		calendar:           cfg.Calendar,
		validate:           validator.New(),
		log:                log,
		now:                now,
		defaultGranularity: positiveOr(cfg.SlotGranularity, 30),
		defaultDuration:    positiveOr(cfg.DefaultDuration, 60),
	}

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/{id}", h.getAppointment)
		r.Post("/{id}/accept", h.acceptAppointment)
		r.Post("/{id}/cancel", h.cancelAppointment)
		r.Post("/{id}/complete", h.completeAppointment)
	})

	r.Route("/lawyers/{id}", func(r chi.Router) {
		r.Get("/appointments", h.listLawyerAppointments)
		r.Get("/availability", h.getAvailability)
		r.Put("/availability", h.putAvailability)
		r.Get("/availability/calendar", h.getAvailabilityCalendar)
		r.Put("/availability/calendar", h.putAvailabilityCalendar)
		r.Get("/slots", h.listSlots)
		r.Get("/calendar/connect", h.calendarConnectURL)
		r.Post("/calendar/connect", h.connectCalendar)
	})

	r.Get("/clients/{id}/appointments", h.listClientAppointments)

	return r
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
