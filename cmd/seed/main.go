package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
	"github.com/hackgods/lawyer-scheduling/internal/availability"
	"github.com/hackgods/lawyer-scheduling/internal/busytime"
	"github.com/hackgods/lawyer-scheduling/internal/config"
	"github.com/hackgods/lawyer-scheduling/internal/db"
	"github.com/hackgods/lawyer-scheduling/internal/logger"
)

type person struct {
	ID   string
	Name string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err == nil {
		err = db.Migrate(ctx, pool)
	}
	cancel()
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	// Seeding goes through the services so every row passes the same
	// validation and conflict checks as the API.
	availSvc := availability.NewService(availability.NewPgRepository(pool), busytime.NopFeed{},
		cfg.Location(), log)
	apptSvc := appointment.NewService(appointment.NewPgRepository(pool), nil, cfg, log).
		WithAvailability(availSvc)

	ctx = context.Background()

	lawyers, err := seedLawyers(ctx, availSvc, envInt("SEED_LAWYERS", 25), log)
	if err != nil {
		log.Fatal("seed lawyers", zap.Error(err))
	}
	clients := fakePeople("client", envInt("SEED_CLIENTS", 400))

	if err := seedAppointments(ctx, apptSvc, availSvc, cfg, lawyers, clients, envInt("SEED_REQUESTS", 1500), log); err != nil {
		log.Fatal("seed appointments", zap.Error(err))
	}

	log.Info("seed complete")
}

func fakePeople(prefix string, count int) []person {
	out := make([]person, count)
	for i := range out {
		out[i] = person{
			ID:   prefix + "_" + uuid.NewString(),
			Name: gofakeit.Name(),
		}
	}
	return out
}

// randomWeek builds a plausible office schedule: weekdays with a morning and
// an afternoon block, some lawyers also working Saturday mornings.
func randomWeek() availability.WeeklyAvailability {
	w := availability.NewWeeklyAvailability()

	mornings := []string{"08:00", "08:30", "09:00", "09:30"}
	lunches := []string{"12:00", "12:30", "13:00"}
	evenings := []string{"16:00", "17:00", "18:00"}

	for _, d := range []availability.Weekday{
		availability.Monday, availability.Tuesday, availability.Wednesday,
		availability.Thursday, availability.Friday,
	} {
		if gofakeit.Number(0, 9) == 0 {
			continue
		}
		w.SetDay(d, availability.DayAvailability{
			Enabled: true,
			TimeSlots: []availability.TimeRange{
				{Start: mornings[gofakeit.Number(0, len(mornings)-1)], End: lunches[gofakeit.Number(0, len(lunches)-1)]},
				{Start: "14:00", End: evenings[gofakeit.Number(0, len(evenings)-1)]},
			},
		})
	}

	if gofakeit.Number(0, 3) == 0 {
		w.SetDay(availability.Saturday, availability.DayAvailability{
			Enabled:   true,
			TimeSlots: []availability.TimeRange{{Start: "10:00", End: "13:00"}},
		})
	}
	return w
}

func seedLawyers(ctx context.Context, svc *availability.Service, count int, log *zap.Logger) ([]person, error) {
	log.Info("seeding lawyers", zap.Int("count", count))

	lawyers := fakePeople("lawyer", count)
	for _, l := range lawyers {
		if _, err := svc.Set(ctx, l.ID, randomWeek()); err != nil {
			return nil, fmt.Errorf("set availability for %s: %w", l.ID, err)
		}
	}

	log.Info("lawyers seeded", zap.Int("count", len(lawyers)))
	return lawyers, nil
}

func seedAppointments(
	ctx context.Context,
	apptSvc *appointment.Service,
	availSvc *availability.Service,
	cfg config.Config,
	lawyers, clients []person,
	count int,
	log *zap.Logger,
) error {
	log.Info("seeding appointment requests", zap.Int("count", count))

	types := []appointment.ConsultationType{appointment.TypeVideo, appointment.TypeInPerson, appointment.TypePhone}
	durations := []int{30, 45, 60, 90}

	from := time.Now().Add(time.Hour)
	to := from.Add(21 * 24 * time.Hour)

	instants := make(map[string][]time.Time, len(lawyers))
	var created, confirmed, rejected int

	for i := 0; i < count; i++ {
		lawyer := lawyers[gofakeit.Number(0, len(lawyers)-1)]
		client := clients[gofakeit.Number(0, len(clients)-1)]
		duration := durations[gofakeit.Number(0, len(durations)-1)]

		slots, ok := instants[lawyer.ID]
		if !ok {
			var err error
			slots, err = availSvc.BookableInstants(ctx, lawyer.ID, from, to, cfg.SlotGranularityMinutes, 30)
			if err != nil {
				return fmt.Errorf("bookable instants for %s: %w", lawyer.ID, err)
			}
			instants[lawyer.ID] = slots
		}
		if len(slots) == 0 {
			continue
		}

		appt, err := apptSvc.Request(ctx, appointment.RequestInput{
			LawyerID:   lawyer.ID,
			ClientID:   client.ID,
			LawyerName: lawyer.Name,
			ClientName: client.Name,
			Date:       slots[gofakeit.Number(0, len(slots)-1)],
			Duration:   duration,
			Type:       types[gofakeit.Number(0, len(types)-1)],
			Notes:      gofakeit.BuzzWord(),
		})
		if err != nil {
			if errors.Is(err, appointment.ErrConflict) || errors.Is(err, appointment.ErrValidation) {
				rejected++
				continue
			}
			return fmt.Errorf("request appointment: %w", err)
		}
		created++

		// roughly half of the requests get accepted
		if gofakeit.Number(0, 1) == 0 {
			if _, err := apptSvc.Accept(ctx, appt.ID, lawyer.ID); err != nil {
				if errors.Is(err, appointment.ErrConflict) {
					continue
				}
				return fmt.Errorf("accept appointment %s: %w", appt.ID, err)
			}
			confirmed++
		}

		if created > 0 && created%250 == 0 {
			log.Info("appointments seeded", zap.Int("created", created), zap.Int("of", count))
		}
	}

	log.Info("appointments seeded",
		zap.Int("created", created),
		zap.Int("confirmed", confirmed),
		zap.Int("rejected", rejected),
	)
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
