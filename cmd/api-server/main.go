package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/api"
	"github.com/hackgods/lawyer-scheduling/internal/appointment"
	"github.com/hackgods/lawyer-scheduling/internal/availability"
	"github.com/hackgods/lawyer-scheduling/internal/busytime"
	"github.com/hackgods/lawyer-scheduling/internal/config"
	"github.com/hackgods/lawyer-scheduling/internal/db"
	"github.com/hackgods/lawyer-scheduling/internal/events"
	"github.com/hackgods/lawyer-scheduling/internal/gcal"
	"github.com/hackgods/lawyer-scheduling/internal/logger"
	redisclient "github.com/hackgods/lawyer-scheduling/internal/redis"
)

var version = "dev"

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

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err == nil {
		err = db.Migrate(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// Redis is optional at runtime: without it bookings serialize on
	// Postgres alone and busy blocks go uncached.
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Warn("redis unavailable, continuing degraded", zap.Error(err))
		rdb = nil
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis")
	}

	var (
		feed     busytime.Feed = busytime.NopFeed{}
		calendar *gcal.Client
		cache    *busytime.CachedFeed
	)
	if cfg.GoogleCalendarEnabled() {
		calendar = gcal.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret,
			gcal.NewPgTokenStore(pgPool), log)
		feed = calendar
		log.Info("google calendar sync enabled")
	}
	if rdb != nil {
		cache = busytime.NewCachedFeed(feed, rdb, cfg.BusyCacheTTL, log.Named("busytime"))
		feed = cache
	}

	availSvc := availability.NewService(availability.NewPgRepository(pgPool), feed,
		cfg.Location(), log)

	var locker redisclient.Locker
	if rdb != nil {
		locker = redisclient.NewRedisPartyLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}
	apptSvc := appointment.NewService(appointment.NewPgRepository(pgPool), locker, cfg, log).
		WithAvailability(availSvc).
		WithBusyFeed(feed)

	if calendar != nil {
		apptSvc.AddConfirmationHook(calendarHook(calendar.SyncHook(), cache))
		apptSvc.AddCancellationHook(calendarCancelHook(calendar.SyncHook(), cache))
	}
	if cfg.RabbitMQURL != "" {
		conn, err := events.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Warn("rabbitmq unavailable, confirmations will not be published", zap.Error(err))
		} else {
			defer conn.Close()
			pub, err := events.NewPublisher(conn, log)
			if err != nil {
				return fmt.Errorf("rabbitmq publisher: %w", err)
			}
			apptSvc.AddConfirmationHook(pub)
			log.Info("publishing confirmations", zap.String("queue", events.ConfirmedQueueName))
		}
	}

	routerCfg := api.RouterConfig{
		Appointments:       apptSvc,
		Availability:       availSvc,
		PostgresPing:       pgPool.Ping,
		RedisPing:          redisPing(rdb),
		Logger:             log,
		Env:                cfg.Env,
		Version:            version,
		RateLimitRPS:       cfg.RateLimitRPS,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SlotGranularity:    cfg.SlotGranularityMinutes,
		DefaultDuration:    cfg.DefaultDurationMinutes,
	}
	if calendar != nil {
		routerCfg.Calendar = calendar
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	apptSvc.WaitHooks()

	log.Info("api-server stopped")
	return nil
}

// redisPing returns nil when Redis was unreachable at startup; readiness
// then reports it as unconfigured and the service as degraded.
func redisPing(rdb *redis.Client) api.PingFunc {
	if rdb == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// calendarHook pushes the confirmed appointment to Google Calendar and then
// drops the lawyer's cached busy blocks, which no longer match upstream.
func calendarHook(sync *gcal.SyncHook, cache *busytime.CachedFeed) appointment.ConfirmationHook {
	if cache == nil {
		return sync
	}
	return appointment.HookFunc(sync.Name(), func(ctx context.Context, a appointment.Appointment) error {
		if err := sync.OnConfirmed(ctx, a); err != nil {
			return err
		}
		return cache.Invalidate(ctx, a.LawyerID)
	})
}

// calendarCancelHook removes a cancelled appointment's event and drops the
// lawyer's cached busy blocks so the window is bookable again.
func calendarCancelHook(sync *gcal.SyncHook, cache *busytime.CachedFeed) appointment.CancellationHook {
	if cache == nil {
		return sync
	}
	return appointment.CancelHookFunc(sync.Name(), func(ctx context.Context, a appointment.Appointment, previous appointment.AppointmentStatus) error {
		if previous != appointment.StatusConfirmed {
			return nil
		}
		return errors.Join(sync.OnCancelled(ctx, a, previous), cache.Invalidate(ctx, a.LawyerID))
	})
}
