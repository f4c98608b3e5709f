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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"homestyle/internal/api"
	"homestyle/internal/booking"
	"homestyle/internal/config"
	"homestyle/internal/database"
	"homestyle/internal/events"
	"homestyle/internal/locks"
	"homestyle/internal/metrics"
	"homestyle/internal/notify"
	"homestyle/internal/pricing"
	"homestyle/internal/reminders"
	"homestyle/internal/schedule"
	"homestyle/internal/slots"
)

func main() {
	cfg, err := config.Load(os.Getenv("HOMESTYLE_CONFIG_PATH"))
	if err != nil {
		bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	db, err := database.NewDB(cfg.Database.Path, loc)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prices := pricing.NewProvider(nil)
	err = config.WatchPricing(ctx, cfg.Pricing.Path, cfg.PricingReloadInterval(), &logger, func(pc *config.PricingConfig) {
		if err := prices.Update(pc); err != nil {
			logger.Error().Err(err).Msg("pricing table rejected")
			return
		}
		table := prices.Current()
		logger.Info().
			Str("fingerprint", table.Fingerprint()).
			Int("bands", len(table.Bands())).
			Msg("pricing table loaded")
	})
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Pricing.Path).Msg("pricing file unavailable, using default table until it appears")
	}

	generator := slots.NewGenerator(db, prices, slots.Options{
		StepMinutes: cfg.Booking.SlotStepMinutes,
		HorizonDays: cfg.Booking.HorizonDays,
		Location:    loc,
	}, &logger)

	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.SlotCacheTTL() > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		generator.UseCache(slots.NewRedisCache(rdb, cfg.SlotCacheTTL()))
	}

	keyed := locks.NewKeyed()
	bus := events.NewEventBus(&logger)

	var bookings *booking.Service
	hub := notify.NewHub(cfg.HTTP.AllowedOrigins, func(ctx context.Context, bookingID, userID int64) bool {
		_, err := bookings.GetBooking(ctx, bookingID, userID)
		return err == nil
	}, &logger)
	go hub.Run(ctx)
	bus.Subscribe(events.TypeBookingCreated, hub.HandleEvent)
	bus.Subscribe(events.TypeBookingStatus, hub.HandleEvent)
	bus.Subscribe(events.TypeBookingReminder, hub.HandleEvent)

	if cfg.AMQP.URL != "" {
		publisher := notify.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Queue, &logger)
		defer publisher.Close()
		bus.Subscribe(events.TypeBookingCreated, publisher.HandleEvent)
		bus.Subscribe(events.TypeBookingStatus, publisher.HandleEvent)
		bus.Subscribe(events.TypeBookingReminder, publisher.HandleEvent)
	}

	bookings = booking.NewService(db, db, generator, keyed, bus, cfg.CancellationCutoff(), &logger)
	scheduleSvc := schedule.NewService(db, db, keyed, generator, loc, &logger)

	backupLogger := logger.With().Str("component", "backup").Logger()
	backups := database.NewBackupService(db, cfg.Backup, &backupLogger)
	go func() {
		if err := backups.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("backup service stopped")
		}
	}()

	if cfg.Reminders.Enabled {
		reminderSvc := reminders.NewService(reminders.Config{
			Lead:          cfg.Reminders.Lead(),
			CheckInterval: cfg.Reminders.CheckInterval(),
			RatePerSecond: cfg.Reminders.RatePerSecond,
			Burst:         cfg.Reminders.Burst,
		}, db, bus, &logger)
		go reminderSvc.Start(ctx)
	}

	checks := map[string]api.Check{"db": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	go serve(ctx, "health", fmt.Sprintf(":%d", cfg.Monitoring.HealthCheckPort), api.HealthHandler(checks), &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		go serve(ctx, "metrics", fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), metricsMux, &logger)
	}

	server := api.NewServer(bookings, scheduleSvc, db, generator, hub, api.Options{
		DefaultDuration: cfg.Booking.DefaultDurationMinutes,
		RatePerSecond:   cfg.HTTP.RatePerSecond,
		RateBurst:       cfg.HTTP.RateBurst,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, &logger)

	logger.Info().
		Str("address", cfg.HTTP.Address).
		Str("timezone", loc.String()).
		Int("horizon_days", cfg.Booking.HorizonDays).
		Msg("homestyle started")
	serve(ctx, "api", cfg.HTTP.Address, server.Handler(), &logger)
	logger.Info().Msg("homestyle stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// serve runs an HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, name, addr string, handler http.Handler, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
