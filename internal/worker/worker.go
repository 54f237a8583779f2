package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jalsetu/apiserver/config"
	"github.com/jalsetu/apiserver/internal/db"
	"github.com/jalsetu/apiserver/internal/mq"
	"github.com/jalsetu/apiserver/internal/notify"
	"github.com/jalsetu/apiserver/internal/scheduler"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/internal/store"
)

const jobTimeout = 50 * time.Second

// EventConsumer handles messages from the event channel.
type EventConsumer interface {
	Run(ctx context.Context, bus *mq.MQ, channel string) error
}

// Worker runs the notification consumer and the periodic jobs.
type Worker struct {
	db        *sql.DB
	bus       *mq.MQ
	channel   string
	consumer  EventConsumer
	scheduler *scheduler.Scheduler
}

// New connects to the database and broker and registers the periodic jobs.
func New(ctx context.Context, cfg config.Config) (*Worker, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	bus, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	userRepo := store.NewUserRepository(dbConn)
	dispatcher, err := notify.NewDispatcherFromConfig(userRepo, cfg)
	if err != nil {
		_ = bus.Close()
		_ = dbConn.Close()
		return nil, fmt.Errorf("init notifications: %w", err)
	}

	publisher := notify.NewPublisher(bus, cfg.MQ.Channel)
	scheduleService := services.NewScheduleService(store.NewScheduleRepository(dbConn), userRepo, publisher)
	authService := services.NewAuthService(userRepo, store.NewSessionRepository(dbConn), store.NewOTPRepository(dbConn), dispatcher, services.AuthOptions{
		Secret:     cfg.Auth.JWTSecret,
		TokenTTL:   cfg.Auth.TokenTTL,
		RequireOTP: cfg.Auth.RequireOTP,
		OTPTTL:     cfg.Auth.OTPTTL,
	})

	w := &Worker{
		db:        dbConn,
		bus:       bus,
		channel:   cfg.MQ.Channel,
		consumer:  dispatcher,
		scheduler: scheduler.New(jobTimeout),
	}
	if err := w.registerJobs(ctx, scheduleService, authService); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Worker) registerJobs(ctx context.Context, schedules *services.ScheduleService, auth *services.AuthService) error {
	if err := w.scheduler.Add(ctx, "schedule-automation", scheduler.EveryMinute, func(ctx context.Context) error {
		opened, closed, err := schedules.RunAutomation(ctx)
		if opened > 0 || closed > 0 {
			slog.InfoContext(ctx, "schedule automation", "opened", opened, "closed", closed)
		}
		return err
	}); err != nil {
		return err
	}

	return w.scheduler.Add(ctx, "session-cleanup", scheduler.EveryMinute, func(ctx context.Context) error {
		purged, err := auth.PurgeExpiredSessions(ctx)
		if purged > 0 {
			slog.InfoContext(ctx, "expired sessions purged", "count", purged)
		}
		return err
	})
}

// Run blocks until ctx is cancelled or the consumer fails.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.scheduler.Run(ctx)
	}()

	slog.InfoContext(ctx, "worker consuming events", "channel", w.channel)
	err := w.consumer.Run(ctx, w.bus, w.channel)
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume %s: %w", w.channel, err)
	}
	return nil
}

// Close releases the broker and database connections.
func (w *Worker) Close() error {
	var errs []error
	if w.bus != nil {
		errs = append(errs, w.bus.Close())
	}
	if w.db != nil {
		errs = append(errs, w.db.Close())
	}
	return errors.Join(errs...)
}
