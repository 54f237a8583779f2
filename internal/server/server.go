package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jalsetu/apiserver/config"
	"github.com/jalsetu/apiserver/internal/cache"
	"github.com/jalsetu/apiserver/internal/db"
	"github.com/jalsetu/apiserver/internal/handlers"
	"github.com/jalsetu/apiserver/internal/logging"
	"github.com/jalsetu/apiserver/internal/mq"
	"github.com/jalsetu/apiserver/internal/notify"
	"github.com/jalsetu/apiserver/internal/ratelimit"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/internal/storage"
	"github.com/jalsetu/apiserver/internal/store"
	"github.com/redis/go-redis/v9"
)

const cachePrefix = "jalsetu"

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	bus        *mq.MQ
	redis      *redis.Client
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	photos, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	bus, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	// Redis is optional: without it the API runs unthrottled and uncached.
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		if !errors.Is(err, cache.ErrDisabled) {
			slog.WarnContext(ctx, "redis unavailable, continuing without it", "error", err)
		}
		redisClient = nil
	}

	userRepo := store.NewUserRepository(dbConn)
	sessionRepo := store.NewSessionRepository(dbConn)
	otpRepo := store.NewOTPRepository(dbConn)
	reportRepo := store.NewReportRepository(dbConn)
	scheduleRepo := store.NewScheduleRepository(dbConn)
	analyticsRepo := store.NewAnalyticsRepository(dbConn)

	dispatcher, err := notify.NewDispatcherFromConfig(userRepo, cfg)
	if err != nil {
		_ = bus.Close()
		_ = dbConn.Close()
		return nil, fmt.Errorf("init notifications: %w", err)
	}
	publisher := notify.NewPublisher(bus, cfg.MQ.Channel)

	var analyticsCache services.Cache
	var limiter ratelimit.Allower
	if redisClient != nil {
		analyticsCache = cache.NewRedisCache(redisClient, cachePrefix)
		if cfg.RateLimit.Enabled {
			limiter = ratelimit.NewLimiter(redisClient, cfg.RateLimit)
		}
	}

	authService := services.NewAuthService(userRepo, sessionRepo, otpRepo, dispatcher, services.AuthOptions{
		Secret:     cfg.Auth.JWTSecret,
		TokenTTL:   cfg.Auth.TokenTTL,
		RequireOTP: cfg.Auth.RequireOTP,
		OTPTTL:     cfg.Auth.OTPTTL,
	})
	userService := services.NewUserService(userRepo)
	reportService := services.NewReportService(reportRepo, userRepo, photos, publisher)
	scheduleService := services.NewScheduleService(scheduleRepo, userRepo, publisher)
	analyticsService := services.NewAnalyticsService(analyticsRepo, analyticsCache)

	authMiddleware := handlers.RequireAuth(authService)
	rateLimit := ratelimit.Middleware(limiter, cfg.RateLimit.Capacity)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(slog.Default()),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authService, rateLimit)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, userService, authMiddleware)
		})
		r.Route("/reports", func(r chi.Router) {
			handlers.ReportRouter(r, reportService, authMiddleware)
		})
		r.Route("/schedules", func(r chi.Router) {
			handlers.ScheduleRouter(r, scheduleService, authMiddleware)
		})
		r.Route("/email", func(r chi.Router) {
			handlers.EmailRouter(r, dispatcher, userService, authMiddleware)
		})
		r.Route("/analytics", func(r chi.Router) {
			handlers.AnalyticsRouter(r, analyticsService, authMiddleware)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		bus:        bus,
		redis:      redisClient,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases backing connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
