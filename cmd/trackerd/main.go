// Package main is the entry point for the talktrack companion daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/fosdem-friends/talktrack/internal/api"
	"github.com/fosdem-friends/talktrack/internal/auth"
	"github.com/fosdem-friends/talktrack/internal/config"
	"github.com/fosdem-friends/talktrack/internal/health"
	"github.com/fosdem-friends/talktrack/internal/localstore"
	"github.com/fosdem-friends/talktrack/internal/middleware"
	"github.com/fosdem-friends/talktrack/internal/quota"
	"github.com/fosdem-friends/talktrack/internal/schedule"
	"github.com/fosdem-friends/talktrack/internal/session"
	"github.com/fosdem-friends/talktrack/internal/store"
	"github.com/fosdem-friends/talktrack/internal/store/pgstore"
	"github.com/fosdem-friends/talktrack/internal/store/redisstore"
	"github.com/fosdem-friends/talktrack/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Talktrack Tracker Daemon")
		fmt.Println()
		fmt.Println("Usage: trackerd [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx := context.Background()

	// Tracing is off unless an OTLP endpoint is configured.
	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "talktrack",
		Enabled:      cfg.OTLPEndpoint != "",
		Environment:  cfg.Env,
		ExporterType: "otlp-http",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	// Attendance store backend.
	var (
		attendanceStore store.Store
		redisClient     *redis.Client
		checkers        = map[string]api.HealthChecker{}
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		attendanceStore = store.NewMemory()
	case config.BackendRedis:
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		attendanceStore = redisstore.New(redisClient, logger)
		checkers["redis"] = health.NewRedisChecker(redisClient)
	case config.BackendPostgres:
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to open postgres store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure postgres schema", "error", err)
			os.Exit(1)
		}
		attendanceStore = pg
		checkers["db"] = health.NewDBChecker(pg.DB())
	}
	checkers["store"] = health.NewStoreChecker(attendanceStore)

	// Local state persists session hints across daemon restarts.
	var local localstore.Store
	if cfg.StatePath != "" {
		file, err := localstore.OpenFile(cfg.StatePath)
		if err != nil {
			logger.Error("failed to open state file", "path", cfg.StatePath, "error", err)
			os.Exit(1)
		}
		local = file
	} else {
		local = localstore.NewMemory()
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, local)
	if err != nil {
		logger.Error("failed to initialize session issuer", "error", err)
		os.Exit(1)
	}

	guard := quota.NewGuard(attendanceStore,
		quota.WithMaxGroups(cfg.MaxGroups),
		quota.WithMaxUsersPerGroup(cfg.MaxUsersPerGroup),
		quota.WithAllowedGroups(cfg.AllowedGroups),
	)

	sess, err := session.New(session.Options{
		Store:  attendanceStore,
		Auth:   issuer,
		Local:  local,
		Guard:  guard,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialize session", "error", err)
		os.Exit(1)
	}

	// An unavailable schedule is not fatal; one can be pushed over the API.
	if cfg.ScheduleSource != "" {
		if doc, err := schedule.Fetch(ctx, cfg.ScheduleSource); err != nil {
			logger.Warn("failed to fetch schedule", "source", cfg.ScheduleSource, "error", err)
		} else if err := sess.LoadSchedule(doc); err != nil {
			logger.Warn("failed to load schedule", "source", cfg.ScheduleSource, "error", err)
		} else {
			logger.Info("schedule loaded", "source", cfg.ScheduleSource)
		}
	}

	if reg := sess.Restore(ctx); reg != nil {
		logger.Info("restored saved session", "group", reg.Group, "nickname", reg.Nickname)
	}

	metrics := middleware.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	eventStream := api.NewEventStream(sess, metrics)
	defer eventStream.Close()

	// Rate limit state lives in redis when that backend is up anyway.
	var rateStore middleware.RateLimitStore
	if redisClient != nil {
		rateStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(metrics).AsStore()
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		rateStore = memStore
	}

	mux := api.NewRouter(api.RouterOptions{
		Handlers:        api.NewHandlers(sess, metrics),
		EventStream:     eventStream,
		Health:          api.NewHealthHandlers(checkers),
		Registry:        registry,
		RegisterLimiter: middleware.RateLimiter(rateStore, middleware.DefaultRegisterLimit(), middleware.IPKeyFunc()),
	})

	var handler http.Handler = mux

	if cfg.Env == "development" {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(handler)
	}

	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
			fmt.Sprintf("http://localhost:%d", cfg.Port),
		},
		AllowCredentials: true,
		MaxAge:           600,
	})(handler)

	if cfg.RateLimitPerMinute > 0 {
		handler = middleware.RateLimiter(rateStore, middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitPerMinute,
			WindowDuration:    time.Minute,
		}, middleware.UserKeyFunc())(handler)
	}

	handler = middleware.HTTPMetrics(metrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if tracer.IsEnabled() {
		handler = middleware.Tracing("talktrack")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
