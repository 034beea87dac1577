package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ksandeen/weatherdeck/internal/config"
	"github.com/ksandeen/weatherdeck/internal/geo"
	httphandler "github.com/ksandeen/weatherdeck/internal/http"
	"github.com/ksandeen/weatherdeck/internal/identity"
	"github.com/ksandeen/weatherdeck/internal/lifecycle"
	"github.com/ksandeen/weatherdeck/internal/observability"
	"github.com/ksandeen/weatherdeck/internal/prefs"
	"github.com/ksandeen/weatherdeck/internal/resolver"
	"github.com/ksandeen/weatherdeck/internal/storage"
	"github.com/ksandeen/weatherdeck/internal/weather"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx := context.Background()

	pool, err := storage.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}
	logger.Info("migrations applied", zap.String("dir", cfg.MigrationsDir))

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	gateway, err := weather.NewOpenWeatherClient(
		cfg.WeatherAPIKey,
		cfg.WeatherCurrentURL,
		cfg.WeatherForecastURL,
		cfg.WeatherUnits,
		cfg.WeatherAPITimeout,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	locator := geo.NewIPLocator(cfg.GeolocationURL, cfg.GeolocationTimeout)
	prefStore := prefs.NewStore(pool)
	locationResolver := resolver.New(gateway, prefStore, locator, logger, cfg.DefaultCity, cfg.ForecastHourMarker)

	users := identity.NewRepository(pool)
	sessions := identity.NewSessionStore(redisClient, cfg.SessionTTL)
	avatars := identity.NewAvatarRepository(pool)
	verifier := identity.NewGoogleVerifier(cfg.GoogleTokenInfoURL, cfg.WeatherAPITimeout)
	authService := identity.NewService(
		users, sessions, avatars, prefStore, verifier, logger,
		cfg.BcryptCost, cfg.MinPasswordLength, cfg.PublicBaseURL,
	)

	handler := httphandler.NewHandler(
		authService,
		locationResolver,
		avatars,
		func(ctx context.Context) error { return pool.Ping(ctx) },
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		logger,
		cfg.CityMinLength,
		cfg.CityMaxLength,
	)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.Use(httphandler.InFlightMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/avatars/{userID}", handler.GetAvatar).Methods("GET")

	authRouter := router.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/signup", handler.PostSignUp).Methods("POST")
	authRouter.HandleFunc("/login", handler.PostSignIn).Methods("POST")
	authRouter.HandleFunc("/google", handler.PostGoogleSignIn).Methods("POST")

	sessionRouter := router.PathPrefix("/auth").Subrouter()
	sessionRouter.Use(handler.AuthMiddleware)
	sessionRouter.HandleFunc("/logout", handler.PostSignOut).Methods("POST")
	sessionRouter.HandleFunc("/password", handler.PutPassword).Methods("PUT")
	sessionRouter.HandleFunc("/account", handler.DeleteAccount).Methods("DELETE")
	sessionRouter.HandleFunc("/avatar", handler.PostAvatar).Methods("POST")

	dashboardRouter := router.PathPrefix("/dashboard").Subrouter()
	dashboardRouter.Use(handler.AuthMiddleware)
	dashboardRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	dashboardRouter.HandleFunc("", handler.GetDashboard).Methods("GET")
	dashboardRouter.HandleFunc("/locate", handler.PostLocate).Methods("POST")
	dashboardRouter.HandleFunc("/search", handler.GetSearch).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-signalCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	// Preference writes are fire-and-forget relative to requests; drain them
	// before the pool closes.
	locationResolver.Flush()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
