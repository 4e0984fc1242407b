package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tides-platform/console/internal/activity"
	"github.com/tides-platform/console/internal/backend"
	"github.com/tides-platform/console/internal/console"
	"github.com/tides-platform/console/internal/gateway"
	"github.com/tides-platform/console/internal/sessionstore"
	sharedauth "github.com/tides-platform/console/internal/shared/auth"
	"github.com/tides-platform/console/internal/shared/config"
	"github.com/tides-platform/console/internal/shared/database"
	"github.com/tides-platform/console/internal/shared/events"
	"github.com/tides-platform/console/internal/shared/logger"
	"github.com/tides-platform/console/internal/shared/metrics"
	secmiddleware "github.com/tides-platform/console/internal/shared/middleware"
)

const version = "0.1.0"

// App holds all application dependencies
type App struct {
	Config   *config.Config
	DB       *database.DB
	Events   *events.Store
	Sessions sessionstore.Store
	Backend  *backend.Client
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Format:      cfg.Log.Format,
		Level:       cfg.Log.Level,
		ServiceName: "tides-console",
		Version:     version,
	})
	defer logger.Sync()
	log := logger.L()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	app := &App{Config: cfg}

	// Postgres is only needed when it stores sessions
	if cfg.Session.Driver == "postgres" {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			log.Fatal("database not available", logger.Err(err))
		}
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			log.Fatal("migration failed", logger.Err(err))
		}
	}

	sessions, err := sessionstore.New(ctx, cfg, app.DB)
	if err != nil {
		log.Fatal("session store not available", logger.Err(err))
	}
	app.Sessions = sessions
	defer sessions.Close()

	if sweeper, ok := sessions.(sessionstore.Sweeper); ok {
		go sweepSessions(ctx, sweeper, cfg.Session.CleanupInterval)
	}

	// Activity log: KurrentDB when enabled, otherwise in memory
	var activityLog activity.Log = activity.NewMemoryLog(10000)
	if cfg.KurrentDB.Enabled {
		store, err := events.NewStore(ctx, cfg.KurrentDB)
		if err != nil {
			log.Warn("KurrentDB not available, keeping activity in memory", logger.Err(err))
		} else {
			app.Events = store
			defer store.Close()
			activityLog = activity.NewKurrentLog(store)
			log.Info("activity log backed by KurrentDB")
		}
	}

	backendClient, err := backend.NewClient(cfg.Backend)
	if err != nil {
		log.Fatal("invalid backend configuration", logger.Err(err))
	}
	app.Backend = backendClient

	issuer := sharedauth.NewTokenIssuer(cfg.Auth)
	guards := sharedauth.NewGuards(activity.NewDenialRecorder(activityLog))
	service := console.NewService(backendClient, sessions, issuer, activityLog)
	proxy := gateway.New(backendClient.BaseURL(), gateway.DefaultRules(), service, backendClient, guards)

	loginLimiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst)
	go pruneLimiter(ctx, loginLimiter)

	handler := console.NewHandler(service, console.HandlerConfig{
		Issuer:       issuer,
		Guards:       guards,
		Activity:     activityLog,
		Gateway:      proxy,
		LoginLimiter: loginLimiter,
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.Auth.SecureCookie,
	})

	realIP, err := secmiddleware.TrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		log.Fatal("invalid trusted proxies", logger.Err(err))
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(realIP)
	r.Use(secmiddleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.CORS.AllowedOrigins)))
	r.Use(metrics.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(secmiddleware.InputSanitizer)
		r.Mount("/", handler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", logger.Err(err))
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("TIDES Admin Console")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Backend:        %s\n", cfg.Backend.BaseURL)
	fmt.Printf("Sessions:       %s\n", cfg.Session.Driver)
	fmt.Printf("KurrentDB:      %v\n", app.Events != nil)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server error", logger.Err(err))
	}

	<-done
	log.Info("server stopped")
}

func sweepSessions(ctx context.Context, sweeper sessionstore.Sweeper, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log := logger.Named("sessions")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.DeleteExpired(ctx)
			if err != nil {
				log.Warn("expired session cleanup failed", logger.Err(err))
				continue
			}
			if n > 0 {
				log.Info("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}

func pruneLimiter(ctx context.Context, l *secmiddleware.IPRateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(15 * time.Minute)
		}
	}
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "TIDES Admin Console",
		"version": version,
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.Sessions.Ping(r.Context()); err != nil {
			checks["sessions"] = "not ready: " + err.Error()
		} else {
			checks["sessions"] = "ready"
		}

		if err := app.Backend.Health(r.Context()); err != nil {
			checks["backend"] = "not ready: " + err.Error()
		} else {
			checks["backend"] = "ready"
		}

		if app.Events != nil {
			if err := app.Events.Health(r.Context()); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
