package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/tokend/internal/auth/http"
	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	redisstore "github.com/aussiebroadwan/tokend/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/tokend/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the token service with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db      store.Store
	refresh store.RefreshTokens
	redis   *redisstore.Store // nil unless the redis refresh backend is used
	keys    *jwtx.KeyStore
	sealer  *cryptox.KeySealer

	// Services
	metricsReader *sdkmetric.ManualReader
	meterProvider *sdkmetric.MeterProvider
	metrics       *service.Metrics
	sessions      *service.SessionManager
	keyRotation   *service.KeyRotationService
	housekeeping  *service.HousekeepingService
	keyWatcher    *KeyWatcher // Optional: only in file mode
	watcherCancel context.CancelFunc

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "tokend",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Initialize database first (required for persistent keys)
	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initRefreshStore(); err != nil {
		app.closeStores()
		return nil, err
	}

	ctx := slogx.WithContext(context.Background(), app.logger)
	keys, sealer, err := InitAuthKeys(ctx, app.cfg, app.db.SigningKeys(), app.logger)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keys = keys
	app.sealer = sealer

	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeeping.Start()

	if app.keyWatcher != nil {
		ctx, cancel := context.WithCancel(context.Background())
		app.watcherCancel = cancel
		app.keyWatcher.Start(ctx)
	}

	app.logger.Info("token service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"algorithm", app.keys.Algorithm(),
		"key_mode", app.cfg.KeyMode,
		"refresh_backend", app.cfg.RefreshBackend,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down token service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.watcherCancel != nil {
		app.watcherCancel()
	}
	if app.keyWatcher != nil {
		if err := app.keyWatcher.Close(); err != nil {
			app.logger.Error("error closing key watcher", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.meterProvider.Shutdown(ctx); err != nil {
		app.logger.Error("error shutting down meter provider", "error", err)
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("token service stopped")
	return nil
}

func (app *Application) closeStores() error {
	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
			errs = append(errs, err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initDatabase initializes the database and applies migrations. SQLite always
// backs signing keys; it backs refresh tokens unless redis is configured.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		app.db = nil
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	version, _, err := db.SchemaVersion()
	if err != nil {
		app.logger.Warn("could not read schema version", "error", err)
	}
	app.logger.Info("database migrations applied successfully", "schema_version", version)
	return nil
}

func (app *Application) initRefreshStore() error {
	if app.cfg.RefreshBackend != BackendRedis {
		app.refresh = app.db.RefreshTokens()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	})
	// Revocation markers must outlive every refresh token of the session.
	app.redis = redisstore.NewStore(client, app.cfg.RedisPrefix, app.cfg.RefreshTTL+app.cfg.ClockSkew)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.redis.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.refresh = app.redis
	app.logger.Info("redis refresh token store connected", "addr", app.cfg.RedisAddr)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	app.metricsReader = sdkmetric.NewManualReader()
	app.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(app.metricsReader))

	metrics, err := service.NewMetrics(app.meterProvider.Meter(service.MeterName))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	app.metrics = metrics

	app.sessions = service.NewSessionManager(app.keys, app.refresh, service.SessionConfig{
		Issuer:     app.cfg.Issuer,
		Audience:   app.cfg.Audience,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
		ClockSkew:  app.cfg.ClockSkew,
	}, service.WithMetrics(metrics))

	app.keyRotation = &service.KeyRotationService{
		Keys:     app.keys,
		RSABits:  app.cfg.RSABits,
		Lifetime: app.cfg.KeyLifetime,
		Grace:    app.cfg.KeyGrace(),
		Metrics:  metrics,
	}

	app.housekeeping = service.NewHousekeepingService(
		app.keys,
		app.refresh,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeeping.Rotation = app.keyRotation
	app.housekeeping.RotateEvery = app.cfg.KeyRotationInterval
	// A pass may come up to one interval late, so renew that much earlier.
	app.housekeeping.RenewBefore = app.cfg.KeyGrace() + app.housekeeping.Interval

	switch app.cfg.KeyMode {
	case KeyModePersistent:
		app.keyRotation.Store = app.db
		app.keyRotation.Sealer = app.sealer
		app.housekeeping.SigningKeys = app.db.SigningKeys()
		app.logger.Info("key rotation service enabled (persistent mode)")
	case KeyModeFile:
		app.keyRotation.External = true
		watcher, err := NewKeyWatcher(app.cfg.KeyDir, app.keyRotation, app.logger)
		if err != nil {
			return fmt.Errorf("failed to watch key directory: %w", err)
		}
		app.keyWatcher = watcher
		app.logger.Info("key rotation managed externally (file mode)", "dir", app.cfg.KeyDir)
	default:
		app.logger.Info("key rotation service enabled (ephemeral mode)")
	}

	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	backends := []store.Backend{app.db}
	if app.redis != nil {
		backends = append(backends, app.redis)
	}

	router := httpapi.NewRouter(app.keys, BuildVersion, app.logger, backends...)

	// Wire services to router
	router.Sessions = app.sessions
	router.KeyRotation = app.keyRotation
	router.MetricsReader = app.metricsReader
	router.LoginToken = app.cfg.LoginToken
	router.EnableDocs = !app.cfg.IsProduction()
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
