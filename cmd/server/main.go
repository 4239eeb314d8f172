package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shopsync/backend/internal/application/catalogsync"
	"github.com/shopsync/backend/internal/application/tenancy"
	"github.com/shopsync/backend/internal/application/webhook"
	"github.com/shopsync/backend/internal/infrastructure/auth"
	"github.com/shopsync/backend/internal/infrastructure/cache"
	"github.com/shopsync/backend/internal/infrastructure/config"
	"github.com/shopsync/backend/internal/infrastructure/credentials"
	"github.com/shopsync/backend/internal/infrastructure/ecommerce"
	"github.com/shopsync/backend/internal/infrastructure/logger"
	"github.com/shopsync/backend/internal/infrastructure/migration"
	"github.com/shopsync/backend/internal/infrastructure/persistence"
	"github.com/shopsync/backend/internal/infrastructure/ratelimit"
	"github.com/shopsync/backend/internal/infrastructure/scheduler"
	"github.com/shopsync/backend/internal/infrastructure/telemetry"
	"github.com/shopsync/backend/internal/interfaces/http/handler"
	"github.com/shopsync/backend/internal/interfaces/http/middleware"
	"github.com/shopsync/backend/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	shutdownTimeout   = 30 * time.Second
	gaugeInterval     = 15 * time.Second
	evictionInterval  = time.Hour
	installRateLimit  = 30
	installRateWindow = time.Minute
)

func main() {
	var (
		configPath string
		migrate    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config.toml")
	flag.BoolVar(&migrate, "migrate", false, "Apply embedded migrations before serving")
	flag.Parse()

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, migrate); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, baseLog *zap.Logger, migrate bool) error {
	obs, err := setupTelemetry(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		return err
	}
	defer obs.shutdown(baseLog)
	log := obs.logs.Bridge(baseLog, cfg.App.Name)

	log.Info("Starting shopsync",
		zap.String("version", version),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)

	// ---------------------------------------------------------------------
	// Storage
	// ---------------------------------------------------------------------

	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if migrate {
		if err := applyMigrations(db, log); err != nil {
			return err
		}
	}

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		SlowQueryThreshold: telemetry.DefaultDBTracingConfig().SlowQueryThreshold,
		DBName:             cfg.Database.DBName,
	}, log); err != nil {
		return fmt.Errorf("db tracing: %w", err)
	}
	dbMetricsCfg := telemetry.DefaultDBMetricsConfig()
	dbMetricsCfg.Enabled = obs.meter.IsEnabled()
	dbMetrics, err := telemetry.RegisterDBMetrics(ctx, db.DB, obs.meter, dbMetricsCfg, log)
	if err != nil {
		return fmt.Errorf("db metrics: %w", err)
	}
	if dbMetrics != nil {
		defer dbMetrics.Stop()
	}

	shopRepo := persistence.NewGormShopRepository(db.DB)
	catalogStore := persistence.NewGormCatalogStore(db.DB)
	unitOfWork := persistence.NewGormUnitOfWork(db.DB, catalogStore)
	searchRepo := persistence.NewGormSearchConfigRepository(db.DB)
	searchIndexer := persistence.NewSearchIndexer(db.DB, 0, log.Named("search"))

	leases, err := cache.NewLeaseStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore(ctx, cfg.Lease.Backend)
	if err != nil {
		return err
	}
	if closer, ok := leases.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	// ---------------------------------------------------------------------
	// Upstream
	// ---------------------------------------------------------------------

	cipher, err := newCredentialCipher(cfg.Security, log)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(ratelimit.Config{Windows: []ratelimit.Window{
		{Window: time.Second, Ceiling: cfg.RateLimit.PerSecond},
		{Window: 5 * time.Minute, Ceiling: cfg.RateLimit.PerFiveMinutes},
		{Window: time.Hour, Ceiling: cfg.RateLimit.PerHour},
		{Window: 24 * time.Hour, Ceiling: cfg.RateLimit.PerDay},
	}})
	if err != nil {
		return err
	}

	client, err := ecommerce.NewCatalogClient(ecommerce.ClientConfig{
		BaseURLTemplate:   cfg.Upstream.BaseURLTemplate,
		RequestTimeout:    cfg.Upstream.RequestTimeout,
		MaxRateWait:       cfg.Upstream.MaxRateWait,
		PageSize:          cfg.Upstream.PageSize,
		UserAgent:         cfg.Upstream.UserAgent,
		WebhookSigningKey: []byte(cfg.Webhook.SigningKey),
	}, limiter, credentials.NewStore(shopRepo, cipher), shopRepo,
		ecommerce.WithClientLogger(log.Named("upstream")))
	if err != nil {
		return err
	}

	// ---------------------------------------------------------------------
	// Sync engine
	// ---------------------------------------------------------------------

	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  obs.meter.Meter("shopsync/catalogsync"),
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}

	executor := catalogsync.NewExecutor(client, unitOfWork, searchRepo, log.Named("sync"))
	executor.SetMetrics(syncMetrics)

	orchCfg := catalogsync.DefaultConfig()
	orchCfg.Workers = cfg.Sync.Workers
	orchCfg.QueueSize = cfg.Sync.QueueSize
	orchCfg.MaxAttempts = cfg.Sync.MaxAttempts
	orchCfg.RetryBaseDelay = cfg.Sync.RetryBaseDelay
	orchCfg.RetryMaxDelay = cfg.Sync.RetryMaxDelay
	orchCfg.TaskTimeout = cfg.Sync.TaskTimeout
	orchCfg.LeaseTTL = cfg.Lease.TTL
	orchCfg.HistorySize = cfg.Sync.HistorySize
	orchestrator, err := catalogsync.NewOrchestrator(orchCfg, executor, leases, shopRepo, log.Named("orchestrator"))
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(syncMetrics)

	ingestor := webhook.NewIngestor(webhook.IngestorConfig{
		Shops:      shopRepo,
		Submitter:  orchestrator,
		SigningKey: []byte(cfg.Webhook.SigningKey),
		Logger:     log.Named("webhook"),
	})

	tenancyService := tenancy.NewService(tenancy.ServiceConfig{
		Shops:           shopRepo,
		Verifier:        ecommerce.NewInstallVerifier(cfg.Security.AppSecret, cfg.Security.InstallMaxSkew),
		Sealer:          cipher,
		Webhooks:        client,
		Sync:            orchestrator,
		Search:          searchRepo,
		CallbackBaseURL: cfg.Webhook.CallbackBaseURL,
		Logger:          log.Named("tenancy"),
	})

	jobs := []scheduler.Job{
		scheduler.LimiterEvictionJob(limiter, cfg.RateLimit.IdleEviction, evictionInterval, log),
		scheduler.SearchRefreshJob(searchIndexer, cfg.Scheduler.SearchRefreshInterval, log),
		scheduler.SyncGaugesJob(syncMetrics, orchestrator, client, gaugeInterval),
	}
	maintenance, err := scheduler.NewMaintenance(log.Named("maintenance"), jobs...)
	if err != nil {
		return err
	}

	var trigger *scheduler.ReconcileTrigger
	if cfg.Scheduler.Enabled {
		triggerCfg := scheduler.DefaultReconcileTriggerConfig()
		triggerCfg.Interval = cfg.Scheduler.ReconcileInterval
		triggerCfg.CheckInterval = cfg.Scheduler.CheckInterval
		trigger, err = scheduler.NewReconcileTrigger(triggerCfg, shopRepo, orchestrator, log.Named("reconcile"))
		if err != nil {
			return err
		}
	}

	// ---------------------------------------------------------------------
	// HTTP
	// ---------------------------------------------------------------------

	system := handler.NewSystemHandler(cfg.App.Name, version).
		AddCheck("database", func(ctx context.Context) error {
			sqlDB, err := db.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	if pinger, ok := leases.(interface{ Ping(context.Context) error }); ok {
		system.AddCheck("redis", pinger.Ping)
	}
	system.AddCheck("orchestrator", func(context.Context) error {
		if !orchestrator.IsRunning() {
			return errors.New("not running")
		}
		return nil
	})

	engine := newEngine(cfg, log, obs)
	routes := router.RegisterAPI(engine, router.Handlers{
		Shop:    handler.NewShopHandler(tenancyService),
		Webhook: handler.NewWebhookHandler(ingestor, log.Named("webhook")),
		System:  system,
	}, router.Guards{
		Auth:      middleware.JWTAuthMiddleware(auth.NewJWTService(cfg.JWT), log),
		Install:   middleware.RateLimit(middleware.NewClientRateLimiter(installRateLimit, installRateWindow)),
		BodyLimit: middleware.BodyLimit(cfg.Webhook.MaxPayloadBytes),
	})
	log.Info("Routes registered", zap.Int("count", len(routes)))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// ---------------------------------------------------------------------
	// Lifecycle
	// ---------------------------------------------------------------------

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	if err := maintenance.Start(ctx); err != nil {
		return err
	}
	if trigger != nil {
		if err := trigger.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// intake first, then producers, then the workers draining the queue
		errs := []error{srv.Shutdown(shutdownCtx)}
		if trigger != nil {
			errs = append(errs, trigger.Stop(shutdownCtx))
		}
		errs = append(errs,
			maintenance.Stop(shutdownCtx),
			orchestrator.Stop(shutdownCtx),
		)
		return errors.Join(errs...)
	})
	return g.Wait()
}

func newEngine(cfg *config.Config, log *zap.Logger, obs *observability) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     obs.tracer.IsEnabled(),
	}))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	if obs.meter.IsEnabled() {
		engine.Use(middleware.HTTPMetrics(obs.meter.Meter("shopsync/http")))
	}
	return engine
}

func applyMigrations(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, "", log)
	if err != nil {
		return err
	}
	// Close would also close the shared *sql.DB
	return m.Up()
}

// newCredentialCipher builds the credential cipher. Outside production a
// missing key is replaced with a random one, so sealed credentials do not
// survive a restart.
func newCredentialCipher(cfg config.SecurityConfig, log *zap.Logger) (*credentials.Cipher, error) {
	if cfg.CredentialKey == "" {
		log.Warn("security.credential_key not set, using an ephemeral key")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return credentials.NewCipher(key)
	}
	key, err := cfg.CredentialKeyBytes()
	if err != nil {
		return nil, err
	}
	return credentials.NewCipher(key)
}
