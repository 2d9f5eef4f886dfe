package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gridwise/csms/internal/adapter/cache"
	"github.com/gridwise/csms/internal/adapter/lock"
	"github.com/gridwise/csms/internal/adapter/ocpp/commander"
	v15 "github.com/gridwise/csms/internal/adapter/ocpp/v15"
	v16 "github.com/gridwise/csms/internal/adapter/ocpp/v16"
	"github.com/gridwise/csms/internal/adapter/queue"
	"github.com/gridwise/csms/internal/adapter/roaming"
	"github.com/gridwise/csms/internal/adapter/storage/postgres"
	"github.com/gridwise/csms/internal/ports"
	"github.com/gridwise/csms/internal/scheduler"
	"github.com/gridwise/csms/internal/service/billing"
	"github.com/gridwise/csms/internal/service/dispatcher"
	"github.com/gridwise/csms/internal/service/inactivity"
	"github.com/gridwise/csms/internal/service/notification"
	"github.com/gridwise/csms/internal/service/pricing"
	"github.com/gridwise/csms/internal/service/siteauth"
	"github.com/gridwise/csms/internal/service/smartcharging"
	"github.com/gridwise/csms/internal/service/station"
	"github.com/gridwise/csms/internal/service/template"
	"github.com/gridwise/csms/internal/service/transaction"
	"github.com/gridwise/csms/pkg/config"
)

const serviceName = "csms"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync()

	logger.Info("starting csms",
		zap.String("service", serviceName),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	// Storage.
	db, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to get underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := postgres.RunMigrations(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()
	locks := lock.NewRedisLockService(redisCache.Client(), logger)

	messageQueue, err := queue.NewNATSQueue(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer messageQueue.Close()

	// Repositories.
	tenantRepo := postgres.NewTenantRepository(db, logger)
	stationRepo := postgres.NewStationRepository(db, logger)
	tokenRepo := postgres.NewRegistrationTokenRepository(db, logger)
	transactionRepo := postgres.NewTransactionRepository(db, logger)
	consumptionRepo := postgres.NewConsumptionRepository(db, logger)
	meterValueRepo := postgres.NewMeterValueRepository(db, logger)
	tagRepo := cache.NewCachedTagRepository(postgres.NewTagRepository(db, logger), redisCache, time.Minute, logger)
	userRepo := postgres.NewUserRepository(db, logger)

	// Deferred work pool. Shutdown drains pending timers so stop-side effects
	// are not lost on restart.
	pool := scheduler.NewPool(4, 256, logger)

	// Integrations.
	pricingService := pricing.NewService(cfg.Pricing, logger)
	billingService := billing.NewService(messageQueue, logger)
	notificationService := notification.NewService(messageQueue, logger)
	smartChargingService := smartcharging.NewService(messageQueue, logger)
	roamingClient := roaming.NewClient(cfg.Roaming, logger)
	classifier := inactivity.NewClassifier(cfg.OCPP)
	templates, err := template.NewCatalog(cfg.OCPP.TemplateFile, logger)
	if err != nil {
		logger.Fatal("failed to load station templates", zap.Error(err))
	}
	siteAuth := siteauth.NewOpenPolicy()

	effects := dispatcher.NewSideEffects(
		pricingService,
		billingService,
		roamingClient,
		smartChargingService,
		notificationService,
		locks,
		pool,
		transactionRepo,
		cfg.OCPP,
		logger,
	)

	// The JSON server both receives station calls and carries the outbound
	// commander, so the router is completed after the server exists.
	soapCommander := v15.NewCommander(stationRepo, cfg.OCPP.PerCallTimeout, logger)
	cmdRouter := commander.NewRouter(stationRepo, nil, soapCommander)

	clock := ports.WallClock{}
	stationService := station.NewService(
		tenantRepo,
		stationRepo,
		tokenRepo,
		templates,
		cmdRouter,
		pool,
		nil,
		effects,
		clock,
		cfg.OCPP,
		logger,
	)
	transactionService := transaction.NewService(
		tenantRepo,
		stationRepo,
		transactionRepo,
		consumptionRepo,
		meterValueRepo,
		tagRepo,
		userRepo,
		siteAuth,
		classifier,
		effects,
		clock,
		cfg.OCPP,
		logger,
	)
	stationService.SetRecovery(transactionService)

	// OCPP transports.
	handlers := v16.NewHandlers(stationService, transactionService, logger)
	jsonServer := v16.NewServer(handlers, cfg.OCPP, logger)
	cmdRouter.SetJSON(jsonServer)
	soapServer := v15.NewServer(stationService, transactionService, cfg.OCPP, logger)

	go func() {
		if err := jsonServer.Start(); err != nil {
			logger.Fatal("OCPP 1.6 server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := soapServer.Start(); err != nil {
			logger.Fatal("OCPP 1.5 server failed", zap.Error(err))
		}
	}()

	// Operational HTTP surface: health and metrics.
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/health/ready", func(c *fiber.Ctx) error {
		if err := sqlDB.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("database not ready")
		}
		if err := redisCache.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("cache not ready")
		}
		return c.SendString("Ready")
	})
	if cfg.Metrics.Enabled {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		app.Get(cfg.Metrics.Path, func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	go func() {
		logger.Info("starting HTTP server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := jsonServer.Stop(ctx); err != nil {
		logger.Error("OCPP 1.6 shutdown failed", zap.Error(err))
	}
	if err := soapServer.Stop(ctx); err != nil {
		logger.Error("OCPP 1.5 shutdown failed", zap.Error(err))
	}
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := pool.Shutdown(ctx); err != nil {
		logger.Error("scheduler shutdown failed", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
