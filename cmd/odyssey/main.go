package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-logistics/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-logistics/internal/app"
	"github.com/odyssey-erp/odyssey-logistics/internal/audit"
	"github.com/odyssey-erp/odyssey-logistics/internal/battery"
	"github.com/odyssey-erp/odyssey-logistics/internal/damage"
	"github.com/odyssey-erp/odyssey-logistics/internal/dashboard"
	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/filestore"
	"github.com/odyssey-erp/odyssey-logistics/internal/framebundle"
	"github.com/odyssey-erp/odyssey-logistics/internal/integration"
	"github.com/odyssey-erp/odyssey-logistics/internal/inventory"
	"github.com/odyssey-erp/odyssey-logistics/internal/loadplan"
	"github.com/odyssey-erp/odyssey-logistics/internal/loadreceipt"
	"github.com/odyssey-erp/odyssey-logistics/internal/notify"
	"github.com/odyssey-erp/odyssey-logistics/internal/observability"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/db"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-logistics/internal/procurement"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
	"github.com/odyssey-erp/odyssey-logistics/internal/uploads"
	"github.com/odyssey-erp/odyssey-logistics/jobs"
	"github.com/odyssey-erp/odyssey-logistics/report"
)

func main() {
	command, err := app.ResolveCommand(os.Args[1:])
	if err != nil {
		slog.Default().Error("resolve command", slog.Any("error", err))
		os.Exit(2)
	}
	if command.Name == app.CommandSkip {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if command.Name == app.CommandJobs {
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer func() { _ = jobsCLI.Close() }()
		if err := jobsCLI.Run(ctx, command.Args, os.Stdout); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLife})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	caps, err := inventory.ResolveCapabilities(ctx, dbpool)
	if err != nil {
		logger.Error("resolve inventory schema", slog.Any("error", err))
		os.Exit(1)
	}

	files, closeFiles, err := openFileStore(ctx, cfg)
	if err != nil {
		logger.Error("open file store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeFiles.Close() }()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := notify.NewNotifier(jobClient, cfg.NotifyRecipients, logger)

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	dashboardCache := cache.NewVersioned(redisClient, "logistics:dashboard", cfg.DashboardCacheTTL)
	locker := lock.New(redisClient, cfg.UploadLockTTL)

	batteryService := battery.NewService(battery.NewRepository(dbpool), auditLogger, dashboardCache, logger, battery.Config{ExpiryDays: cfg.BatteryExpiryDays})
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool, caps), auditLogger, logger)
	planService := loadplan.NewService(loadplan.NewRepository(dbpool), auditLogger, dashboardCache, logger)
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), inventoryService, auditLogger, idempotencyStore, logger)
	dispatchService := dispatch.NewService(dispatch.Deps{
		Repo:        dispatch.NewRepository(dbpool),
		Plans:       planService,
		Procurement: procurementService,
		Inventory:   inventoryService,
		Audit:       auditLogger,
		Notifier:    notifier,
		Locker:      locker,
		Idempotency: idempotencyStore,
		Cache:       dashboardCache,
		Logger:      logger,
	}, dispatch.Config{DefaultWarehouse: cfg.DefaultWarehouse, DefaultSupplier: cfg.DefaultSupplier})
	receiptService := loadreceipt.NewService(loadreceipt.NewRepository(dbpool), dispatchService, auditLogger, dashboardCache, logger)
	damageService := damage.NewService(damage.NewRepository(dbpool), receiptService, dispatchService, inventoryService, auditLogger, logger)
	bundleService := framebundle.NewService(framebundle.NewRepository(dbpool), auditLogger, notifier, dashboardCache, logger)
	procurementService.SetIntegrationHandler(integration.NewHooks(dispatchService, receiptService, notifier, dashboardCache, logger))

	uploadService := uploads.NewService(uploads.Deps{
		Repo:        uploads.NewRepository(dbpool),
		Files:       files,
		Batteries:   batteryService,
		Bundles:     bundleService,
		Inventory:   inventoryService,
		Plans:       planService,
		Dispatches:  dispatchService,
		Locker:      locker,
		Idempotency: idempotencyStore,
		Metrics:     metrics,
		Audit:       auditLogger,
		Cache:       dashboardCache,
		Logger:      logger,
	})
	dashboardService := dashboard.NewService(dashboard.NewRepository(dbpool), dashboardCache, logger)
	dashboardHandler := dashboard.NewHandler(logger, dashboardService)
	if pdf := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout); pdf != nil {
		if err := pdf.Ping(ctx); err != nil {
			logger.Warn("gotenberg unreachable", slog.String("url", cfg.GotenbergURL), slog.Any("error", err))
		}
		dashboardHandler.WithPDF(pdf)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:   logger,
		Config:   cfg,
		Metrics:  metrics,
		Database: dbpool,
		API: []app.Mounter{
			battery.NewHandler(logger, batteryService),
			loadplan.NewHandler(logger, planService),
			procurement.NewHandler(logger, procurementService),
			dispatch.NewHandler(logger, dispatchService),
			inventory.NewHandler(logger, inventoryService),
			loadreceipt.NewHandler(logger, receiptService),
			damage.NewHandler(logger, damageService),
			framebundle.NewHandler(logger, bundleService),
			uploads.NewHandler(logger, uploadService).WithRateLimit(cfg.UploadRateLimit),
			dashboardHandler,
			audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		},
		JobHandler: jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openFileStore(ctx context.Context, cfg *app.Config) (filestore.Store, io.Closer, error) {
	if cfg.FilestoreDriver == "gcs" {
		store, err := filestore.NewGCS(ctx, cfg.GCSBucket, cfg.GCSCredentials)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	store, err := filestore.NewLocal(cfg.FilestoreDir)
	if err != nil {
		return nil, nil, err
	}
	return store, nopCloser{}, nil
}
