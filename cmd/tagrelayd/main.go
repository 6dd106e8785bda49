package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/tagrelay/tagrelay/internal/config"
	"github.com/tagrelay/tagrelay/internal/delivery"
	"github.com/tagrelay/tagrelay/internal/handler"
	"github.com/tagrelay/tagrelay/internal/identity"
	"github.com/tagrelay/tagrelay/internal/infra/sqlite"
	"github.com/tagrelay/tagrelay/internal/infra/sqlite/migrations"
	"github.com/tagrelay/tagrelay/internal/observability"
	"github.com/tagrelay/tagrelay/internal/reader"
	"github.com/tagrelay/tagrelay/internal/repository"
	"github.com/tagrelay/tagrelay/internal/service"
	"github.com/tagrelay/tagrelay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// openTagSource opens the reader FIFO without wedging shutdown: opening a
// FIFO blocks until a writer appears, so the open runs in its own goroutine
// and cancellation wins the race. A late open after cancellation is closed
// by the drainer goroutine.
func openTagSource(ctx context.Context, path string) (*os.File, error) {
	type openResult struct {
		file *os.File
		err  error
	}

	results := make(chan openResult, 1)
	go func() {
		file, err := os.Open(path)
		results <- openResult{file: file, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-results; r.err == nil {
				_ = r.file.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-results:
		return r.file, r.err
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID, err = identity.DeviceID(cfg.DeviceIDPath)
		if err != nil {
			logger.Fatal("device identity bootstrap failed", zap.Error(err))
		}
	}
	logger = observability.WithDevice(logger, deviceID)

	db, err := sqlite.NewSQLite(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("sqlite initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("sqlite underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	metrics := observability.NewMetrics()

	eventRepo := repository.NewGormEventRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	client, err := delivery.NewWebhookClient(cfg.WebhookURL, cfg.APIKey, cfg.AttemptTimeout())
	if err != nil {
		logger.Fatal("webhook client initialization failed", zap.Error(err))
	}

	ingestor, err := service.NewIngestor(eventRepo, deviceID, logger)
	if err != nil {
		logger.Fatal("ingestor initialization failed", zap.Error(err))
	}
	ingestor.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(eventRepo, attemptRepo, client, service.SchedulerConfig{
		ScanInterval: cfg.ScanInterval(),
		BatchLimit:   cfg.BatchLimit,
		RetryHorizon: cfg.RetryHorizon(),
		BackoffBase:  cfg.BackoffBase(),
		BackoffMax:   cfg.BackoffMax(),
	}, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	maintenance, err := service.NewMaintenance(eventRepo, logger)
	if err != nil {
		logger.Fatal("maintenance service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app, sqlDB)
	if err := handler.RegisterAdminRoutes(app, maintenance); err != nil {
		logger.Fatal("admin route registration failed", zap.Error(err))
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return scheduler.Start(groupCtx)
	})

	group.Go(func() error {
		source, err := openTagSource(groupCtx, cfg.ReaderPath)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to open tag source %s: %w", cfg.ReaderPath, err)
		}
		defer source.Close()

		tags, err := reader.NewLineReader(source)
		if err != nil {
			return err
		}
		err = reader.Loop(groupCtx, tags, ingestor, cfg.ReadInterval(), logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		logger.Info("admin api listening", zap.Int("port", cfg.AdminPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.AdminPort)); err != nil {
			return fmt.Errorf("admin api failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("tagrelayd started",
		zap.String("database", cfg.DatabasePath),
		zap.String("webhook", cfg.WebhookURL),
	)

	if err := group.Wait(); err != nil {
		logger.Fatal("tagrelayd terminated", zap.Error(err))
	}
	logger.Info("tagrelayd stopped")
}
