package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fleetcost/internal/amqp"
	"fleetcost/internal/backend"
	"fleetcost/internal/cli"
	"fleetcost/internal/config"
	apphttp "fleetcost/internal/http"
	"fleetcost/internal/log"
	"fleetcost/internal/repository"
	"fleetcost/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := backend.NewFactory(logger).CreateBackend(startupCtx, backendCfg)
	cancelStartup()
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	// Events are optional for the API: without a broker writes still succeed
	// and no settlement happens.
	var events services.EventPublisher = amqp.Noop{}
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, "", nil, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			_ = result.Cleanup()
			os.Exit(1)
		}
		events = amqpClient
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled, domain events are dropped")
	}

	repos := repository.New(result.Store, nil)
	deps := services.Deps{Events: events, Logger: logger}
	trips := services.NewTripManager(repos, deps)
	svc := apphttp.Services{
		Fleet:    services.NewFleetService(repos, trips, deps),
		Trips:    trips,
		Expenses: services.NewExpenseService(repos, result.Blob, trips, cfg.ImageUploadConcurrency, deps),
		Incomes:  services.NewIncomeService(repos, deps),
		Reports:  services.NewReportService(repos, trips, time.Local, deps),
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:             logger,
		Ready:              result.Store.Ping,
		FilesDir:           result.LocalBlobDir,
		CacheTTL:           cfg.CacheTTL,
		CacheSize:          cfg.CacheSize,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := result.Cleanup(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting fleetcost server",
		log.FieldPort, cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"blob_backend", cfg.BlobBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, log.FieldPort, cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
