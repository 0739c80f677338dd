package main

import (
	"context"
	"errors"
	"os"
	"time"

	"fleetcost/internal/amqp"
	"fleetcost/internal/backend"
	"fleetcost/internal/cli"
	"fleetcost/internal/config"
	"fleetcost/internal/log"
	"fleetcost/internal/repository"
	"fleetcost/internal/services"
	"fleetcost/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	logger.Info("Starting fleetcost-worker")

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
	if cfg.DataBackend == "memory" {
		logger.Warn("Worker runs on a private in-memory store and will not see API data")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
		[]string{amqp.EventTripFinished}, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		_ = result.Cleanup()
		os.Exit(1)
	}

	repos := repository.New(result.Store, nil)
	deps := services.Deps{Logger: logger}
	reports := services.NewReportService(repos, services.NewTripManager(repos, deps), time.Local, deps)
	settlement := worker.NewSettlementWorker(reports, amqpClient, logger)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := settlement.Stop(ctx); err != nil {
			logger.Warn("Settlement worker stop error", log.FieldError, err)
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err)
		}
	})

	if err := settlement.Start(ctx); err != nil {
		logger.Error("Failed to start settlement worker", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Settlement worker running",
		"queue", cfg.AMQPQueue,
		log.FieldRoutingKey, amqp.EventTripFinished)

	select {
	case <-settlement.Done():
		if err := settlement.Err(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Settlement worker stopped", log.FieldError, err)
			_ = amqpClient.Close()
			_ = result.Cleanup()
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
