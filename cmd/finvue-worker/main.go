package main

import (
	"context"
	"errors"
	"os"
	"time"

	"finvue/internal/amqp"
	"finvue/internal/cache"
	"finvue/internal/cli"
	"finvue/internal/config"
	"finvue/internal/log"
	"finvue/internal/services"
	"finvue/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(log.ComponentWorker)
	logger.Info("Starting finvue-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)
	res := cli.InitBackend(context.Background(), logger, cfg)
	sheetsClient := cli.InitSheets(context.Background(), logger, cfg)

	exporter := services.NewExporter(res.Store, res.Store, sheetsClient, logger)
	exportWorker := worker.NewExportWorker(exporter, logger)

	scheduler, err := services.NewExportScheduler(exporter, cfg.ExportSchedule, logger)
	if err != nil {
		logger.Error("Failed to create export scheduler", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	cacheManager := cache.NewManager(logger)
	cacheManager.Register("last_export", exportWorker.Cache())
	cacheManager.StartCleanup(5 * time.Minute)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := scheduler.Stop(ctx); err != nil {
			logger.Warn("Export scheduler stop error", log.FieldError, err)
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
		cacheManager.Stop()
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if err := exportWorker.StartupExport(ctx); err != nil {
		logger.Warn("Startup export failed", log.FieldOperation, log.OpStartup, log.FieldError, err)
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start export scheduler", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		logger.Info("Consuming record saved messages", "queue", cfg.AMQPQueue)
		err := amqpClient.ConsumeRecordSaved(ctx, exportWorker.HandleRecordSaved)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.NewStructuredLogger(logger).LogError(ctx, "Record saved consumer stopped", err,
				log.ComponentAMQP, log.OpExport, log.NewFields().WithBackend(res.Type.String()))
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
