package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/api"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/awsclient"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/db"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/imaging"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/monitor"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/queue"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/report"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/scheduler"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/storage"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, "monitor-worker")
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting monitor worker")

	if cfg.Ingestion.Scheduler != "redis" {
		log.Fatal().Str("scheduler", cfg.Ingestion.Scheduler).Msg("Monitor worker requires ingestion.scheduler redis")
	}

	if report.UseRollbar(cfg.Reporting.RollbarToken, cfg.Reporting.Environment, "github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI") {
		defer report.Flush()
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := awsclient.NewSession(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create AWS session")
	}

	repo, closeRepo, err := db.Open(ctx, cfg, sess)
	if err != nil {
		log.Fatal().Err(err).Str("metadata_store", cfg.MetadataStore).Msg("Failed to open metadata store")
	}
	defer closeRepo()

	store, closeStore, err := storage.New(ctx, cfg, sess)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Storage.Provider).Msg("Failed to create object store")
	}
	defer closeStore()

	jobs, err := imaging.New(ctx, cfg, sess, store)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Imaging.Provider).Msg("Failed to create import job client")
	}

	// Initialize Redis client
	redisClient, err := queue.NewRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	producer := queue.NewProducer(redisClient, cfg)
	consumer := queue.NewConsumer(redisClient, cfg)

	mon := monitor.New(repo, jobs, cfg.Ingestion.CallTimeout())
	sched := scheduler.New(ctx, mon, scheduler.PolicyFromConfig(cfg.Ingestion), producer)

	monitorWorker := worker.NewMonitorWorker(cfg, consumer, producer, sched)

	go func() {
		if err := api.ListenAndServeDebug(cfg.Server.DebugPort); err != nil {
			log.Error().Err(err).Int("port", cfg.Server.DebugPort).Msg("Debug server stopped")
		}
	}()

	// Re-arm IMPORTING studies whose poll chain was lost
	go sched.RunSweeps(ctx, repo, cfg.Workers.Monitor.SweepInterval)

	// Start worker
	go func() {
		if err := monitorWorker.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Monitor worker failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down monitor worker...")

	// Cancel context to stop worker
	cancel()
	monitorWorker.Stop()

	log.Info().Msg("Monitor worker exited")
}
