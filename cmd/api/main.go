package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/api"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/awsclient"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/db"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/imaging"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/ingest"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/monitor"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/queue"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/report"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/scheduler"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/storage"

	"golang.org/x/crypto/acme/autocert"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, "api")
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting API server")

	if report.UseRollbar(cfg.Reporting.RollbarToken, cfg.Reporting.Environment, "github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI") {
		defer report.Flush()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := awsclient.NewSession(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create AWS session")
	}

	// Initialize metadata store
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

	mon := monitor.New(repo, jobs, cfg.Ingestion.CallTimeout())

	// Polls go to the monitor worker through Redis unless configured to run here
	var pollQueue scheduler.Queue
	if cfg.Ingestion.Scheduler == "redis" {
		redisClient, err := queue.NewRedisClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		pollQueue = queue.NewProducer(redisClient, cfg)
	}
	sched := scheduler.New(ctx, mon, scheduler.PolicyFromConfig(cfg.Ingestion), pollQueue)

	// In-process polling does not survive a restart; pick up where it left off
	if pollQueue == nil {
		if _, err := sched.Sweep(ctx, repo); err != nil {
			log.Error().Err(err).Msg("Failed to resume importing studies")
		}
	}

	svc := ingest.NewService(cfg.Ingestion, repo, store, jobs, sched)

	// Initialize API handler
	handler := api.NewHandler(svc, mon, repo, cfg)
	router := api.NewRouter(handler, cfg.App.Env)

	// Create HTTP server
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var ln net.Listener
	if cfg.Server.Domain != "" {
		ln = autocert.NewListener(cfg.Server.Domain)
	} else if ln, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatal().Err(err).Int("port", cfg.Server.Port).Msg("Failed to listen")
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("domain", cfg.Server.Domain).Msg("Starting HTTP server")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// In-process polling loops stop here and resume at the next start.
	cancel()
	sched.Wait()

	log.Info().Msg("Server exited")
}
