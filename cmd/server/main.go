package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tasvid/internal/auth"
	"tasvid/internal/batch"
	"tasvid/internal/circuitbreaker"
	"tasvid/internal/config"
	"tasvid/internal/database"
	"tasvid/internal/download"
	"tasvid/internal/edit"
	"tasvid/internal/events"
	"tasvid/internal/handlers"
	"tasvid/internal/media"
	"tasvid/internal/metrics"
	"tasvid/internal/schedule"
	"tasvid/internal/server"
	"tasvid/internal/storage"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to config file (overrides CONFIG_FILE env var)")
	flag.Parse()

	// Load environment variables from file
	loadEnvFile(*configFile)

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to init logger:", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	m := metrics.New()
	m.StartRuntimeMetricsCollector(ctx.Done())

	// Initialize history store
	history, err := database.New(ctx, cfg, m)
	if err != nil {
		logger.Fatal("failed to initialize history store", zap.Error(err))
	}
	defer history.Close()
	logger.Info("initialized history store", zap.String("engine", cfg.HistoryEngine))

	// Initialize media clients. Per-URL failures do not trip the fetch breaker.
	identities := media.NewRotatingIdentity(cfg.UserAgents, cfg.Proxies)
	ytdlp := media.NewYTDLP(cfg.YTDLPPath, identities, logger)
	fetchBreaker := circuitbreaker.New("fetch", cfg, m, circuitbreaker.WithSuccessFilter(func(err error) bool {
		return !media.CountsAgainstBreaker(err)
	}))
	fetch := media.NewGuarded(ytdlp, fetchBreaker)
	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, logger, m)
	logger.Info("initialized media clients",
		zap.String("ytdlp", cfg.YTDLPPath),
		zap.String("ffmpeg", cfg.FFmpegPath),
		zap.Int("user_agents", len(cfg.UserAgents)),
		zap.Int("proxies", len(cfg.Proxies)))

	// Initialize upload storage, if configured
	var uploads storage.Provider
	if cfg.StorageType != "" {
		storageBreaker := circuitbreaker.New("storage", cfg, m)
		uploads, err = storage.New(ctx, cfg, m, storageBreaker)
		if err != nil {
			logger.Fatal("failed to initialize storage provider", zap.Error(err))
		}
		logger.Info("initialized storage provider", zap.String("type", cfg.StorageType))
	}

	hub := events.NewHub(logger, m)

	// Core download pipeline
	orchestrator := download.New(cfg, fetch, ffmpeg, identities, history, logger, m)
	orchestrator.Subscribe(hub.PublishDownload)
	go orchestrator.Run(ctx)

	batches := batch.New(cfg, orchestrator, fetch, logger, m)
	batches.Subscribe(hub.PublishBatch)

	scheduler, err := schedule.New(cfg, orchestrator, logger, m)
	if err != nil {
		logger.Fatal("failed to load scheduled downloads", zap.Error(err))
	}
	go scheduler.Run(ctx)

	editor, err := edit.New(cfg.DownloadDir, ffmpeg, fetch, history, uploads, logger)
	if err != nil {
		logger.Fatal("failed to initialize edit service", zap.Error(err))
	}

	signer := auth.NewSigner(cfg.SigningSecret, cfg.EnforceSigning, cfg.LinkTTL, m)

	api := handlers.NewHandler(logger, orchestrator, batches, scheduler, history, editor, signer)
	healthHandler := handlers.NewHealthHandler(logger, history, uploads, ytdlp, m)

	srv := server.New(logger, cfg, m, api, healthHandler, hub)
	srv.OnShutdown(func(context.Context) error {
		cancel()
		return nil
	})
	srv.OnShutdown(batches.Shutdown)
	srv.OnShutdown(orchestrator.Shutdown)
	srv.OnShutdown(func(context.Context) error {
		hub.Close()
		return nil
	})

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Wait for shutdown signal
	if err := srv.WaitForShutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// loadEnvFile loads environment variables from a file
// Priority: --config flag > CONFIG_FILE env var > .env file
// Silently continues if file doesn't exist (falls back to OS env vars)
func loadEnvFile(flagConfigFile string) {
	configFile := flagConfigFile
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	if configFile != "" {
		// User specified a file - fail if it doesn't exist
		if err := godotenv.Load(configFile); err != nil {
			log.Fatalf("failed to load config file %s: %v", configFile, err)
		}
		log.Printf("loaded config from: %s", configFile)
		return
	}

	if err := godotenv.Load(); err == nil {
		log.Println("loaded config from: .env")
	}
}
