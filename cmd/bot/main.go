package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/handlers"
	"github.com/wa-ai-bot-go/internal/i18n"
	"github.com/wa-ai-bot-go/internal/matcher"
	"github.com/wa-ai-bot-go/internal/memory"
	"github.com/wa-ai-bot-go/internal/middleware"
	"github.com/wa-ai-bot-go/internal/services/ai"
	"github.com/wa-ai-bot-go/internal/services/search"
	"github.com/wa-ai-bot-go/internal/services/storage"
	"github.com/wa-ai-bot-go/internal/transport"
	"github.com/wa-ai-bot-go/internal/transport/whatsapp"
	"github.com/wa-ai-bot-go/internal/webhook"
	"github.com/wa-ai-bot-go/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting WhatsApp Bot...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize AI services
	aiClient := ai.NewClient(cfg.OpenAI, metrics, log)
	moderationService := ai.NewModerationService(aiClient, cfg.Moderation, log)
	imageService := ai.NewImageService(aiClient, cfg.ImageQuota, log)

	// Initialize search
	var searchService search.Service
	if cfg.Search.Enabled {
		searchService = search.NewHTTPSearch(cfg.Search, log)
	}

	// Load rule tables
	predefined, err := matcher.LoadFile(cfg.Rules.PredefinedFile, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load predefined rules")
	}
	general, err := matcher.LoadFile(cfg.Rules.GeneralFile, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load general rules")
	}
	log.WithFields(logrus.Fields{
		"predefined": predefined.Len(),
		"general":    general.Len(),
	}).Info("Rule tables loaded")

	// Initialize rate limiter and security middleware
	rateLimiter := middleware.NewCooldownLimiter(cfg.Limits.Cooldown, log)
	security := middleware.NewSecurityMiddleware(cfg.Limits.MaxMessageLength, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize command router
	commandRouter := handlers.NewCommandRouter(
		cfg,
		storageManager,
		aiClient,
		moderationService,
		imageService,
		searchService,
		localizer,
		metrics,
		log,
	)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Webhook.Enabled {
		// Webhook mode: inbound messages arrive over HTTP and replies go
		// to the log only, useful for integration environments.
		messageHandler := handlers.NewMessageHandler(
			cfg,
			predefined,
			general,
			memory.NewEngine(),
			security,
			rateLimiter,
			moderationService,
			aiClient,
			storageManager,
			transport.NewLogSender(log),
			commandRouter,
			localizer,
			metrics,
			log,
		)

		server := webhook.NewServer(cfg.Webhook.Port, cfg.Webhook.VerifyToken, messageHandler, log)
		go func() {
			log.WithField("port", cfg.Webhook.Port).Info("Starting webhook server")
			if err := server.ListenAndServe(); err != nil {
				log.WithError(err).Error("Webhook server stopped")
			}
		}()

		<-sigChan
		log.Info("Shutdown signal received")
		server.Close()
	} else {
		// Live session mode
		waClient, err := whatsapp.NewClient(cfg.Bot.DeviceStorePath, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize WhatsApp client")
		}

		messageHandler := handlers.NewMessageHandler(
			cfg,
			predefined,
			general,
			memory.NewEngine(),
			security,
			rateLimiter,
			moderationService,
			aiClient,
			storageManager,
			waClient,
			commandRouter,
			localizer,
			metrics,
			log,
		)
		waClient.SetHandler(messageHandler)

		if err := waClient.Connect(ctx); err != nil {
			log.WithError(err).Fatal("Failed to connect to WhatsApp")
		}
		log.Info("Connected to WhatsApp")

		<-sigChan
		log.Info("Shutdown signal received")
		waClient.Disconnect()
	}

	// Cancel context to stop all goroutines
	cancel()

	// Flush pending state before exit
	if err := storageManager.Close(); err != nil {
		log.WithError(err).Error("Failed to close storage")
	}

	// Give in-flight handlers time to finish
	time.Sleep(2 * time.Second)

	log.Info("Bot stopped")
}
