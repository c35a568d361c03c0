package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/api"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/handlers"
	"github.com/twitch-ai-cohost-go/internal/i18n"
	"github.com/twitch-ai-cohost-go/internal/middleware"
	"github.com/twitch-ai-cohost-go/internal/services/ai"
	"github.com/twitch-ai-cohost-go/internal/services/enrichment"
	"github.com/twitch-ai-cohost-go/internal/services/history"
	"github.com/twitch-ai-cohost-go/internal/services/moderation"
	"github.com/twitch-ai-cohost-go/internal/services/notify"
	"github.com/twitch-ai-cohost-go/internal/services/settings"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
	"github.com/twitch-ai-cohost-go/internal/services/twitch"
	"github.com/twitch-ai-cohost-go/internal/services/usage"
	"github.com/twitch-ai-cohost-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Twitch AI co-host...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	settingsService := settings.NewService(storageManager, cfg.Bot.SecretPassphrase, log)
	if err := settingsService.Load(ctx); err != nil {
		log.WithError(err).Error("Failed to load stored settings, continuing with config file values")
	}

	session := history.NewSession(cfg.History.MaxChatHistory, cfg.History.MaxPromptHistory)

	twitchClient := twitch.NewClient(&cfg.Twitch, log)
	gate := moderation.NewGate(&cfg.Moderation, cfg.Completion.APIKey, log)
	completionClient := ai.NewClient(&cfg.Completion, log)
	assembler := enrichment.NewAssembler(storageManager, cfg.Bot.Persona, log)
	accountant := usage.NewAccountant(storageManager, &cfg.Usage, log)

	chatSender := &notify.LogChatSender{Logger: log}
	speaker := notify.NoopSpeaker{}
	discord := notify.NewDiscordNotifier(cfg.Output.Discord.WebhookURL, log)
	webhook := notify.NewResultWebhook(&cfg.Output.Webhook, log)

	rateLimiter := middleware.NewRateLimiter(cfg, log)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	metrics := middleware.NewMetrics()

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

	askHandler := handlers.NewAskHandler(
		cfg,
		session,
		assembler,
		gate,
		completionClient,
		accountant,
		twitchClient,
		chatSender,
		speaker,
		discord,
		webhook,
		rateLimiter,
		localizer,
		settingsService,
		metrics,
		log,
	)

	commandHandler := handlers.NewCommandHandler(
		cfg,
		storageManager,
		session,
		settingsService,
		accountant,
		localizer,
		log,
	)

	server := api.NewServer(askHandler, commandHandler, log)

	go func() {
		log.WithField("port", cfg.API.Port).Info("Starting API server")
		if err := server.Start(cfg.API.Port); err != nil {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	cancel()
	log.Info("Co-host stopped")
}
