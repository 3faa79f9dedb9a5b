package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rewired-gh/tradeguard/internal/config"
	"github.com/rewired-gh/tradeguard/internal/logger"
	"github.com/rewired-gh/tradeguard/internal/metrics"
	"github.com/rewired-gh/tradeguard/internal/monitor"
	"github.com/rewired-gh/tradeguard/internal/storage"
	"github.com/rewired-gh/tradeguard/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")
	inputs     = flag.String("input", "", "Comma-separated CSV files to analyze, overriding ingest.input_paths")
	symbol     = flag.String("symbol", "", "Symbol for inputs without a symbol column, overriding ingest.default_symbol")
)

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *inputs != "" {
		cfg.Ingest.InputPaths = strings.Split(*inputs, ",")
	}
	if *symbol != "" {
		cfg.Ingest.DefaultSymbol = *symbol
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if len(cfg.Ingest.InputPaths) == 0 {
		logger.Fatal("No inputs: set ingest.input_paths or pass -input")
	}

	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if cfg.Metrics.Enabled {
		srv := metrics.Serve(cfg.Metrics.Addr)
		defer srv.Close()
		logger.Info("Serving metrics on %s", cfg.Metrics.Addr)
	}

	var telegramClient *telegram.Client
	var notifier monitor.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.SetTopFunc(store.GetTopAnomalies)
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	mon := monitor.New(store, notifier, monitor.Config{
		Engine:    cfg.EngineSettings(),
		TopN:      cfg.Monitor.TopN,
		Persist:   cfg.Model.Persist,
		ModelName: cfg.Model.Name,
		Cooldown:  cfg.Monitor.Cooldown,
	})
	defer mon.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Surveillance cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	if cfg.Monitor.PollInterval == 0 {
		if err := mon.RunCycle(ctx, cfg.Ingest.InputPaths, cfg.Ingest.DefaultSymbol); err != nil {
			logger.Error("Surveillance cycle failed: %v", err)
			exitCode = 1
		}
		return
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	logger.Info("Starting surveillance service (interval: %v, inputs: %d, top_n: %d)",
		cfg.Monitor.PollInterval,
		len(cfg.Ingest.InputPaths),
		cfg.Monitor.TopN,
	)

	ticker := time.NewTicker(cfg.Monitor.PollInterval)
	defer ticker.Stop()

	logger.Debug("Running initial surveillance cycle")
	handleCycleResult(mon.RunCycle(ctx, cfg.Ingest.InputPaths, cfg.Ingest.DefaultSymbol))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled surveillance cycle")
			handleCycleResult(mon.RunCycle(ctx, cfg.Ingest.InputPaths, cfg.Ingest.DefaultSymbol))
		}
	}
}
