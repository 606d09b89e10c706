package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"cryptop/config"
	"cryptop/internal/adapters/binanceclient"
	"cryptop/internal/adapters/console"
	"cryptop/internal/adapters/logger"
	"cryptop/internal/adapters/sqlite"
	"cryptop/internal/app"
	"cryptop/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger. The chart owns stdout; stderr only gets warnings.
	appLogger, err := logger.New(logger.Config{
		Level:     cfg.LogLevel,
		FilePath:  cfg.LogFile,
		TermLevel: logger.LevelWarn,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "file": cfg.LogFile})

	// 3. Initialize Kline Journal (Database Adapter)
	var recorder ports.KlineRecorder = ports.NoopRecorder{}
	if cfg.DBPath != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize kline journal")
			log.Fatalf("FATAL: Failed to initialize kline journal: %v", err) // Also log to stderr
		}
		if err := repo.ReportHistory(context.Background(), cfg.Symbol, cfg.CandleInterval.String()); err != nil {
			appLogger.Warn(context.Background(), "Could not read kline journal history", map[string]interface{}{"error": err.Error()})
		}
		recorder = repo
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing kline journal")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		Market:     cfg.Market,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Renderer
	renderer := console.NewRenderer(console.Config{})

	// 6. Initialize Application Service
	chartService, err := app.NewChartService(
		cfg,
		appLogger,
		binanceClient, // Pass the concrete implementation, service expects the interface
		recorder,
		renderer,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize chart service")
		log.Fatalf("FATAL: Failed to initialize chart service: %v", err)
	}

	// 7. Start the Service
	if err := chartService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Chart service exited with error")
		log.Fatalf("FATAL: Chart service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
