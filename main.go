package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trade-setup-assistant/config"
	"trade-setup-assistant/internal/acquisition"
	"trade-setup-assistant/internal/ai/llm"
	"trade-setup-assistant/internal/analysis"
	"trade-setup-assistant/internal/api"
	"trade-setup-assistant/internal/cache"
	"trade-setup-assistant/internal/circuit"
	"trade-setup-assistant/internal/database"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/exchange"
	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/order"
	"trade-setup-assistant/internal/risk"
	"trade-setup-assistant/internal/strategy"
	"trade-setup-assistant/internal/usage"
	"trade-setup-assistant/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	ctx := context.Background()

	// Initialize event bus
	eventBus := events.NewEventBus()

	// Exchange client
	var exchangeClient exchange.ExchangeClient
	if cfg.ExchangeConfig.MockMode {
		exchangeClient = exchange.NewMockClient()
		logger.Warn("Running in mock mode, no orders reach the exchange")
	} else {
		exchangeClient = exchange.NewClient(exchange.Config{
			BaseURL:    cfg.ExchangeConfig.BaseURL,
			QuoteAsset: cfg.ExchangeConfig.QuoteAsset,
			RecvWindow: cfg.ExchangeConfig.RecvWindow,
			Timeout:    time.Duration(cfg.ExchangeConfig.TimeoutSeconds) * time.Second,
		})
		logger.Info("Exchange client initialized", "base_url", cfg.ExchangeConfig.BaseURL)
	}

	// Risk and order management
	riskManager := risk.NewManager(risk.Parameters{
		RiskPercentagePerTrade: cfg.RiskConfig.RiskPercentagePerTrade,
		MaxPositionSize:        cfg.RiskConfig.MaxPositionSize,
		MinRiskRewardRatio:     cfg.RiskConfig.MinRiskRewardRatio,
		MaxDailyTrades:         cfg.RiskConfig.MaxDailyTrades,
		MaxOpenPositions:       cfg.RiskConfig.MaxOpenPositions,
		UseStopLoss:            cfg.RiskConfig.UseStopLoss,
		UseTakeProfit:          cfg.RiskConfig.UseTakeProfit,
	})
	orderManager := order.NewManager(exchangeClient, riskManager)
	breaker := circuit.NewBreaker(circuit.Config{
		Enabled:                !cfg.CircuitConfig.Disabled,
		MaxConsecutiveFailures: cfg.CircuitConfig.MaxConsecutiveFailures,
		CooldownSeconds:        cfg.CircuitConfig.CooldownSeconds,
		MaxOrdersPerMinute:     cfg.CircuitConfig.MaxOrdersPerMinute,
	})
	breaker.OnTrip(func(reason string) {
		logger.Error("Order circuit breaker tripped", "reason", reason)
		eventBus.PublishError("", "circuit_breaker", reason)
	})
	orderManager.SetBreaker(breaker)

	catalog, err := strategy.LoadFile(cfg.StrategyConfig.File)
	if err != nil {
		log.Fatalf("Failed to load strategies: %v", err)
	}

	// Language model. Without one the API still serves exchange and risk
	// endpoints; session turns and analysis report the model as unavailable.
	var model llm.Model
	model, err = llm.NewModel(aiClientConfig(cfg.AIConfig))
	if err != nil {
		logger.Warn("Language model not configured", "error", err)
		model = nil
	} else {
		logger.Info("Language model initialized", "provider", cfg.AIConfig.Provider, "model", model.Name())
	}

	checks := map[string]api.HealthCheck{
		"exchange": exchangeClient.Ping,
	}

	// Usage metering: log + metrics, event bus, and PostgreSQL when enabled
	recorder := usage.Multi{usage.LogRecorder{}, usage.BusRecorder{Bus: eventBus}}

	var executions api.ExecutionStore
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(ctx, cfg.DatabaseConfig)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		repo := database.NewRepository(db)
		recorder = append(recorder, repo)
		executions = repo
		checks["database"] = repo.HealthCheck
		logger.Info("Database connected, usage metering persisted")
	}

	// Candle series cache
	var seriesStore cache.SeriesStore = cache.NewMemoryStore()
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.Warn("Redis unavailable, series kept in memory", "error", err)
		} else {
			seriesStore = cache.NewFallbackStore(cache.NewRedisStore(cacheService, cfg.RedisConfig.TTL))
			checks["redis"] = cacheService.Ping
			logger.Info("Series cache backed by Redis", "addr", cfg.RedisConfig.Address)
		}
	}

	// Credential store
	credentials, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to initialize credential store: %v", err)
	}
	if credentials.IsEnabled() {
		checks["vault"] = credentials.Health
		logger.Info("Credentials stored in Vault", "addr", cfg.VaultConfig.Address)
	}

	sessions := acquisition.NewRegistry(model, catalog, acquisition.Options{
		RetainRejectedImages: cfg.AcquisitionConfig.RetainRejected(),
		TurnTimeout:          cfg.AcquisitionConfig.TurnTimeout(),
		Usage:                recorder,
		Bus:                  eventBus,
	}, cfg.AcquisitionConfig.MaxSessions)

	dispatcher := analysis.NewDispatcher(model, recorder, eventBus,
		time.Duration(cfg.AIConfig.TimeoutSeconds)*time.Second)

	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Exchange:    exchangeClient,
		Credentials: credentials,
		Risk:        riskManager,
		Orders:      orderManager,
		Catalog:     catalog,
		Sessions:    sessions,
		Dispatcher:  dispatcher,
		Series:      seriesStore,
		Executions:  executions,
		Bus:         eventBus,
		Checks:      checks,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Web server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down web server", "error", err)
	}
	if cacheService != nil {
		cacheService.Close()
	}
	if db != nil {
		db.Close()
	}

	logger.Info("Shutdown complete")
}

func aiClientConfig(cfg config.AIConfig) *llm.ClientConfig {
	out := &llm.ClientConfig{
		Provider:    llm.Provider(cfg.Provider),
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	switch out.Provider {
	case llm.ProviderClaude:
		out.APIKey = cfg.ClaudeAPIKey
	default:
		out.APIKey = cfg.OpenAIAPIKey
		out.BaseURL = cfg.OpenAIBaseURL
	}
	return out
}
