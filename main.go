package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticklet-push-gateway/config"
	"ticklet-push-gateway/internal/admission"
	"ticklet-push-gateway/internal/auth"
	"ticklet-push-gateway/internal/circuit"
	"ticklet-push-gateway/internal/dispatch"
	"ticklet-push-gateway/internal/events"
	"ticklet-push-gateway/internal/gateway"
	"ticklet-push-gateway/internal/idempotency"
	"ticklet-push-gateway/internal/logging"
	"ticklet-push-gateway/internal/metrics"
	"ticklet-push-gateway/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LoggingConfig.Level,
		Console: cfg.LoggingConfig.Console,
	})

	// Optionally pull secrets from Vault; env values win.
	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create vault client")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		creds, err := vaultClient.Load(ctx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load credentials from vault")
		}
		creds.Apply(cfg)
		logger.Info().Msg("credentials loaded from vault")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Shared singletons, constructed once and injected.
	eventBus := events.NewEventBus()

	breaker := circuit.NewBreaker(&circuit.BreakerConfig{
		FailureThreshold: cfg.BreakerConfig.FailureThreshold,
		MinCalls:         cfg.BreakerConfig.MinCalls,
		Cooldown:         time.Duration(cfg.BreakerConfig.CooldownSeconds) * time.Second,
	})
	breaker.OnTrip(func(reason string) {
		metrics.CircuitBreakerState.Set(circuit.StateOpen.GaugeValue())
		eventBus.PublishBreakerTripped(reason)
		logger.Warn().Str("reason", reason).Msg("circuit breaker opened")
	})
	breaker.OnReset(func() {
		metrics.CircuitBreakerState.Set(circuit.StateClosed.GaugeValue())
		eventBus.PublishBreakerRecovered()
		logger.Info().Msg("circuit breaker closed")
	})

	bucket := admission.NewTokenBucket(cfg.LimiterConfig.Capacity, cfg.LimiterConfig.RefillRate)

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open idempotency store")
	}
	defer store.Close()

	sweeper, err := idempotency.StartSweeper(cfg.StorageConfig.SweepCron, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule idempotency sweeper")
	}

	telegramClient := dispatch.NewTelegramClient(
		cfg.TelegramConfig.BotToken,
		cfg.TelegramConfig.BaseURL,
		cfg.DispatchConfig.DispatchTimeout(),
	)
	dispatcher := dispatch.NewDispatcher(telegramClient, cfg.DispatchConfig.Concurrency, dispatch.RetryConfig{
		Attempts:  cfg.DispatchConfig.RetryAttempts,
		BaseDelay: time.Duration(cfg.DispatchConfig.RetryBaseDelay * float64(time.Second)),
		Jitter:    cfg.DispatchConfig.RetryJitter,
	}, logger)

	verifier := auth.NewVerifier(
		cfg.AuthConfig.SharedSecret,
		time.Duration(cfg.AuthConfig.MaxSkewSeconds)*time.Second,
	)

	server := gateway.NewServer(cfg.ServerConfig, gateway.Deps{
		Verifier:   verifier,
		Store:      store,
		Bucket:     bucket,
		Breaker:    breaker,
		Dispatcher: dispatcher,
		Bus:        eventBus,
		Channels:   cfg.TelegramConfig.Channels,
		Ready:      cfg.Ready,
		Log:        logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	if sweeper != nil {
		sweeper.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("shutdown complete")
}

func openStore(cfg *config.Config) (idempotency.Store, error) {
	ttl := cfg.StorageConfig.IdempotencyTTL()
	switch cfg.StorageConfig.Backend {
	case "redis":
		return idempotency.NewRedisStore(idempotency.RedisOptions{
			Address:  cfg.StorageConfig.Redis.Address,
			Password: cfg.StorageConfig.Redis.Password,
			DB:       cfg.StorageConfig.Redis.DB,
			PoolSize: cfg.StorageConfig.Redis.PoolSize,
		}, ttl)
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return idempotency.NewPostgresStore(ctx, cfg.StorageConfig.PostgresDSN, ttl)
	default:
		return idempotency.NewSQLiteStore(cfg.StorageConfig.SQLitePath, ttl)
	}
}
