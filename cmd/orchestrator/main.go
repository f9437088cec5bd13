// cmd/orchestrator/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"oracle-orchestrator/internal/blend"
	"oracle-orchestrator/internal/bus"
	"oracle-orchestrator/internal/common/config"
	"oracle-orchestrator/internal/common/database"
	"oracle-orchestrator/internal/common/logger"
	"oracle-orchestrator/internal/common/observability"
	"oracle-orchestrator/internal/gather"
	"oracle-orchestrator/internal/ops"
	"oracle-orchestrator/internal/orchestrator"
	"oracle-orchestrator/internal/provider"
	"oracle-orchestrator/internal/provider/adapters"
)

// resonanceThemes maps each context provider id to its theme vocabulary.
// Ids without an entry get an empty set and always score zero.
var resonanceThemes = map[string][]string{
	"fire":   {"stuck", "passion", "create", "destroy", "change", "transform", "energy", "motivation", "burn", "ignite"},
	"water":  {"feel", "emotion", "flow", "grief", "heal", "release", "tears", "intuition", "dream"},
	"earth":  {"ground", "body", "home", "stable", "practical", "build", "routine", "roots", "slow"},
	"air":    {"think", "idea", "clarity", "speak", "learn", "question", "perspective", "curious"},
	"aether": {"meaning", "purpose", "spirit", "whole", "connect", "mystery", "silence", "presence"},
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting orchestration core",
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("redis connected")

	// --- Event bus ---
	eventBus := bus.New(bus.Options{
		Processing:  bus.NewRedisProcessingStore(rdb.GetClient()),
		DeadLetters: bus.NewRedisDeadLetterStore(rdb.GetClient()),
		MaxRetries:  cfg.Bus.MaxRetries,
		BackoffBase: cfg.Bus.BackoffBase(),
		BackoffCap:  cfg.Bus.BackoffCap(),
		Logger:      log,
	})
	defer eventBus.Close()

	// --- Provider registry ---
	registry := provider.NewRegistry()
	for _, p := range cfg.Providers {
		adapter := buildAdapter(p, cfg.Synthesis)
		desc := provider.Descriptor{
			ID:        p.ID,
			Kind:      provider.Kind(p.Kind),
			Floor:     p.Floor,
			Ceiling:   p.Ceiling,
			Priority:  p.Priority,
			TimeoutMs: p.TimeoutMs,
		}
		if err := registry.Register(desc, adapter); err != nil {
			zapLog.Fatal("provider registration failed", zap.String("providerId", p.ID), zap.Error(err))
		}
	}
	zapLog.Info("providers registered", zap.Int("count", registry.Len()))

	// --- Health cache ---
	health := provider.NewHealthCache(cfg.Orchestrator.HealthCheckCooldown(), cfg.Orchestrator.HealthRefresh(), log)
	go health.Run(ctx, registry)

	// --- Coordinator ---
	gatherer := gather.New(gather.NewRedisResultCache(rdb.GetClient(), cfg.Orchestrator.LastKnownGoodTTL()), log)
	coordinator, err := orchestrator.New(orchestrator.Options{
		Registry:       registry,
		Bus:            eventBus,
		Gatherer:       gatherer,
		Blender:        blend.NewEngine(log),
		Health:         health,
		Config:         cfg.Orchestrator,
		DefaultContent: cfg.Synthesis.DefaultContent,
		Observability:  obs,
		Logger:         log,
	})
	if err != nil {
		zapLog.Fatal("coordinator construction failed", zap.Error(err))
	}

	// --- Ops server ---
	server := ops.New(cfg.Ops.ListenAddress, eventBus, coordinator, log)
	go func() {
		if err := server.Start(); err != nil {
			zapLog.Error("ops server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Warn("ops server shutdown error", zap.Error(err))
	}
}

// buildAdapter maps a configured descriptor to its adapter implementation.
func buildAdapter(p config.ProviderConfig, syn config.SynthesisConfig) provider.Adapter {
	switch {
	case p.ID == "anthropic" || p.ID == "anthropic-synthesis":
		return adapters.NewAnthropicAdapter(func(o *adapters.AnthropicOptions) {
			o.APIKey = syn.AnthropicAPIKey
			o.Model = anthropic.Model(syn.AnthropicModel)
		})
	case p.ID == "openai" || p.ID == "openai-synthesis":
		return adapters.NewOpenAIAdapter(func(o *adapters.OpenAIOptions) {
			o.APIKey = syn.OpenAIAPIKey
			o.Model = syn.OpenAIModel
		})
	case p.ID == "static" || p.Kind == string(provider.KindTerminal) && p.Priority >= 100:
		return adapters.NewStaticAdapter(syn.DefaultContent)
	default:
		return adapters.NewResonanceAdapter(p.ID, resonanceThemes[p.ID])
	}
}
