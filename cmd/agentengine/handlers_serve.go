package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/agentengine/internal/config"
	"github.com/haasonsaas/agentengine/internal/engine"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/storage"
	"github.com/haasonsaas/agentengine/internal/tools"
)

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		level := slog.LevelDebug
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stores, err := buildStoreSet(cfg.Database)
	if err != nil {
		return fmt.Errorf("build store set: %w", err)
	}
	defer stores.Close()

	llmClient, err := buildLLMClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("build LLM client: %w", err)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry); err != nil {
		return fmt.Errorf("register default tools: %w", err)
	}

	eng, err := engine.New(cfg, stores, llmClient, registry)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	defer eng.Close(context.Background())

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	stopBackground := eng.StartBackground(ctx, cfg.RateLimiter.SyncInterval, cfg.Audit.SweepInterval)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := newHTTPServer(addr, eng, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := stopBackground(shutdownCtx); err != nil {
		slog.Error("background sweeper shutdown error", "error", err)
	}

	return nil
}

// buildStoreSet dispatches on cfg.Driver to construct the StoreSet
// backing policy/billing/cache/audit/rate-limit persistence, per the
// three supported backends named in SPEC_FULL.md §3.
func buildStoreSet(cfg config.DatabaseConfig) (storage.StoreSet, error) {
	switch cfg.Driver {
	case "", "memory":
		return storage.NewMemoryStores(), nil
	case "sqlite":
		return storage.NewSQLiteStoresFromPath(cfg.DSN)
	case "postgres":
		return storage.NewCockroachStoresFromDSN(cfg.DSN, &storage.CockroachConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
		})
	default:
		return storage.StoreSet{}, fmt.Errorf("unsupported database driver %q (want \"memory\", \"sqlite\", or \"postgres\")", cfg.Driver)
	}
}

// buildLLMClient dispatches on cfg.Provider to construct the raw LLM
// client that engine.New then wraps in its own resilient retry layer.
func buildLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "", "mock":
		return llm.NewMockClient(), nil
	case "anthropic":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider requires an api_key (or ANTHROPIC_API_KEY)")
		}
		return llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: apiKey, DefaultModel: cfg.Model}), nil
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an api_key (or OPENAI_API_KEY)")
		}
		return llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: apiKey, DefaultModel: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q (want \"mock\", \"anthropic\", or \"openai\")", cfg.Provider)
	}
}
