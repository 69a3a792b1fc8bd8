package main

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentengine/internal/config"
)

// runDoctor loads the configuration, reports the resolved tier table
// and database/LLM wiring, and confirms the storage backend is
// reachable, without mutating anything.
func runDoctor(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Println("config: ok")
	fmt.Printf("database: driver=%s\n", cfg.Database.Driver)
	fmt.Printf("llm: provider=%s model=%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("default tier: %s\n", cfg.Tiers.DefaultTier)

	for tier, constraints := range cfg.Tiers.Tiers {
		fmt.Printf("  tier %-10s maxRecursionDepth=%-4d contextWindowLimit=%-7d maxToolCalls=%-4d rateLimit=%d/min,%d/hr\n",
			tier, constraints.MaxRecursionDepth, constraints.ContextWindowLimit, constraints.MaxToolCalls,
			constraints.RateLimit.PerMinute, constraints.RateLimit.PerHour)
	}

	if cfg.Database.Driver == "memory" || cfg.Database.Driver == "" {
		fmt.Println("storage: in-memory, always reachable")
		return nil
	}

	stores, err := buildStoreSet(cfg.Database)
	if err != nil {
		return fmt.Errorf("storage: unreachable: %w", err)
	}
	defer stores.Close()
	fmt.Println("storage: reachable")
	return nil
}
