package main

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentengine/internal/config"
	"github.com/haasonsaas/agentengine/internal/storage"
)

func runMigrateUp(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Database.Driver == "memory" || cfg.Database.Driver == "" {
		fmt.Println("database driver is \"memory\" — nothing to migrate")
		return nil
	}

	applied, err := storage.Migrate(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Printf("applied %d migration statement(s) against %s\n", applied, cfg.Database.Driver)
	return nil
}

func runMigrateStatus(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Printf("driver: %s\n", cfg.Database.Driver)
	if cfg.Database.Driver == "memory" || cfg.Database.Driver == "" {
		fmt.Println("status: in-memory store, no schema to apply")
		return nil
	}

	stores, err := buildStoreSet(cfg.Database)
	if err != nil {
		fmt.Printf("status: unreachable (%v)\n", err)
		return nil
	}
	defer stores.Close()
	fmt.Println("status: reachable")
	return nil
}
