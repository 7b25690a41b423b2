package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nazanin-ai/nazanin/common/version"
	"github.com/nazanin-ai/nazanin/internal/nazanin/app"
	"github.com/nazanin-ai/nazanin/internal/nazanin/config"
	"github.com/nazanin-ai/nazanin/internal/nazanin/observability"
)

func main() {
	fmt.Printf("Nazanin Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.Setup(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	nazanin, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Nazanin: %v\n", err)
		os.Exit(1)
	}
	defer nazanin.Stop()

	stats, err := nazanin.Bootstrap(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bootstrap failed: %v\n", err)
		os.Exit(2)
	}
	for _, berr := range stats.Errors {
		slog.Error("bootstrap error", "error", berr)
	}
	if len(stats.Errors) > 0 && cfg.Backend.FatalOnBootstrapError {
		fmt.Fprintf(os.Stderr, "Bootstrap reported %d errors and fatal_on_bootstrap_error is set\n", len(stats.Errors))
		os.Exit(2)
	}

	if err := nazanin.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Nazanin: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("NAZANIN_CONFIG"); path != "" {
		return path
	}
	return "./nazanin.yaml"
}
