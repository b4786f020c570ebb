// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/soothill/battery-history-logger/app"
	"github.com/soothill/battery-history-logger/config"
	"github.com/soothill/battery-history-logger/export"
	"github.com/soothill/battery-history-logger/history"
	"github.com/soothill/battery-history-logger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	dump := flag.Bool("dump", false, "Print recorded history in human-readable form and exit")
	checkin := flag.Bool("checkin", false, "Print recorded history in compact check-in form and exit")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	if *dump || *checkin {
		os.Exit(printHistory(*configPath, *checkin))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)

	logger.Info().Msg("Starting Battery History Logger")
	logger.Info().Str("directory", cfg.History.Directory).
		Int("max_files", cfg.History.MaxFiles).
		Dur("poll_interval", cfg.Sampler.PollInterval).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *metricsPort, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	application.Run()
}

// printHistory replays the persisted history and prints each record,
// then returns the process exit code
func printHistory(configPath string, checkin bool) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	store, err := history.New(history.Config{
		Dir:            cfg.History.Directory,
		MaxFiles:       cfg.History.MaxFiles,
		MaxBufferBytes: cfg.History.MaxBufferBytes,
	}, nil, history.NewMonotonicClock())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history store: %v\n", err)
		return 1
	}

	it := store.Iterate()
	var item history.HistoryItem
	for it.Next(&item) {
		fmt.Println(history.Format(&item, checkin))
	}

	return 0
}

// performHealthCheck checks the export backend and returns the exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	if !cfg.InfluxDB.Enabled {
		fmt.Println("Health check passed: InfluxDB export disabled")
		return 0
	}

	exporter, err := export.NewInfluxDBExporter(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.Bucket,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not create InfluxDB client: %v\n", err)
		return 1
	}
	defer exporter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := exporter.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: InfluxDB is unhealthy: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: InfluxDB is healthy")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Println("\n✅ Configuration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  History Directory: %s\n", cfg.History.Directory)
	fmt.Printf("  History Max Files: %d\n", cfg.History.MaxFiles)
	fmt.Printf("  History Max Buffer Bytes: %d\n", cfg.History.MaxBufferBytes)
	fmt.Printf("  Poll Interval: %s\n", cfg.Sampler.PollInterval)
	fmt.Printf("  Energy Interval: %s\n", cfg.Sampler.EnergyInterval)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)

	if cfg.InfluxDB.Enabled {
		fmt.Println("  InfluxDB Export: Enabled")
		fmt.Printf("  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
		fmt.Printf("  InfluxDB Organization: %s\n", cfg.InfluxDB.Organization)
		fmt.Printf("  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
	} else {
		fmt.Println("  InfluxDB Export: Disabled")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
