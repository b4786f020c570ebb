// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the history store, sampler, and exporter into a daemon.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/soothill/battery-history-logger/config"
	"github.com/soothill/battery-history-logger/export"
	"github.com/soothill/battery-history-logger/history"
	"github.com/soothill/battery-history-logger/pkg/interfaces"
	"github.com/soothill/battery-history-logger/pkg/logger"
	"github.com/soothill/battery-history-logger/sampler"
)

const (
	signalChannelSize     = 1
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	flushTimeout          = 10 * time.Second
	flushInterval         = 30 * time.Second
)

// defaultConsumers are the simulated energy consumers tracked by the daemon.
var defaultConsumers = []history.EnergyConsumer{
	{Type: 1, Ordinal: 0, Name: "cpu"},
	{Type: 2, Ordinal: 0, Name: "screen"},
	{Type: 3, Ordinal: 0, Name: "wifi"},
	{Type: 3, Ordinal: 1, Name: "bt"},
}

// App represents the main application
type App struct {
	cfg           *config.Config
	metricsPort   string
	server        *http.Server
	store         *history.Store
	batterySource *sampler.SimulatedSource
	batterySamp   *sampler.Sampler
	exporter      interfaces.TimeSeriesExporter
	clock         history.Clock
	steps         *stepTracker
	configWatcher *config.Watcher
	configChan    chan *config.Config
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a new application instance
func New(cfg *config.Config, metricsPort string, configPath string) (*App, error) {
	app := &App{
		cfg:         cfg,
		metricsPort: metricsPort,
		clock:       history.NewMonotonicClock(),
		steps:       newStepTracker(),
	}

	var err error
	app.store, err = history.New(history.Config{
		Dir:            cfg.History.Directory,
		MaxFiles:       cfg.History.MaxFiles,
		MaxBufferBytes: cfg.History.MaxBufferBytes,
	}, app.steps.collect, app.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	app.batterySource = sampler.NewSimulatedSource(defaultConsumers)
	app.batterySamp = sampler.New(
		app.batterySource,
		cfg.Sampler.PollInterval,
		cfg.Sampler.EnergyInterval,
		cfg.Sampler.ReadingsChannelSize,
	)

	if cfg.InfluxDB.Enabled {
		app.exporter, err = export.NewInfluxDBExporter(
			cfg.InfluxDB.URL,
			cfg.InfluxDB.Token,
			cfg.InfluxDB.Organization,
			cfg.InfluxDB.Bucket,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize InfluxDB exporter: %w", err)
		}
	} else {
		logger.Info().Msg("InfluxDB export disabled")
	}

	app.server = app.buildServer()

	app.configChan = make(chan *config.Config, 1)
	app.configWatcher = config.NewWatcher(configPath, app.configChan)

	return app, nil
}

// Run starts the application and blocks until shutdown
func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	a.startMetricsServer()
	a.setupSignalHandler()
	a.startConfigWatcher()

	a.store.StartRecordingHistory(a.clock.ElapsedMS(), a.clock.UptimeMS(), false)
	a.batterySamp.Start(ctx)
	a.startHistoryWriter(ctx)
	a.startEnergyWriter(ctx)

	a.runMainLoop(ctx)
}

// buildServer sets up the metrics and health check HTTP server
func (a *App) buildServer() *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, a.exporter)
	}))

	return &http.Server{
		Addr:    "localhost:" + a.metricsPort,
		Handler: mux,
	}
}

// startMetricsServer starts the HTTP server for metrics and health checks
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// startHistoryWriter starts the goroutine that records battery readings
func (a *App) startHistoryWriter(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("History writer goroutine shutting down")
				return
			case reading, ok := <-a.batterySamp.Readings():
				if !ok {
					logger.Info().Msg("Readings channel closed, history writer exiting")
					return
				}
				if err := a.store.SetBatteryState(reading.Level, reading.VoltageMV, reading.Temperature, reading.States); err != nil {
					logger.Error().Err(err).Msg("Failed to record battery state")
				}
				if a.exporter != nil {
					if err := a.exporter.WriteReading(reading); err != nil {
						logger.Error().Err(err).Msg("Failed to export battery reading")
					}
				}
			}
		}
	}()
}

// startEnergyWriter starts the goroutine that records cumulative energy samples
func (a *App) startEnergyWriter(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		consumers := a.batterySamp.Consumers()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("Energy writer goroutine shutting down")
				return
			case sample, ok := <-a.batterySamp.Energy():
				if !ok {
					logger.Info().Msg("Energy channel closed, energy writer exiting")
					return
				}
				emitted, err := a.store.RecordMeasuredEnergyDetails(a.clock.ElapsedMS(), consumers, sample.ChargeUC)
				if err != nil {
					logger.Error().Err(err).Msg("Failed to record energy details")
					continue
				}
				if emitted != nil && a.exporter != nil {
					if err := a.exporter.WriteEnergyDeltas(sample.Timestamp, energyDeltas(emitted)); err != nil {
						logger.Error().Err(err).Msg("Failed to export energy deltas")
					}
				}
			}
		}
	}()
}

// energyDeltas flattens recorded energy details into exporter points
func energyDeltas(details *history.MeasuredEnergyDetails) []interfaces.EnergyDelta {
	deltas := make([]interfaces.EnergyDelta, 0, len(details.Consumers))
	for i, c := range details.Consumers {
		deltas = append(deltas, interfaces.EnergyDelta{
			Type:    c.Type,
			Ordinal: c.Ordinal,
			Name:    c.Name,
			DeltaUC: details.ChargeUC[i],
		})
	}
	return deltas
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		a.performGracefulShutdown()
	}()
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	ids := a.store.SegmentIDs()
	logger.Info().
		Ints("segments", ids).
		Str("active_file", a.store.ActiveFile()).
		Int64("used_bytes", a.store.UsedBytes()).
		Msg("History store state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// runMainLoop periodically flushes the history buffer until shutdown
func (a *App) runMainLoop(ctx context.Context) {
	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
			a.performCleanup()
			return
		case <-flushTicker.C:
			if ctx.Err() != nil {
				return
			}
			a.store.Flush()
			logger.Debug().
				Str("active_file", a.store.ActiveFile()).
				Int64("used_bytes", a.store.UsedBytes()).
				Msg("Periodic history flush")
		}
	}
}

// performGracefulShutdown handles graceful shutdown of all components
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.batterySamp.Stop()
	a.configWatcher.Stop()
	a.cancel()
}

// performCleanup flushes the history store and waits for goroutines to finish
func (a *App) performCleanup() {
	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()

	flushDone := make(chan struct{})
	go func() {
		a.store.Flush()
		close(flushDone)
	}()

	select {
	case <-flushDone:
		logger.Info().Msg("History flush completed")
	case <-flushCtx.Done():
		logger.Warn().Msg("History flush timeout - some data may be lost")
	}

	if a.exporter != nil {
		a.exporter.Close()
	}

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
}

// startConfigWatcher starts a goroutine to listen for config file reloads
func (a *App) startConfigWatcher() {
	a.configWatcher.Start(a.ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case cfg := <-a.configChan:
				a.cfg = cfg
				// Sampler intervals and store layout are fixed at startup;
				// only the log level takes effect without a restart.
				logger.Initialize(cfg.Logging.Level)
				logger.Info().Str("log_level", cfg.Logging.Level).Msg("Application configuration updated")
			}
		}
	}()
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler handles readiness check requests
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, exporter interfaces.TimeSeriesExporter) {
	if exporter == nil {
		// No export backend configured, history store alone is ready
		w.WriteHeader(http.StatusOK)
		if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	if err := exporter.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed: InfluxDB unhealthy")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: InfluxDB unhealthy")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
