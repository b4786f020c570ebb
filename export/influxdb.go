// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package export ships battery readings to InfluxDB.
package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	apperrors "github.com/soothill/battery-history-logger/pkg/errors"
	"github.com/soothill/battery-history-logger/pkg/interfaces"
	"github.com/soothill/battery-history-logger/pkg/logger"
	"github.com/soothill/battery-history-logger/pkg/metrics"
)

const (
	writeTimeout       = 10 * time.Second
	breakerMaxRequests = 3
	breakerTimeout     = 30 * time.Second
	breakerFailures    = 5
	writesPerSecond    = 50
	writeBurst         = 100
)

// pointWriter is the subset of the InfluxDB blocking write API the
// exporter needs. It exists so tests can substitute a fake.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxDBExporter writes battery readings to InfluxDB. Writes go
// through a circuit breaker so a dead backend fails fast, and a rate
// limiter so replaying a backlog cannot flood the server.
type InfluxDBExporter struct {
	client   influxdb2.Client
	writeAPI pointWriter
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	bucket   string
	org      string
}

// NewInfluxDBExporter creates an exporter and verifies connectivity
func NewInfluxDBExporter(url, token, org, bucket string) (*InfluxDBExporter, error) {
	client := influxdb2.NewClient(url, token)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	e := newExporter(client.WriteAPIBlocking(org, bucket), org, bucket)
	e.client = client
	return e, nil
}

// newExporter wires the breaker and limiter around a point writer
func newExporter(writeAPI pointWriter, org, bucket string) *InfluxDBExporter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "influxdb-write",
		MaxRequests: breakerMaxRequests,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return &InfluxDBExporter{
		writeAPI: writeAPI,
		breaker:  breaker,
		limiter:  rate.NewLimiter(writesPerSecond, writeBurst),
		bucket:   bucket,
		org:      org,
	}
}

// WriteReading writes a single battery reading
func (e *InfluxDBExporter) WriteReading(reading *interfaces.BatteryReading) error {
	if reading == nil {
		return apperrors.NewExportError("write reading", fmt.Errorf("reading cannot be nil"))
	}
	if reading.Timestamp.IsZero() {
		return apperrors.NewExportError("write reading", fmt.Errorf("timestamp cannot be zero"))
	}

	p := influxdb2.NewPoint(
		"battery_state",
		map[string]string{
			"source": "battery",
		},
		map[string]interface{}{
			"level":       int64(reading.Level),
			"voltage_mv":  int64(reading.VoltageMV),
			"temperature": float64(reading.Temperature) / 10.0,
			"states":      int64(reading.States),
		},
		reading.Timestamp,
	)

	return e.writePoints(p)
}

// WriteBatch writes multiple readings efficiently
func (e *InfluxDBExporter) WriteBatch(readings []*interfaces.BatteryReading) error {
	if readings == nil {
		return apperrors.NewExportError("write batch", fmt.Errorf("readings slice cannot be nil"))
	}

	for i, reading := range readings {
		if err := e.WriteReading(reading); err != nil {
			return fmt.Errorf("failed to write reading at index %d: %w", i, err)
		}
	}
	return nil
}

// WriteEnergyDeltas writes one point per consumer for a recorded energy
// step. Consumer identity goes into tags so per-consumer series stay
// separable in queries.
func (e *InfluxDBExporter) WriteEnergyDeltas(timestamp time.Time, deltas []interfaces.EnergyDelta) error {
	if timestamp.IsZero() {
		return apperrors.NewExportError("write energy deltas", fmt.Errorf("timestamp cannot be zero"))
	}
	if len(deltas) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(deltas))
	for _, d := range deltas {
		points = append(points, influxdb2.NewPoint(
			"energy_delta",
			map[string]string{
				"consumer": d.Name,
				"type":     strconv.FormatInt(int64(d.Type), 10),
				"ordinal":  strconv.FormatInt(int64(d.Ordinal), 10),
			},
			map[string]interface{}{
				"delta_uc": d.DeltaUC,
			},
			timestamp,
		))
	}

	return e.writePoints(points...)
}

// writePoints pushes points through the rate limiter and circuit breaker
func (e *InfluxDBExporter) writePoints(points ...*write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		metrics.InfluxDBWriteErrors.Inc()
		return apperrors.NewExportError("rate limit", err)
	}

	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, e.writeAPI.WritePoint(ctx, points...)
	})
	if err != nil {
		metrics.InfluxDBWriteErrors.Inc()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperrors.ErrCircuitBreakerOpen
		}
		return apperrors.NewExportError("write points", err)
	}

	metrics.InfluxDBWritesTotal.Inc()
	return nil
}

// Flush is a no-op for the blocking write API
func (e *InfluxDBExporter) Flush() {}

// Close closes the InfluxDB client
func (e *InfluxDBExporter) Close() {
	if e.client == nil {
		return
	}
	logger.Info().Msg("Closing InfluxDB connection")
	e.client.Close()
}

// Health checks if the InfluxDB backend is healthy
func (e *InfluxDBExporter) Health(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	health, err := e.client.Health(ctx)
	if err != nil {
		return apperrors.NewExportError("health", err)
	}
	if health.Status != "pass" {
		return apperrors.NewExportError("health", fmt.Errorf("status %s", health.Status))
	}
	return nil
}
