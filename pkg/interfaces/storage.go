// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"
	"time"
)

// BatteryReading represents a single battery measurement.
// This is redeclared here to avoid circular dependencies.
type BatteryReading struct {
	Timestamp   time.Time
	Level       uint8 // State of charge in percent
	VoltageMV   uint16
	Temperature int16 // Tenths of a degree Celsius
	States      uint32
}

// EnergyDelta is one consumer's charge delta for a recorded energy step.
// This is redeclared here to avoid circular dependencies.
type EnergyDelta struct {
	Type    int32
	Ordinal int32
	Name    string
	DeltaUC int64 // Charge delta in microcoulombs
}

// TimeSeriesExporter defines the interface for time-series data export.
// Implementations should handle battery readings and provide health checks.
type TimeSeriesExporter interface {
	// WriteReading writes a single battery reading to the backend
	WriteReading(reading *BatteryReading) error

	// WriteBatch writes multiple readings to the backend efficiently
	WriteBatch(readings []*BatteryReading) error

	// WriteEnergyDeltas writes one point per consumer for an energy step
	WriteEnergyDeltas(timestamp time.Time, deltas []EnergyDelta) error

	// Flush ensures all pending writes are completed
	Flush()

	// Close gracefully shuts down the backend connection
	Close()

	// Health checks if the backend is healthy
	Health(ctx context.Context) error
}
