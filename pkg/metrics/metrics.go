// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the Battery History Logger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HistoryRecordsTotal tracks the total number of history records appended
	HistoryRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_history_records_total",
		Help: "Total number of history records appended to the buffer",
	})

	// HistoryEncodeErrors tracks the number of records dropped due to encode failures
	HistoryEncodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_history_encode_errors_total",
		Help: "Total number of history records dropped due to encode failures",
	})

	// HistoryRotationsTotal tracks the total number of segment rotations
	HistoryRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_history_rotations_total",
		Help: "Total number of history segment rotations",
	})

	// HistoryEvictionsTotal tracks the total number of evicted segments
	HistoryEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_history_evictions_total",
		Help: "Total number of history segments evicted",
	})

	// HistoryEvictionErrors tracks failed segment deletions
	HistoryEvictionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_history_eviction_errors_total",
		Help: "Total number of failed history segment deletions",
	})

	// HistoryActiveSegment tracks the id of the active segment
	HistoryActiveSegment = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battery_history_active_segment",
		Help: "Id of the currently active history segment",
	})

	// HistoryBufferBytes tracks the current size of the in-memory buffer
	HistoryBufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battery_history_buffer_bytes",
		Help: "Current size of the in-memory history buffer in bytes",
	})

	// BatterySamplesTotal tracks the total number of battery samples collected
	BatterySamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_samples_total",
		Help: "Total number of battery samples collected",
	})

	// BatterySampleErrors tracks the number of failed battery samples
	BatterySampleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_sample_errors_total",
		Help: "Total number of failed battery samples",
	})

	// BatterySampleDuration tracks how long it takes to read a battery sample
	BatterySampleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battery_sample_duration_seconds",
		Help:    "Duration of battery sample reads in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// InfluxDBWritesTotal tracks the total number of history points exported
	InfluxDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_influxdb_writes_total",
		Help: "Total number of history points written to InfluxDB",
	})

	// InfluxDBWriteErrors tracks the number of failed exports to InfluxDB
	InfluxDBWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battery_influxdb_write_errors_total",
		Help: "Total number of failed history point writes to InfluxDB",
	})

	// CurrentBatteryLevel tracks the last sampled battery level
	CurrentBatteryLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battery_level_percent",
		Help: "Last sampled battery level in percent",
	})

	// CurrentBatteryVoltage tracks the last sampled battery voltage
	CurrentBatteryVoltage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battery_voltage_millivolts",
		Help: "Last sampled battery voltage in millivolts",
	})

	// CurrentBatteryTemperature tracks the last sampled battery temperature
	CurrentBatteryTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battery_temperature_decicelsius",
		Help: "Last sampled battery temperature in tenths of a degree Celsius",
	})
)
