// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package sampler provides periodic battery and energy sampling.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/soothill/battery-history-logger/history"
	"github.com/soothill/battery-history-logger/pkg/interfaces"
	"github.com/soothill/battery-history-logger/pkg/logger"
	"github.com/soothill/battery-history-logger/pkg/metrics"
)

// BatterySource reads battery and energy state from the platform.
type BatterySource interface {
	// ReadBattery returns the current battery measurement
	ReadBattery() (*interfaces.BatteryReading, error)

	// Consumers returns the energy consumers this source reports on.
	// The slice is stable across calls and matches ReadEnergy ordering.
	Consumers() []history.EnergyConsumer

	// ReadEnergy returns cumulative charge in microcoulombs per consumer,
	// ordered like Consumers. Entries may be history.PowerDataUnavailable.
	ReadEnergy() ([]int64, error)
}

// EnergySample carries one cumulative energy readout.
type EnergySample struct {
	Timestamp time.Time
	ChargeUC  []int64
}

// Sampler polls a battery source on two intervals: a fast one for
// battery state and a slow one for cumulative energy counters.
type Sampler struct {
	pollInterval   time.Duration
	energyInterval time.Duration
	readings       chan *interfaces.BatteryReading
	energy         chan *EnergySample
	source         BatterySource

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a sampler reading from the given source
func New(source BatterySource, pollInterval, energyInterval time.Duration, channelSize int) *Sampler {
	return &Sampler{
		pollInterval:   pollInterval,
		energyInterval: energyInterval,
		readings:       make(chan *interfaces.BatteryReading, channelSize),
		energy:         make(chan *EnergySample, channelSize),
		source:         source,
	}
}

// Start begins the sampling loops
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	logger.Info().
		Dur("poll_interval", s.pollInterval).
		Dur("energy_interval", s.energyInterval).
		Msg("Starting battery sampler")

	s.wg.Add(2)
	go s.pollBattery(ctx)
	go s.pollEnergy(ctx)
}

// pollBattery continuously reads battery state on the fast interval
func (s *Sampler) pollBattery(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			reading, err := s.source.ReadBattery()
			metrics.BatterySampleDuration.Observe(time.Since(start).Seconds())

			if err != nil {
				logger.Error().Err(err).Msg("Error reading battery state")
				metrics.BatterySampleErrors.Inc()
				continue
			}

			metrics.BatterySamplesTotal.Inc()
			metrics.CurrentBatteryLevel.Set(float64(reading.Level))
			metrics.CurrentBatteryVoltage.Set(float64(reading.VoltageMV))
			metrics.CurrentBatteryTemperature.Set(float64(reading.Temperature) / 10.0)

			select {
			case s.readings <- reading:
			default:
				logger.Warn().Msg("Readings channel full, dropping battery sample")
			}
		}
	}
}

// pollEnergy reads cumulative energy counters on the slow interval
func (s *Sampler) pollEnergy(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.energyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			charge, err := s.source.ReadEnergy()
			if err != nil {
				logger.Error().Err(err).Msg("Error reading energy counters")
				metrics.BatterySampleErrors.Inc()
				continue
			}

			select {
			case s.energy <- &EnergySample{Timestamp: time.Now(), ChargeUC: charge}:
			default:
				logger.Warn().Msg("Energy channel full, dropping energy sample")
			}
		}
	}
}

// Consumers returns the energy consumers of the underlying source
func (s *Sampler) Consumers() []history.EnergyConsumer {
	return s.source.Consumers()
}

// Readings returns the channel for receiving battery readings
func (s *Sampler) Readings() <-chan *interfaces.BatteryReading {
	return s.readings
}

// Energy returns the channel for receiving cumulative energy samples
func (s *Sampler) Energy() <-chan *EnergySample {
	return s.energy
}

// Stop stops sampling and closes both channels
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.readings)
	close(s.energy)
	logger.Info().Msg("Battery sampler stopped, channels closed")
}
