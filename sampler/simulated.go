// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/soothill/battery-history-logger/history"
	"github.com/soothill/battery-history-logger/pkg/interfaces"
)

const (
	simulatedBaseVoltageMV = 3800 // Nominal Li-ion pack voltage in millivolts
	simulatedVoltageVarMV  = 80   // Voltage variation range (±40mV)
	simulatedBaseTempDeci  = 250  // Base temperature, tenths of a degree Celsius
	simulatedTempVarDeci   = 60   // Temperature variation range (±3.0C)
	simulatedDrainPercent  = 1    // Battery level drop per drain step
	simulatedDrainSteps    = 10   // Reads between drain steps
	simulatedEnergyMaxUC   = 5_000_000
)

// SimulatedSource generates plausible battery behavior for running the
// daemon without platform power-supply hooks. Level drains slowly,
// charging toggles when the battery gets low, and per-consumer energy
// counters increase monotonically with occasional unavailable readouts.
// NOTE: A production source would read /sys/class/power_supply and the
// platform energy accounting instead.
type SimulatedSource struct {
	mu        sync.Mutex
	level     int
	states    uint32
	reads     int
	consumers []history.EnergyConsumer
	chargeUC  []int64
	rng       *rand.Rand
}

// NewSimulatedSource creates a source with a full battery and the given consumers
func NewSimulatedSource(consumers []history.EnergyConsumer) *SimulatedSource {
	return &SimulatedSource{
		level:     100,
		states:    history.StateScreenOn,
		consumers: consumers,
		chargeUC:  make([]int64, len(consumers)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ReadBattery returns the current simulated battery measurement
func (s *SimulatedSource) ReadBattery() (*interfaces.BatteryReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.states&history.StateCharging != 0 {
		// Charging recovers faster than draining
		if s.reads%2 == 0 && s.level < 100 {
			s.level++
		}
		if s.level >= 100 {
			s.states &^= history.StateCharging
		}
	} else {
		if s.reads%simulatedDrainSteps == 0 && s.level > 0 {
			s.level -= simulatedDrainPercent
		}
		if s.level <= 15 {
			s.states |= history.StateCharging
		}
	}

	voltage := simulatedBaseVoltageMV + s.rng.Intn(simulatedVoltageVarMV) - simulatedVoltageVarMV/2
	temp := simulatedBaseTempDeci + s.rng.Intn(simulatedTempVarDeci) - simulatedTempVarDeci/2

	return &interfaces.BatteryReading{
		Timestamp:   time.Now(),
		Level:       uint8(s.level),
		VoltageMV:   uint16(voltage),
		Temperature: int16(temp),
		States:      s.states,
	}, nil
}

// Consumers returns the simulated energy consumers
func (s *SimulatedSource) Consumers() []history.EnergyConsumer {
	return s.consumers
}

// ReadEnergy returns cumulative charge per consumer in microcoulombs
func (s *SimulatedSource) ReadEnergy() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, len(s.chargeUC))
	for i := range s.chargeUC {
		s.chargeUC[i] += s.rng.Int63n(simulatedEnergyMaxUC)
		out[i] = s.chargeUC[i]
		// Roughly one readout in twenty is not available
		if s.rng.Intn(20) == 0 {
			out[i] = history.PowerDataUnavailable
		}
	}
	return out, nil
}
