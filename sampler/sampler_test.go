// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soothill/battery-history-logger/history"
	"github.com/soothill/battery-history-logger/pkg/interfaces"
)

// mockSource is a scripted BatterySource for testing
type mockSource struct {
	mu        sync.Mutex
	reading   *interfaces.BatteryReading
	readErr   error
	charge    []int64
	energyErr error
	consumers []history.EnergyConsumer
	reads     int
}

func (m *mockSource) ReadBattery() (*interfaces.BatteryReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	r := *m.reading
	return &r, nil
}

func (m *mockSource) Consumers() []history.EnergyConsumer {
	return m.consumers
}

func (m *mockSource) ReadEnergy() ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.energyErr != nil {
		return nil, m.energyErr
	}
	return append([]int64(nil), m.charge...), nil
}

func TestSamplerDeliversReadings(t *testing.T) {
	source := &mockSource{
		reading: &interfaces.BatteryReading{
			Level:       72,
			VoltageMV:   3810,
			Temperature: 255,
			States:      history.StateScreenOn,
		},
	}
	s := New(source, 5*time.Millisecond, time.Hour, 10)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case reading := <-s.Readings():
		if reading.Level != 72 {
			t.Errorf("Level = %d, want 72", reading.Level)
		}
		if reading.States != history.StateScreenOn {
			t.Errorf("States = %#x, want %#x", reading.States, history.StateScreenOn)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for battery reading")
	}
}

func TestSamplerDeliversEnergySamples(t *testing.T) {
	source := &mockSource{
		reading:   &interfaces.BatteryReading{Level: 50},
		charge:    []int64{1000, history.PowerDataUnavailable},
		consumers: []history.EnergyConsumer{{Type: 1, Name: "cpu"}, {Type: 2, Name: "wifi"}},
	}
	s := New(source, time.Hour, 5*time.Millisecond, 10)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case sample := <-s.Energy():
		if len(sample.ChargeUC) != 2 {
			t.Fatalf("len(ChargeUC) = %d, want 2", len(sample.ChargeUC))
		}
		if sample.ChargeUC[0] != 1000 {
			t.Errorf("ChargeUC[0] = %d, want 1000", sample.ChargeUC[0])
		}
		if sample.ChargeUC[1] != history.PowerDataUnavailable {
			t.Errorf("ChargeUC[1] = %d, want unavailable sentinel", sample.ChargeUC[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for energy sample")
	}

	if len(s.Consumers()) != 2 {
		t.Errorf("Consumers() = %d entries, want 2", len(s.Consumers()))
	}
}

func TestSamplerContinuesAfterReadError(t *testing.T) {
	source := &mockSource{readErr: errors.New("i2c timeout")}
	s := New(source, 5*time.Millisecond, time.Hour, 10)
	s.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	source.mu.Lock()
	reads := source.reads
	source.mu.Unlock()
	if reads < 2 {
		t.Errorf("source reads = %d, want at least 2 after errors", reads)
	}
}

func TestSamplerStopClosesChannels(t *testing.T) {
	source := &mockSource{reading: &interfaces.BatteryReading{Level: 10}}
	s := New(source, time.Millisecond, time.Millisecond, 100)
	s.Start(context.Background())

	time.Sleep(10 * time.Millisecond)
	s.Stop()

	// Drain and verify both channels close
	for range s.Readings() {
	}
	for range s.Energy() {
	}

	// Second stop must be a no-op
	s.Stop()
}

func TestSimulatedSourceMonotonicEnergy(t *testing.T) {
	source := NewSimulatedSource([]history.EnergyConsumer{
		{Type: 1, Name: "cpu"},
		{Type: 2, Name: "screen"},
	})

	last := []int64{0, 0}
	for i := 0; i < 50; i++ {
		charge, err := source.ReadEnergy()
		if err != nil {
			t.Fatalf("ReadEnergy() error = %v", err)
		}
		for j, c := range charge {
			if c == history.PowerDataUnavailable {
				continue
			}
			if c < last[j] {
				t.Fatalf("consumer %d charge decreased: %d -> %d", j, last[j], c)
			}
			last[j] = c
		}
	}
}

func TestSimulatedSourceBatteryBounds(t *testing.T) {
	source := NewSimulatedSource(nil)

	for i := 0; i < 500; i++ {
		reading, err := source.ReadBattery()
		if err != nil {
			t.Fatalf("ReadBattery() error = %v", err)
		}
		if reading.Level > 100 {
			t.Fatalf("Level = %d, want <= 100", reading.Level)
		}
	}
}
