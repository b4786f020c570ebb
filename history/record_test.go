// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import (
	"strings"
	"testing"

	"github.com/soothill/battery-history-logger/pkg/errors"
)

func TestEncodeDecodeUpdate(t *testing.T) {
	in := &HistoryItem{
		Cmd:                CmdUpdate,
		TimeDelta:          1500,
		States:             StateCharging | StateScreenOn,
		HasBattery:         true,
		BatteryLevel:       87,
		BatteryVoltageMV:   3842,
		BatteryTemperature: -105,
		Energy: &MeasuredEnergyDetails{
			Consumers: []EnergyConsumer{
				{Type: 1, Ordinal: 0, Name: "CPU"},
				{Type: 2, Ordinal: 1, Name: "GPU"},
			},
			ChargeUC: []int64{1200, -30},
		},
		Step: &StepDetails{UserTimeMS: 10, SystemTimeMS: 5, IdleTimeMS: 85},
	}

	rec, err := encodeItem(in)
	if err != nil {
		t.Fatalf("encodeItem() error = %v", err)
	}

	out, n, ok := decodeItem(rec)
	if !ok {
		t.Fatal("decodeItem() failed on a valid record")
	}
	if n != len(rec) {
		t.Errorf("decodeItem() consumed %d bytes, want %d", n, len(rec))
	}

	if out.TimeDelta != in.TimeDelta {
		t.Errorf("TimeDelta = %d, want %d", out.TimeDelta, in.TimeDelta)
	}
	if out.States != in.States {
		t.Errorf("States = %#x, want %#x", out.States, in.States)
	}
	if !out.HasBattery || out.BatteryLevel != 87 || out.BatteryVoltageMV != 3842 || out.BatteryTemperature != -105 {
		t.Errorf("battery snapshot = %+v, want original values", out)
	}
	if out.Energy == nil || len(out.Energy.Consumers) != 2 {
		t.Fatalf("Energy = %+v, want 2 consumers", out.Energy)
	}
	if out.Energy.Consumers[1].Name != "GPU" || out.Energy.ChargeUC[1] != -30 {
		t.Errorf("consumer 1 = %+v/%d, want GPU/-30", out.Energy.Consumers[1], out.Energy.ChargeUC[1])
	}
	if out.Step == nil || out.Step.UserTimeMS != 10 {
		t.Errorf("Step = %+v, want user time 10", out.Step)
	}
}

func TestEncodeDecodeTimeSync(t *testing.T) {
	in := &HistoryItem{Cmd: CmdTimeSync, Time: 987654321}

	rec, err := encodeItem(in)
	if err != nil {
		t.Fatalf("encodeItem() error = %v", err)
	}

	out, _, ok := decodeItem(rec)
	if !ok {
		t.Fatal("decodeItem() failed on a valid record")
	}
	if out.Cmd != CmdTimeSync || out.Time != 987654321 {
		t.Errorf("decoded sync = cmd %d time %d, want cmd %d time 987654321", out.Cmd, out.Time, CmdTimeSync)
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	rec, err := encodeItem(&HistoryItem{
		Cmd:        CmdUpdate,
		TimeDelta:  100,
		HasBattery: true, BatteryLevel: 50, BatteryVoltageMV: 3700, BatteryTemperature: 300,
	})
	if err != nil {
		t.Fatalf("encodeItem() error = %v", err)
	}

	// Flip a payload byte; the CRC must catch it.
	bad := append([]byte(nil), rec...)
	bad[len(bad)/2] ^= 0xff
	if _, _, ok := decodeItem(bad); ok {
		t.Error("decodeItem() accepted a corrupted record")
	}

	// Truncated tails at every length must read as "not a record".
	for cut := 1; cut < len(rec); cut++ {
		if _, _, ok := decodeItem(rec[:cut]); ok {
			t.Errorf("decodeItem() accepted a record truncated to %d bytes", cut)
		}
	}
}

func TestEncodeRejectsOversizedEnergyBlock(t *testing.T) {
	energy := &MeasuredEnergyDetails{}
	name := strings.Repeat("x", 256)
	for i := 0; i < 64; i++ {
		energy.Consumers = append(energy.Consumers, EnergyConsumer{Type: int32(i), Name: name})
		energy.ChargeUC = append(energy.ChargeUC, int64(i))
	}

	_, err := encodeItem(&HistoryItem{Cmd: CmdUpdate, Energy: energy})
	if err == nil {
		t.Fatal("encodeItem() accepted an oversized energy block")
	}
	if !errors.IsEncodeError(err) {
		t.Errorf("error = %v, want EncodeError", err)
	}
}

func TestEncodeRejectsMismatchedEnergyBlock(t *testing.T) {
	_, err := encodeItem(&HistoryItem{
		Cmd: CmdUpdate,
		Energy: &MeasuredEnergyDetails{
			Consumers: []EnergyConsumer{{Type: 1, Name: "CPU"}},
			ChargeUC:  []int64{1, 2},
		},
	})
	if err == nil {
		t.Fatal("encodeItem() accepted a mismatched energy block")
	}
	if !errors.IsEncodeError(err) {
		t.Errorf("error = %v, want EncodeError", err)
	}
}
