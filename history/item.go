// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package history implements the persisted battery event history store:
// an append-only, size-bounded, file-rotating log of power state changes
// that survives process restarts and supports both machine-parsable
// (checkin) and human-readable (dump) replay.
package history

// Record commands. An update carries state deltas; a time sync carries an
// absolute elapsed timestamp that rebases the timeline; a reset marks the
// point where history was cleared.
const (
	CmdUpdate uint8 = iota
	CmdTimeSync
	CmdReset
)

// State flag bits carried by every update record.
const (
	StateCharging uint32 = 1 << iota
	StatePlugged
	StateScreenOn
	StateWakeLock
	StateGPSOn
	StateWifiOn
	StateCPURunning
	StateDeviceIdle
)

// PowerDataUnavailable is the sentinel charge value marking a consumer
// that reported no data for a step. The tracker never emits it.
const PowerDataUnavailable int64 = -1

// EnergyConsumer identifies an energy-consuming subsystem. (Type, Ordinal)
// is the identity key; Name is display-only.
type EnergyConsumer struct {
	Type    int32
	Ordinal int32
	Name    string
}

// MeasuredEnergyDetails is the per-step energy attribution block attached
// to a history item. ChargeUC is parallel to Consumers and holds the
// charge delta in microcoulombs since the consumer's last available value.
type MeasuredEnergyDetails struct {
	Consumers []EnergyConsumer
	ChargeUC  []int64
}

// StepDetails holds expensive per-step fields filled in by the injected
// step-details calculator when a record is actually written.
type StepDetails struct {
	UserTimeMS   uint32
	SystemTimeMS uint32
	IdleTimeMS   uint32
}

// StepDetailsFn is the pluggable step-details calculator. The store calls
// it synchronously while recording an item; it may return nil.
type StepDetailsFn func() *StepDetails

// HistoryItem is one logical event in the battery history timeline.
//
// Time is the absolute elapsed timestamp in milliseconds, reconstructed by
// the iterator as the running sum of TimeDelta values. TimeDelta is the
// encoded distance to the previous record.
type HistoryItem struct {
	Cmd       uint8
	Time      int64
	TimeDelta uint32

	States uint32

	// Point-in-time battery snapshot, present on state-changing items only.
	HasBattery         bool
	BatteryLevel       uint8
	BatteryVoltageMV   uint16
	BatteryTemperature int16 // tenths of a degree Celsius

	Energy *MeasuredEnergyDetails
	Step   *StepDetails
}

// stateFlagNames maps each state bit to its dump rendering, in bit order.
var stateFlagNames = []struct {
	bit  uint32
	name string
}{
	{StateCharging, "charging"},
	{StatePlugged, "plugged"},
	{StateScreenOn, "screen-on"},
	{StateWakeLock, "wake-lock"},
	{StateGPSOn, "gps"},
	{StateWifiOn, "wifi"},
	{StateCPURunning, "cpu-running"},
	{StateDeviceIdle, "device-idle"},
}
