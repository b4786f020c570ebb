// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

// BatterySampler defines the interface for periodic battery sampling.
// Implementations should deliver readings on a buffered channel.
type BatterySampler interface {
	// Start begins the sampling loop
	Start()

	// Readings returns the channel for receiving battery readings
	Readings() <-chan *BatteryReading

	// Stop stops sampling and closes the readings channel
	Stop()
}
