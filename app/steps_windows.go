// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package app

import (
	"github.com/soothill/battery-history-logger/history"
)

// stepTracker is a no-op on Windows where rusage is not available.
// Battery records simply omit the CPU step block.
type stepTracker struct{}

func newStepTracker() *stepTracker {
	return &stepTracker{}
}

func (t *stepTracker) collect() *history.StepDetails {
	return nil
}
