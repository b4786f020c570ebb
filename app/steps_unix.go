// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !windows

package app

import (
	"sync"
	"syscall"
	"time"

	"github.com/soothill/battery-history-logger/history"
	"github.com/soothill/battery-history-logger/pkg/logger"
)

// stepTracker derives per-step CPU accounting from process rusage.
// Each collect call reports the user/system/idle split since the
// previous call, where idle is wall time not spent on CPU.
type stepTracker struct {
	mu       sync.Mutex
	lastWall time.Time
	lastUser time.Duration
	lastSys  time.Duration
}

func newStepTracker() *stepTracker {
	return &stepTracker{lastWall: time.Now()}
}

func (t *stepTracker) collect() *history.StepDetails {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		logger.Debug().Err(err).Msg("getrusage failed, skipping step details")
		return nil
	}

	user := time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond
	sys := time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	wallDelta := now.Sub(t.lastWall)
	userDelta := user - t.lastUser
	sysDelta := sys - t.lastSys
	t.lastWall = now
	t.lastUser = user
	t.lastSys = sys

	idle := wallDelta - userDelta - sysDelta
	if idle < 0 {
		idle = 0
	}

	return &history.StepDetails{
		UserTimeMS:   uint32(userDelta.Milliseconds()),
		SystemTimeMS: uint32(sysDelta.Milliseconds()),
		IdleTimeMS:   uint32(idle.Milliseconds()),
	}
}
