// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/soothill/battery-history-logger/pkg/errors"
	"github.com/soothill/battery-history-logger/pkg/logger"
	"github.com/soothill/battery-history-logger/pkg/metrics"
)

const segmentFileExt = ".bin"

// Config holds the store construction parameters. All fields are required.
type Config struct {
	// Dir is the history directory, exclusively owned by the store.
	Dir string
	// MaxFiles bounds the number of on-disk segments.
	MaxFiles int
	// MaxBufferBytes bounds the in-memory buffer before rotation.
	MaxBufferBytes int
}

// Store is the battery event history store: an append-only, size-bounded,
// file-rotating log of state-change records.
//
// The store assumes a single logical writer; all mutating calls are
// expected to be serialized by the caller. The internal mutex exists so
// Iterate can take a consistent snapshot from any goroutine; iterators
// themselves hold no locks.
type Store struct {
	mu             sync.Mutex
	dir            string
	maxFiles       int
	maxBufferBytes int
	clock          Clock
	stepDetails    StepDetailsFn

	segments []int // ascending; last entry is the active segment
	buf      *Buffer
	tracker  *energyTracker

	recording bool
	recordAll bool

	baseElapsedMS int64
	baseUptimeMS  int64
	lastElapsedMS int64

	haveLast      bool
	lastStates    uint32
	lastLevel     uint8
	lastVoltageMV uint16
	lastTemp      int16
}

// New creates a store over cfg.Dir, adopting any pre-existing segment
// files left behind by a prior instance. A fresh directory ends up with
// exactly one segment, id 0, and zero buffered bytes.
func New(cfg Config, stepDetails StepDetailsFn, clock Clock) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.NewConfigError("dir", "", errors.ErrInvalidConfig)
	}
	if cfg.MaxFiles < 1 {
		return nil, errors.NewConfigError("max_files", strconv.Itoa(cfg.MaxFiles),
			fmt.Errorf("must be at least 1"))
	}
	if cfg.MaxBufferBytes < 1 {
		return nil, errors.NewConfigError("max_buffer_bytes", strconv.Itoa(cfg.MaxBufferBytes),
			fmt.Errorf("must be at least 1"))
	}
	if clock == nil {
		clock = NewMonotonicClock()
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.NewStorageError("create directory", -1, err)
	}

	s := &Store{
		dir:            cfg.Dir,
		maxFiles:       cfg.MaxFiles,
		maxBufferBytes: cfg.MaxBufferBytes,
		clock:          clock,
		stepDetails:    stepDetails,
		buf:            NewBuffer(cfg.MaxBufferBytes),
		tracker:        newEnergyTracker(),
	}

	if err := s.recover(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("dir", s.dir).
		Ints("segments", s.segments).
		Int("max_files", s.maxFiles).
		Int("max_buffer_bytes", s.maxBufferBytes).
		Msg("History store opened")

	return s, nil
}

// recover scans the directory for well-formed "<n>.bin" entries and adopts
// them, sorted ascending, with the highest id active. Malformed filenames
// are ignored. An empty directory materializes segment 0.
func (s *Store) recover() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.NewStorageError("scan directory", -1, err)
	}

	ids := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), segmentFileExt)
		if !ok {
			continue
		}
		id, convErr := strconv.Atoi(name)
		if convErr != nil || id < 0 || strconv.Itoa(id) != name {
			logger.Debug().Str("file", entry.Name()).Msg("Ignoring malformed segment filename")
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	if len(ids) == 0 {
		if err := s.createSegment(0); err != nil {
			return err
		}
		ids = []int{0}
	}

	s.segments = ids
	metrics.HistoryActiveSegment.Set(float64(ids[len(ids)-1]))
	return nil
}

// StartNextFile seals the active segment by flushing buffered bytes into
// it, allocates the next id, creates its backing file, and makes it
// active. Oldest segments are then evicted while the count exceeds
// MaxFiles. Returns the new active segment id.
func (s *Store) StartNextFile() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startNextFileLocked()
}

func (s *Store) startNextFileLocked() int {
	s.flushLocked()

	next := 0
	if len(s.segments) > 0 {
		next = s.segments[len(s.segments)-1] + 1
	}
	if err := s.createSegment(next); err != nil {
		// Not fatal: the append path opens with O_CREATE, so the file
		// materializes on the first flush.
		logger.Error().Err(err).Int("segment", next).Msg("Failed to create segment file")
	}
	s.segments = append(s.segments, next)
	metrics.HistoryRotationsTotal.Inc()
	metrics.HistoryActiveSegment.Set(float64(next))

	// Anchor the fresh segment with a clock sync so replay stays correct
	// after the segment holding the previous sync is evicted.
	if s.recording {
		if err := s.buf.Append(&HistoryItem{Cmd: CmdTimeSync, Time: s.lastElapsedMS}); err != nil {
			logger.Warn().Err(err).Msg("Dropped segment anchor record")
		}
	}

	logger.Debug().Int("segment", next).Msg("Started next history file")

	s.evictLocked()
	return next
}

// evictLocked deletes the oldest segment, one at a time, until the count
// invariant holds. A failed delete is logged and retried on the next
// rotation; the set may temporarily exceed MaxFiles.
func (s *Store) evictLocked() {
	for len(s.segments) > s.maxFiles {
		oldest := s.segments[0]
		if err := os.Remove(s.segmentPath(oldest)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Int("segment", oldest).Msg("Failed to evict segment, will retry on next rotation")
			metrics.HistoryEvictionErrors.Inc()
			return
		}
		s.segments = s.segments[1:]
		metrics.HistoryEvictionsTotal.Inc()
		logger.Debug().Int("segment", oldest).Msg("Evicted oldest segment")
	}
}

// flushLocked appends buffered bytes to the active segment file with a
// best-effort fsync. I/O failures are logged and the bytes stay buffered.
func (s *Store) flushLocked() {
	if s.buf.SizeBytes() == 0 || len(s.segments) == 0 {
		return
	}
	active := s.segments[len(s.segments)-1]
	f, err := os.OpenFile(s.segmentPath(active), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Error().Err(err).Int("segment", active).Msg("Failed to open active segment for flush")
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(s.buf.Snapshot()); err != nil {
		logger.Error().Err(err).Int("segment", active).Msg("Failed to flush buffer to segment")
		return
	}
	if err := f.Sync(); err != nil {
		logger.Warn().Err(err).Int("segment", active).Msg("Segment fsync failed")
	}
	s.buf.reset()
}

// Flush writes any buffered bytes into the active segment without
// rotating.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Reset deletes every segment and the buffer, forgets all tracked state,
// and recreates segment 0. Used on factory reset or storage corruption
// recovery.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	for _, id := range s.segments {
		if err := os.Remove(s.segmentPath(id)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Int("segment", id).Msg("Failed to delete segment during reset")
		}
	}
	s.segments = nil
	s.buf.reset()
	s.tracker.reset()
	s.haveLast = false

	if err := s.createSegment(0); err != nil {
		logger.Error().Err(err).Msg("Failed to recreate segment 0 after reset")
	}
	s.segments = []int{0}
	metrics.HistoryActiveSegment.Set(0)
	logger.Info().Str("dir", s.dir).Msg("History store reset")
}

// ForceRecordAllHistory disables change suppression so every event is
// recorded, including ones identical to the previous state. Used for
// tests and debugging.
func (s *Store) ForceRecordAllHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordAll = true
}

// StartRecordingHistory begins (or restarts) recording at the given
// elapsed/uptime origin and writes a clock-sync record. With reset set,
// existing history is wiped first.
func (s *Store) StartRecordingHistory(elapsedMS, uptimeMS int64, reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := CmdTimeSync
	if reset {
		s.resetLocked()
		cmd = CmdReset
	}
	s.recording = true
	s.baseElapsedMS = elapsedMS
	s.baseUptimeMS = uptimeMS
	s.lastElapsedMS = elapsedMS
	s.haveLast = false

	if err := s.appendLocked(&HistoryItem{Cmd: cmd, Time: elapsedMS}); err != nil {
		logger.Warn().Err(err).Msg("Dropped clock-sync record")
	}

	logger.Info().
		Int64("elapsed_ms", elapsedMS).
		Int64("uptime_ms", uptimeMS).
		Bool("reset", reset).
		Msg("History recording started")
}

// SetBatteryState records a battery state snapshot. Unchanged states are
// suppressed unless ForceRecordAllHistory was called. Encode failures drop
// the record and surface the error for logging; they are never fatal.
func (s *Store) SetBatteryState(level uint8, voltageMV uint16, temperature int16, states uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return errors.ErrNotRecording
	}

	changed := !s.haveLast ||
		states != s.lastStates ||
		level != s.lastLevel ||
		voltageMV != s.lastVoltageMV ||
		temperature != s.lastTemp
	if !changed && !s.recordAll {
		return nil
	}

	now := s.clock.ElapsedMS()
	if now < s.lastElapsedMS {
		now = s.lastElapsedMS
	}
	delta := now - s.lastElapsedMS
	if delta > math.MaxUint32 {
		// Re-sync rather than overflow the delta field.
		if err := s.appendLocked(&HistoryItem{Cmd: CmdTimeSync, Time: now}); err != nil {
			return err
		}
		s.lastElapsedMS = now
		delta = 0
	}

	it := &HistoryItem{
		Cmd:                CmdUpdate,
		TimeDelta:          uint32(delta),
		States:             states,
		HasBattery:         true,
		BatteryLevel:       level,
		BatteryVoltageMV:   voltageMV,
		BatteryTemperature: temperature,
	}
	if s.stepDetails != nil {
		it.Step = s.stepDetails()
	}

	if err := s.appendLocked(it); err != nil {
		logger.Warn().Err(err).Msg("Dropped battery state record")
		return err
	}

	s.lastElapsedMS = now
	s.haveLast = true
	s.lastStates = states
	s.lastLevel = level
	s.lastVoltageMV = voltageMV
	s.lastTemp = temperature
	return nil
}

// RecordMeasuredEnergyDetails records a measured-energy step. Consumers
// whose sample is PowerDataUnavailable are omitted entirely; all others
// are emitted as deltas against their last available value. elapsedMS may
// be zero to use the store's clock. The returned details hold exactly the
// consumers and deltas that were written, nil when nothing was recorded.
func (s *Store) RecordMeasuredEnergyDetails(elapsedMS int64, consumers []EnergyConsumer, chargeUC []int64) (*MeasuredEnergyDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return nil, errors.ErrNotRecording
	}
	if len(consumers) != len(chargeUC) {
		return nil, errors.NewValidationError("charge_uc", len(chargeUC),
			fmt.Sprintf("length mismatch with consumers (%d)", len(consumers)))
	}

	emitted := s.tracker.record(consumers, chargeUC)
	if emitted == nil {
		return nil, nil
	}

	now := elapsedMS
	if now <= 0 {
		now = s.clock.ElapsedMS()
	}
	if now < s.lastElapsedMS {
		now = s.lastElapsedMS
	}
	delta := now - s.lastElapsedMS
	if delta > math.MaxUint32 {
		// Re-sync rather than overflow the delta field.
		if err := s.appendLocked(&HistoryItem{Cmd: CmdTimeSync, Time: now}); err != nil {
			return nil, err
		}
		s.lastElapsedMS = now
		delta = 0
	}

	it := &HistoryItem{
		Cmd:       CmdUpdate,
		TimeDelta: uint32(delta),
		States:    s.lastStates,
		Energy:    emitted,
	}

	if err := s.appendLocked(it); err != nil {
		logger.Warn().Err(err).Msg("Dropped measured energy record")
		return nil, err
	}
	s.lastElapsedMS = now
	return emitted, nil
}

// appendLocked appends one record to the buffer and rotates once the
// buffer reaches its threshold.
func (s *Store) appendLocked(it *HistoryItem) error {
	if err := s.buf.Append(it); err != nil {
		return err
	}
	if s.buf.ShouldRotate() {
		s.startNextFileLocked()
	}
	return nil
}

// Iterate creates a fresh read cursor over a snapshot of the current
// segment set and buffer. Writes after creation are not visible to the
// returned iterator, which is safe to read from any goroutine.
func (s *Store) Iterate() *Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Pin each segment to its current on-disk size. A later flush appends
	// the snapshotted buffer bytes to the active file; without the limit
	// the iterator would replay them from both the file and its buffer copy.
	segs := make([]segmentRef, 0, len(s.segments))
	for _, id := range s.segments {
		var limit int64
		if info, err := os.Stat(s.segmentPath(id)); err == nil {
			limit = info.Size()
		}
		segs = append(segs, segmentRef{id: id, limit: limit})
	}
	return newIterator(s.dir, segs, s.buf.Snapshot(), s.baseElapsedMS)
}

// ActiveFile returns the path of the active (highest id) segment file.
func (s *Store) ActiveFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segments) == 0 {
		return ""
	}
	return s.segmentPath(s.segments[len(s.segments)-1])
}

// SegmentIDs returns the current segment ids in ascending order.
func (s *Store) SegmentIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.segments...)
}

// UsedBytes returns the total on-disk segment bytes plus the buffered
// bytes.
func (s *Store) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, id := range s.segments {
		info, err := os.Stat(s.segmentPath(id))
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total + int64(s.buf.SizeBytes())
}

// createSegment creates an empty backing file for the given id.
func (s *Store) createSegment(id int) error {
	f, err := os.OpenFile(s.segmentPath(id), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.NewStorageError("create", id, err)
	}
	return f.Close()
}

func (s *Store) segmentPath(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id)+segmentFileExt)
}
