// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/soothill/battery-history-logger/pkg/logger"
)

// Iterator is a stateful read cursor over an immutable snapshot of the
// segment list and buffer bytes taken at creation time. It walks sealed
// segments oldest to newest, then the buffer, reconstructing absolute
// timestamps from encoded deltas.
//
// The first successful Next yields the base-time marker item only.
// Malformed or truncated trailing bytes terminate that segment early and
// iteration proceeds with the next source; no hard failure ever reaches
// the caller.
type Iterator struct {
	dir      string
	segs     []segmentRef
	bufBytes []byte

	cur         int64
	emittedBase bool
	src         int // index into segs; len(segs) selects the buffer
	data        []byte
	off         int
	loaded      bool
}

// segmentRef pins one segment to its on-disk size at snapshot time.
// Bytes appended to the file afterwards (a flush moving the snapshotted
// buffer to disk) lie past limit and stay invisible.
type segmentRef struct {
	id    int
	limit int64
}

func newIterator(dir string, segs []segmentRef, bufBytes []byte, baseMS int64) *Iterator {
	return &Iterator{
		dir:      dir,
		segs:     segs,
		bufBytes: bufBytes,
		cur:      baseMS,
	}
}

// Next decodes the next record into out and reports whether one was
// produced. It returns false once all sealed segments and the buffer are
// exhausted.
func (it *Iterator) Next(out *HistoryItem) bool {
	if !it.emittedBase {
		it.emittedBase = true
		it.primeBase()
		*out = HistoryItem{Cmd: CmdTimeSync, Time: it.cur}
		return true
	}

	for {
		if !it.loaded {
			if !it.advanceSource() {
				return false
			}
		}

		if it.off >= len(it.data) {
			it.loaded = false
			continue
		}

		item, n, ok := decodeItem(it.data[it.off:])
		if !ok {
			// Crash mid-write leaves a truncated tail; discard the rest
			// of this source and keep going.
			if it.src <= len(it.segs) {
				logger.Debug().
					Int("offset", it.off).
					Int("remaining", len(it.data)-it.off).
					Msg("Discarding malformed history bytes")
			}
			it.loaded = false
			continue
		}
		it.off += n

		if item.Cmd != CmdUpdate {
			// Embedded clock syncs rebase the running timeline but are
			// not re-yielded; the base marker already opened it.
			it.cur = item.Time
			continue
		}

		it.cur += int64(item.TimeDelta)
		item.Time = it.cur
		*out = item
		return true
	}
}

// primeBase anchors the running timeline for the base marker. History
// streams open with a clock-sync record; when the oldest decodable record
// is one, its absolute time becomes the marker and it is consumed. If no
// such record exists the snapshot base stands.
func (it *Iterator) primeBase() {
	for {
		if !it.loaded {
			if !it.advanceSource() {
				return
			}
		}
		if it.off >= len(it.data) {
			it.loaded = false
			continue
		}
		item, n, ok := decodeItem(it.data[it.off:])
		if !ok || item.Cmd == CmdUpdate {
			return
		}
		it.off += n
		it.cur = item.Time
		return
	}
}

// advanceSource loads the next segment's bytes, or the buffer snapshot
// once segments are exhausted. Unreadable segments (evicted between
// snapshot and read, permission errors) are skipped, and each segment is
// truncated to its size at snapshot time.
func (it *Iterator) advanceSource() bool {
	for it.src < len(it.segs) {
		ref := it.segs[it.src]
		it.src++
		if ref.limit == 0 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(it.dir, strconv.Itoa(ref.id)+segmentFileExt))
		if err != nil {
			logger.Debug().Err(err).Int("segment", ref.id).Msg("Skipping unreadable segment")
			continue
		}
		if int64(len(data)) > ref.limit {
			data = data[:ref.limit]
		}
		it.data = data
		it.off = 0
		it.loaded = true
		return true
	}

	if it.src == len(it.segs) {
		it.src++
		it.data = it.bufBytes
		it.off = 0
		it.loaded = true
		return true
	}
	return false
}
