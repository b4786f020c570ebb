// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import (
	"os"
	"testing"
)

func TestIteratorYieldsBaseMarkerFirst(t *testing.T) {
	store, _ := newTestStore(t, 4, 1024)
	store.StartRecordingHistory(5000, 5000, false)

	iter := store.Iterate()
	var it HistoryItem
	if !iter.Next(&it) {
		t.Fatal("Next() = false on a store with a clock-sync record")
	}
	if it.Cmd != CmdTimeSync {
		t.Errorf("first item Cmd = %d, want CmdTimeSync", it.Cmd)
	}
	if it.Time != 5000 {
		t.Errorf("first item Time = %d, want base 5000", it.Time)
	}
	if it.HasBattery || it.Energy != nil {
		t.Error("base marker must carry no state")
	}

	if iter.Next(&it) {
		t.Errorf("Next() yielded %+v after the marker on an empty store", it)
	}
}

func TestIteratorAccumulatesDeltas(t *testing.T) {
	store, clock := newTestStore(t, 4, 64*1024)
	clock.now = 1000
	store.StartRecordingHistory(1000, 1000, false)
	store.ForceRecordAllHistory()

	deltas := []int64{250, 1, 9999}
	for i, d := range deltas {
		clock.advance(d)
		if err := store.SetBatteryState(uint8(90-i), 3800, 300, StateScreenOn); err != nil {
			t.Fatalf("SetBatteryState() error = %v", err)
		}
	}

	iter := store.Iterate()
	var it HistoryItem
	if !iter.Next(&it) {
		t.Fatal("Next() = false, want base marker")
	}
	prev := it.Time

	for i, d := range deltas {
		if !iter.Next(&it) {
			t.Fatalf("Next() = false at record %d", i)
		}
		if int64(it.TimeDelta) != d {
			t.Errorf("record %d TimeDelta = %d, want %d", i, it.TimeDelta, d)
		}
		if it.Time != prev+int64(it.TimeDelta) {
			t.Errorf("record %d Time = %d, want prev %d + delta %d", i, it.Time, prev, it.TimeDelta)
		}
		prev = it.Time
	}
	if iter.Next(&it) {
		t.Error("Next() yielded an item past the recorded history")
	}
}

func TestIteratorSpansSegmentsAndBuffer(t *testing.T) {
	store, clock := newTestStore(t, 8, 64*1024)
	store.StartRecordingHistory(0, 0, false)
	store.ForceRecordAllHistory()

	// Two records into segment 0, rotate, one record into segment 1,
	// rotate, one left in the buffer.
	clock.advance(10)
	mustSetState(t, store, 90)
	clock.advance(10)
	mustSetState(t, store, 89)
	store.StartNextFile()
	clock.advance(10)
	mustSetState(t, store, 88)
	store.StartNextFile()
	clock.advance(10)
	mustSetState(t, store, 87)

	var levels []uint8
	iter := store.Iterate()
	var it HistoryItem
	iter.Next(&it) // marker
	for iter.Next(&it) {
		levels = append(levels, it.BatteryLevel)
	}

	want := []uint8{90, 89, 88, 87}
	if len(levels) != len(want) {
		t.Fatalf("replayed levels = %v, want %v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("levels[%d] = %d, want %d", i, levels[i], want[i])
		}
	}
}

func TestIteratorSnapshotIgnoresLaterWrites(t *testing.T) {
	store, clock := newTestStore(t, 4, 64*1024)
	store.StartRecordingHistory(0, 0, false)
	store.ForceRecordAllHistory()

	clock.advance(10)
	mustSetState(t, store, 90)

	iter := store.Iterate()

	clock.advance(10)
	mustSetState(t, store, 89)

	count := 0
	var it HistoryItem
	iter.Next(&it) // marker
	for iter.Next(&it) {
		count++
	}
	if count != 1 {
		t.Errorf("iterator saw %d records, want 1 (snapshot taken before second write)", count)
	}
}

func TestIteratorSnapshotUnaffectedByFlush(t *testing.T) {
	store, clock := newTestStore(t, 4, 64*1024)
	store.StartRecordingHistory(0, 0, false)
	store.ForceRecordAllHistory()

	clock.advance(10)
	mustSetState(t, store, 90)

	iter := store.Iterate()

	// Flushing moves the snapshotted buffer bytes into the active segment
	// file; the iterator must not replay them a second time from disk.
	store.Flush()

	count := 0
	var it HistoryItem
	iter.Next(&it) // marker
	for iter.Next(&it) {
		count++
	}
	if count != 1 {
		t.Errorf("iterator replayed %d records, want 1 (post-snapshot flush must stay invisible)", count)
	}
}

func TestIteratorSnapshotUnaffectedByRotation(t *testing.T) {
	store, clock := newTestStore(t, 4, 64*1024)
	store.StartRecordingHistory(0, 0, false)
	store.ForceRecordAllHistory()

	clock.advance(10)
	mustSetState(t, store, 90)

	iter := store.Iterate()

	// Rotation flushes first, then writes into a new segment.
	store.StartNextFile()
	clock.advance(10)
	mustSetState(t, store, 89)
	store.Flush()

	var levels []uint8
	var it HistoryItem
	iter.Next(&it) // marker
	for iter.Next(&it) {
		levels = append(levels, it.BatteryLevel)
	}
	if len(levels) != 1 || levels[0] != 90 {
		t.Errorf("iterator replayed levels %v, want [90]", levels)
	}
}

func TestReplayAfterSyncSegmentEvicted(t *testing.T) {
	store, clock := newTestStore(t, 2, 64*1024)
	clock.now = 1000
	store.StartRecordingHistory(1000, 1000, false)
	store.ForceRecordAllHistory()

	clock.advance(100)
	mustSetState(t, store, 90) // 1100
	store.StartNextFile()
	clock.advance(100)
	mustSetState(t, store, 89) // 1200
	store.StartNextFile()      // evicts segment 0 with the session's first sync
	clock.advance(100)
	mustSetState(t, store, 88) // 1300

	var times []int64
	iter := store.Iterate()
	var it HistoryItem
	iter.Next(&it) // marker
	for iter.Next(&it) {
		times = append(times, it.Time)
	}

	// Each rotated segment carries its own anchor, so losing segment 0
	// must not shift the surviving records' absolute times.
	want := []int64{1200, 1300}
	if len(times) != len(want) {
		t.Fatalf("replayed times = %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Errorf("times[%d] = %d, want %d", i, times[i], want[i])
		}
	}
}

func TestIteratorToleratesTruncatedSegment(t *testing.T) {
	store, clock := newTestStore(t, 8, 64*1024)
	store.StartRecordingHistory(0, 0, false)
	store.ForceRecordAllHistory()

	clock.advance(10)
	mustSetState(t, store, 90)
	clock.advance(10)
	mustSetState(t, store, 89)
	store.Flush()

	// Chop the tail of the active segment, as a crash mid-write would.
	path := store.ActiveFile()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// Continue into the buffer; the truncated record must be the only loss.
	clock.advance(10)
	mustSetState(t, store, 88)

	var levels []uint8
	iter := store.Iterate()
	var it HistoryItem
	iter.Next(&it) // marker
	for iter.Next(&it) {
		levels = append(levels, it.BatteryLevel)
	}

	if len(levels) != 2 || levels[0] != 90 || levels[1] != 88 {
		t.Errorf("replayed levels = %v, want [90 88] (89 truncated away)", levels)
	}
}

func TestIteratorSkipsMissingSegment(t *testing.T) {
	store, clock := newTestStore(t, 8, 64*1024)
	store.StartRecordingHistory(0, 0, false)
	store.ForceRecordAllHistory()

	clock.advance(10)
	mustSetState(t, store, 90)
	store.StartNextFile()
	clock.advance(10)
	mustSetState(t, store, 89)
	store.Flush()

	iter := store.Iterate()
	// Delete segment 0 after the snapshot was taken.
	if err := os.Remove(store.segmentPath(store.SegmentIDs()[0])); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	count := 0
	var it HistoryItem
	iter.Next(&it) // marker
	for iter.Next(&it) {
		count++
	}
	if count != 1 {
		t.Errorf("iterator saw %d records, want 1 from the surviving segment", count)
	}
}

func mustSetState(t *testing.T, store *Store, level uint8) {
	t.Helper()
	if err := store.SetBatteryState(level, 3800, 300, StateScreenOn); err != nil {
		t.Fatalf("SetBatteryState() error = %v", err)
	}
}
