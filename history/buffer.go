// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import (
	"bytes"

	"github.com/soothill/battery-history-logger/pkg/metrics"
)

// Buffer is the mutable in-memory staging area accumulating encoded
// records before they are flushed into the active segment. It never leaves
// the store; callers only ever see decoded HistoryItem values.
type Buffer struct {
	buf      bytes.Buffer
	maxBytes int
}

// NewBuffer creates a buffer that reports ShouldRotate once its encoded
// size reaches maxBytes.
func NewBuffer(maxBytes int) *Buffer {
	return &Buffer{maxBytes: maxBytes}
}

// Append encodes one record and appends it to the tail. Encode errors are
// non-fatal: the record is dropped and the error returned for logging.
func (b *Buffer) Append(it *HistoryItem) error {
	rec, err := encodeItem(it)
	if err != nil {
		metrics.HistoryEncodeErrors.Inc()
		return err
	}
	b.buf.Write(rec)
	metrics.HistoryRecordsTotal.Inc()
	metrics.HistoryBufferBytes.Set(float64(b.buf.Len()))
	return nil
}

// SizeBytes returns the current encoded size of the buffer.
func (b *Buffer) SizeBytes() int {
	return b.buf.Len()
}

// ShouldRotate reports whether the buffer has reached its size threshold
// and the writer should rotate before further appends.
func (b *Buffer) ShouldRotate() bool {
	return b.buf.Len() >= b.maxBytes
}

// Snapshot returns a copy of the buffered bytes, safe to read after later
// appends.
func (b *Buffer) Snapshot() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// reset discards any buffered bytes.
func (b *Buffer) reset() {
	b.buf.Reset()
	metrics.HistoryBufferBytes.Set(0)
}
