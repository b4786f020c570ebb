// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/soothill/battery-history-logger/pkg/errors"
)

// Record framing: uvarint payloadLen | payload | crc32c(payload).
//
// Payload layout:
//
//	cmd byte
//	uvarint timeDelta (CmdUpdate) or uvarint absolute elapsed ms (sync/reset)
//	uvarint state flags
//	block byte (battery / energy / step presence bits)
//	[battery] level byte, uvarint voltageMV, varint temperature
//	[energy]  uvarint count, then per consumer:
//	          varint type, varint ordinal, uvarint nameLen, name, varint chargeUC
//	[step]    uvarint userMS, uvarint systemMS, uvarint idleMS
//
// A record that does not frame-check (short read, bad CRC) reads as "not a
// record", which is how a truncated segment tail terminates iteration.

const (
	blockBattery = 1 << iota
	blockEnergy
	blockStep
)

// maxRecordBytes bounds a single encoded record. Oversized records are
// dropped by the buffer rather than written.
const maxRecordBytes = 4096

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeItem encodes one history item into a framed record.
func encodeItem(it *HistoryItem) ([]byte, error) {
	payload := make([]byte, 0, 64)
	var tmp [binary.MaxVarintLen64]byte

	payload = append(payload, it.Cmd)
	if it.Cmd == CmdUpdate {
		n := binary.PutUvarint(tmp[:], uint64(it.TimeDelta))
		payload = append(payload, tmp[:n]...)
	} else {
		n := binary.PutUvarint(tmp[:], uint64(it.Time))
		payload = append(payload, tmp[:n]...)
	}
	n := binary.PutUvarint(tmp[:], uint64(it.States))
	payload = append(payload, tmp[:n]...)

	var blocks byte
	if it.HasBattery {
		blocks |= blockBattery
	}
	if it.Energy != nil && len(it.Energy.Consumers) > 0 {
		blocks |= blockEnergy
	}
	if it.Step != nil {
		blocks |= blockStep
	}
	payload = append(payload, blocks)

	if blocks&blockBattery != 0 {
		payload = append(payload, it.BatteryLevel)
		n = binary.PutUvarint(tmp[:], uint64(it.BatteryVoltageMV))
		payload = append(payload, tmp[:n]...)
		n = binary.PutVarint(tmp[:], int64(it.BatteryTemperature))
		payload = append(payload, tmp[:n]...)
	}

	if blocks&blockEnergy != 0 {
		if len(it.Energy.Consumers) != len(it.Energy.ChargeUC) {
			return nil, errors.NewEncodeError("energy block",
				fmt.Errorf("consumer/charge length mismatch: %d vs %d",
					len(it.Energy.Consumers), len(it.Energy.ChargeUC)))
		}
		n = binary.PutUvarint(tmp[:], uint64(len(it.Energy.Consumers)))
		payload = append(payload, tmp[:n]...)
		for i, c := range it.Energy.Consumers {
			n = binary.PutVarint(tmp[:], int64(c.Type))
			payload = append(payload, tmp[:n]...)
			n = binary.PutVarint(tmp[:], int64(c.Ordinal))
			payload = append(payload, tmp[:n]...)
			n = binary.PutUvarint(tmp[:], uint64(len(c.Name)))
			payload = append(payload, tmp[:n]...)
			payload = append(payload, c.Name...)
			n = binary.PutVarint(tmp[:], it.Energy.ChargeUC[i])
			payload = append(payload, tmp[:n]...)
		}
	}

	if blocks&blockStep != 0 {
		n = binary.PutUvarint(tmp[:], uint64(it.Step.UserTimeMS))
		payload = append(payload, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(it.Step.SystemTimeMS))
		payload = append(payload, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(it.Step.IdleTimeMS))
		payload = append(payload, tmp[:n]...)
	}

	if len(payload) > maxRecordBytes {
		return nil, errors.NewEncodeError("frame", errors.ErrRecordTooLarge)
	}

	out := make([]byte, 0, binary.MaxVarintLen32+len(payload)+4)
	n = binary.PutUvarint(tmp[:], uint64(len(payload)))
	out = append(out, tmp[:n]...)
	out = append(out, payload...)

	crc := crc32.Checksum(payload, castagnoli)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out, nil
}

// decodeItem decodes one framed record from the front of b. It returns the
// decoded item, the number of bytes consumed, and whether decoding
// succeeded. Any truncation or corruption reads as failure.
func decodeItem(b []byte) (HistoryItem, int, bool) {
	var it HistoryItem

	plen, hn := binary.Uvarint(b)
	if hn <= 0 || plen > maxRecordBytes {
		return it, 0, false
	}
	end := hn + int(plen) + 4
	if end > len(b) {
		return it, 0, false
	}
	payload := b[hn : hn+int(plen)]
	expect := binary.BigEndian.Uint32(b[hn+int(plen) : end])
	if crc32.Checksum(payload, castagnoli) != expect {
		return it, 0, false
	}

	d := payloadDecoder{buf: payload}
	it.Cmd = d.byte()
	if it.Cmd == CmdUpdate {
		it.TimeDelta = uint32(d.uvarint())
	} else {
		it.Time = int64(d.uvarint())
	}
	it.States = uint32(d.uvarint())
	blocks := d.byte()

	if blocks&blockBattery != 0 {
		it.HasBattery = true
		it.BatteryLevel = d.byte()
		it.BatteryVoltageMV = uint16(d.uvarint())
		it.BatteryTemperature = int16(d.varint())
	}

	if blocks&blockEnergy != 0 {
		count := d.uvarint()
		if count > uint64(len(payload)) {
			return it, 0, false
		}
		energy := &MeasuredEnergyDetails{
			Consumers: make([]EnergyConsumer, 0, count),
			ChargeUC:  make([]int64, 0, count),
		}
		for i := uint64(0); i < count; i++ {
			c := EnergyConsumer{
				Type:    int32(d.varint()),
				Ordinal: int32(d.varint()),
			}
			c.Name = d.string(int(d.uvarint()))
			energy.Consumers = append(energy.Consumers, c)
			energy.ChargeUC = append(energy.ChargeUC, d.varint())
		}
		it.Energy = energy
	}

	if blocks&blockStep != 0 {
		it.Step = &StepDetails{
			UserTimeMS:   uint32(d.uvarint()),
			SystemTimeMS: uint32(d.uvarint()),
			IdleTimeMS:   uint32(d.uvarint()),
		}
	}

	if d.bad {
		return HistoryItem{}, 0, false
	}
	return it, end, true
}

// payloadDecoder reads varint fields from a payload, latching any
// out-of-bounds access into bad instead of panicking.
type payloadDecoder struct {
	buf []byte
	off int
	bad bool
}

func (d *payloadDecoder) byte() byte {
	if d.bad || d.off >= len(d.buf) {
		d.bad = true
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

func (d *payloadDecoder) uvarint() uint64 {
	if d.bad {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.bad = true
		return 0
	}
	d.off += n
	return v
}

func (d *payloadDecoder) varint() int64 {
	if d.bad {
		return 0
	}
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		d.bad = true
		return 0
	}
	d.off += n
	return v
}

func (d *payloadDecoder) string(n int) string {
	if d.bad || n < 0 || d.off+n > len(d.buf) {
		d.bad = true
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}
