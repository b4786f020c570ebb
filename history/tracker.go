// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

type consumerKey struct {
	typ     int32
	ordinal int32
}

// energyTracker maintains per-consumer cumulative charge and emits only
// deltas. Identity is the stable (type, ordinal) key; array positions are
// not assumed stable across calls.
type energyTracker struct {
	lastKnown map[consumerKey]int64
}

func newEnergyTracker() *energyTracker {
	return &energyTracker{lastKnown: make(map[consumerKey]int64)}
}

// record takes a step's cumulative charge samples and returns the emitted
// detail block, or nil when no consumer had data. Consumers whose sample
// is PowerDataUnavailable are skipped entirely: last-known is not touched
// and they never appear in the block. A consumer seen for the first time
// baselines at zero, so its full cumulative value is the delta.
func (t *energyTracker) record(consumers []EnergyConsumer, chargeUC []int64) *MeasuredEnergyDetails {
	var out *MeasuredEnergyDetails
	for i, c := range consumers {
		if i >= len(chargeUC) {
			break
		}
		sample := chargeUC[i]
		if sample == PowerDataUnavailable {
			continue
		}
		key := consumerKey{typ: c.Type, ordinal: c.Ordinal}
		delta := sample - t.lastKnown[key]
		t.lastKnown[key] = sample
		if out == nil {
			out = &MeasuredEnergyDetails{}
		}
		out.Consumers = append(out.Consumers, c)
		out.ChargeUC = append(out.ChargeUC, delta)
	}
	return out
}

// reset forgets all last-known values.
func (t *energyTracker) reset() {
	t.lastKnown = make(map[consumerKey]int64)
}
