// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package history

import (
	"fmt"
	"strings"
)

// Format renders a decoded history item as dump text (human-readable) or
// checkin text (compact, machine-parsable). Consumers absent from the
// emitted energy block are never printed in either form: omission is how
// "no data" is communicated downstream.
func Format(it *HistoryItem, checkin bool) string {
	if checkin {
		return formatCheckin(it)
	}
	return formatDump(it)
}

func formatDump(it *HistoryItem) string {
	var b strings.Builder

	fmt.Fprintf(&b, "+%dms", it.Time)

	switch it.Cmd {
	case CmdTimeSync:
		b.WriteString(" TIME")
		return b.String()
	case CmdReset:
		b.WriteString(" RESET")
		return b.String()
	}

	if it.HasBattery {
		fmt.Fprintf(&b, " level=%d volt=%dmv temp=%d",
			it.BatteryLevel, it.BatteryVoltageMV, it.BatteryTemperature)
	}

	for _, f := range stateFlagNames {
		if it.States&f.bit != 0 {
			b.WriteByte(' ')
			b.WriteString(f.name)
		}
	}

	if it.Step != nil {
		fmt.Fprintf(&b, " cpu=%du+%ds+%di",
			it.Step.UserTimeMS, it.Step.SystemTimeMS, it.Step.IdleTimeMS)
	}

	if it.Energy != nil && len(it.Energy.Consumers) > 0 {
		b.WriteString(" Energy:")
		labels := consumerLabels(it.Energy)
		for i, label := range labels {
			fmt.Fprintf(&b, " %s=%d", label, it.Energy.ChargeUC[i])
		}
	}

	return b.String()
}

func formatCheckin(it *HistoryItem) string {
	var b strings.Builder

	switch it.Cmd {
	case CmdTimeSync:
		fmt.Fprintf(&b, "0,TIME,%d", it.Time)
		return b.String()
	case CmdReset:
		fmt.Fprintf(&b, "0,RESET,%d", it.Time)
		return b.String()
	}

	fmt.Fprintf(&b, "%d,s=%08x", it.TimeDelta, it.States)

	if it.HasBattery {
		fmt.Fprintf(&b, ",Bl=%d,Bv=%d,Bt=%d",
			it.BatteryLevel, it.BatteryVoltageMV, it.BatteryTemperature)
	}

	if it.Step != nil {
		fmt.Fprintf(&b, ",Du=%d,Ds=%d,Di=%d",
			it.Step.UserTimeMS, it.Step.SystemTimeMS, it.Step.IdleTimeMS)
	}

	if it.Energy != nil && len(it.Energy.Consumers) > 0 {
		b.WriteString(",XE")
		labels := consumerLabels(it.Energy)
		for i, label := range labels {
			fmt.Fprintf(&b, ",%s=%d", label, it.Energy.ChargeUC[i])
		}
	}

	return b.String()
}

// consumerLabels builds display labels for an energy block. A consumer
// whose name is shared by another in the block gets an ordinal suffix so
// labels stay unambiguous; unnamed consumers fall back to type/ordinal.
func consumerLabels(e *MeasuredEnergyDetails) []string {
	counts := make(map[string]int, len(e.Consumers))
	for _, c := range e.Consumers {
		counts[c.Name]++
	}

	labels := make([]string, len(e.Consumers))
	for i, c := range e.Consumers {
		switch {
		case c.Name == "":
			labels[i] = fmt.Sprintf("%d/%d", c.Type, c.Ordinal)
		case counts[c.Name] > 1:
			labels[i] = fmt.Sprintf("%s/%d", c.Name, c.Ordinal)
		default:
			labels[i] = c.Name
		}
	}
	return labels
}
