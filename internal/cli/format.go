package cli

import (
	"fmt"
	"strings"

	"github.com/unklstewy/uav-fleet/pkg/fleet"
)

// StatusHeader is the heading row of FormatSnapshots.
const StatusHeader = "IDX  TARGET                    ARMED  MODE        ALT(m)   TGT(m)  BATT(V)  GPS  SATS  LAT         LON"

// FormatSnapshots renders snaps as a fixed-width table.
func FormatSnapshots(snaps []fleet.Snapshot) string {
	if len(snaps) == 0 {
		return "no vehicles connected"
	}

	var b strings.Builder
	b.WriteString(StatusHeader)
	for _, s := range snaps {
		b.WriteByte('\n')
		b.WriteString(FormatSnapshot(s))
	}
	return b.String()
}

// FormatSnapshot renders one table row.
func FormatSnapshot(s fleet.Snapshot) string {
	return fmt.Sprintf("%-4d %-25s %-6s %-10s %7.2f %8.2f  %7.2f  %3d  %4d  %-10.6f  %-11.6f",
		s.Index,
		truncate(s.Target, 25),
		yesNo(s.Armed),
		s.Mode,
		s.Altitude,
		s.TargetAltitude,
		s.BatteryVoltage,
		s.GPSFixType,
		s.Satellites,
		s.Latitude,
		s.Longitude,
	)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
