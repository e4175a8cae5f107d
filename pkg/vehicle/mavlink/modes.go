package mavlink

import "github.com/unklstewy/uav-fleet/pkg/vehicle"

// ArduCopter custom mode numbers.
var copterModes = map[vehicle.Mode]uint32{
	vehicle.ModeStabilize: 0,
	vehicle.ModeAltHold:   2,
	vehicle.ModeAuto:      3,
	vehicle.ModeGuided:    4,
	vehicle.ModeLoiter:    5,
	vehicle.ModeRTL:       6,
	vehicle.ModeLand:      9,
}

// CustomMode returns the autopilot custom mode number for m.
func CustomMode(m vehicle.Mode) (uint32, bool) {
	n, ok := copterModes[m]
	return n, ok
}

// ModeFromCustom maps a heartbeat custom mode back to a Mode.
func ModeFromCustom(n uint32) vehicle.Mode {
	for m, v := range copterModes {
		if v == n {
			return m
		}
	}
	return vehicle.ModeUnknown
}
