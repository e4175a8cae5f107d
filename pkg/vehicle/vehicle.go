// Package vehicle defines the contract between the fleet coordinator and a
// telemetry link to one UAV.
//
// Two backends implement it: pkg/vehicle/mavlink talks to a real autopilot and
// pkg/vehicle/sim runs an in-process stand-in. The coordinator picks one
// Connector when it is constructed and never branches on the backend again.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unklstewy/uav-fleet/pkg/coordinates"
	"github.com/unklstewy/uav-fleet/pkg/setpoint"
)

// Mode is an autopilot flight mode.
type Mode string

// Flight modes understood by the coordinator. The set mirrors the ArduCopter
// modes a ground station commonly switches between.
const (
	ModeUnknown   Mode = "UNKNOWN"
	ModeStabilize Mode = "STABILIZE"
	ModeAltHold   Mode = "ALT_HOLD"
	ModeAuto      Mode = "AUTO"
	ModeGuided    Mode = "GUIDED"
	ModeLoiter    Mode = "LOITER"
	ModeRTL       Mode = "RTL"
	ModeLand      Mode = "LAND"
)

// Modes lists every commandable mode.
var Modes = []Mode{ModeStabilize, ModeAltHold, ModeAuto, ModeGuided, ModeLoiter, ModeRTL, ModeLand}

// ParseMode converts a mode name (case-insensitive) into a Mode.
func ParseMode(s string) (Mode, error) {
	name := Mode(strings.ToUpper(strings.TrimSpace(s)))
	for _, m := range Modes {
		if m == name {
			return m, nil
		}
	}
	return ModeUnknown, fmt.Errorf("unknown flight mode %q", s)
}

func (m Mode) String() string {
	return string(m)
}

// Telemetry is the subset of live vehicle state the coordinator surfaces.
type Telemetry struct {
	// Armed is true when the motors are armed
	Armed bool

	// Mode is the autopilot's current flight mode
	Mode Mode

	// Location is the global position; Altitude is relative to home in meters
	Location coordinates.Geographic

	// HeadingDeg is the vehicle heading in compass degrees [0, 360)
	HeadingDeg float64

	// BatteryVoltage in volts
	BatteryVoltage float64

	// GPSFixType is the MAVLink GPS_FIX_TYPE (0 no GPS, 3 3D fix, ...)
	GPSFixType int

	// SatellitesVisible is the number of satellites used by the receiver
	SatellitesVisible int

	// UpdatedAt is when any field was last refreshed
	UpdatedAt time.Time
}

// Link is an open connection to one vehicle. A Link is owned by exactly one
// fleet session; implementations must be safe for concurrent Telemetry reads
// while a command is in flight.
type Link interface {
	// SetMode requests a flight mode change.
	SetMode(ctx context.Context, mode Mode) error

	// SetArmed requests the motors be armed or disarmed. Confirmation is
	// observed through Telemetry.
	SetArmed(ctx context.Context, armed bool) error

	// Takeoff requests a climb to altitude meters above home.
	Takeoff(ctx context.Context, altitude float64) error

	// Send transmits a position/yaw target.
	Send(ctx context.Context, msg setpoint.Message) error

	// Telemetry returns the latest known vehicle state.
	Telemetry() Telemetry

	// Close releases the link. Further calls return ErrLinkClosed.
	Close() error
}

// Connector opens links from connection target strings.
type Connector interface {
	// Name identifies the backend in logs ("mavlink", "sim").
	Name() string

	// Connect opens a link to target and waits for the vehicle to report
	// ready. The wait is bounded by ctx.
	Connect(ctx context.Context, target string) (Link, error)
}

var (
	// ErrConnectTimeout is returned when the vehicle did not report ready
	// before the connect deadline.
	ErrConnectTimeout = errors.New("timed out waiting for vehicle")

	// ErrLinkClosed is returned by every Link method after Close.
	ErrLinkClosed = errors.New("link closed")
)

// ConnectError is a transport-reported connection failure.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsConnectTimeout reports whether err is a connect timeout, either the
// backend's own or an expired context deadline.
func IsConnectTimeout(err error) bool {
	return errors.Is(err, ErrConnectTimeout) || errors.Is(err, context.DeadlineExceeded)
}
