// Package sim provides an in-process vehicle backend with the same semantics
// as a real telemetry link. Mode and arming changes take effect immediately,
// so fleet behaviour is deterministic under test.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/unklstewy/uav-fleet/pkg/coordinates"
	"github.com/unklstewy/uav-fleet/pkg/setpoint"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// FailPrefix marks targets that always refuse to connect.
const FailPrefix = "sim://fail"

// Defaults for a freshly connected simulated vehicle.
const (
	DefaultBatteryVoltage = 12.6
	DefaultGPSFixType     = 3
	DefaultSatellites     = 8
)

// DefaultHome is the home position of vehicle 0. Vehicle n sits n*HomeSpacing
// degrees north-east of it.
var DefaultHome = coordinates.Geographic{Latitude: 37.7749, Longitude: -122.4194}

// HomeSpacing is the per-vehicle home offset in degrees.
const HomeSpacing = 0.001

// ErrNotArmed is returned by Takeoff on a disarmed vehicle.
var ErrNotArmed = errors.New("sim: vehicle not armed")

// Connector opens simulated links.
type Connector struct {
	// Home is the home position of vehicle 0
	Home coordinates.Geographic

	// ConnectDelay simulates the time a real link takes to report ready
	ConnectDelay time.Duration
}

// NewConnector creates a connector with the default home position.
func NewConnector() *Connector {
	return &Connector{Home: DefaultHome}
}

// Name identifies the backend.
func (c *Connector) Name() string {
	return "sim"
}

// Connect opens a simulated link. The vehicle id is the trailing number in
// target minus one ("sim://vehicle_3" is vehicle 2), otherwise 0.
func (c *Connector) Connect(ctx context.Context, target string) (vehicle.Link, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, &vehicle.ConnectError{Target: target, Err: errors.New("empty target")}
	}
	if strings.HasPrefix(target, FailPrefix) {
		return nil, &vehicle.ConnectError{Target: target, Err: errors.New("simulated link failure")}
	}

	if c.ConnectDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", vehicle.ErrConnectTimeout, target, ctx.Err())
		case <-time.After(c.ConnectDelay):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", vehicle.ErrConnectTimeout, target, err)
	}

	id := vehicleID(target)
	home := c.Home
	home.Latitude += float64(id) * HomeSpacing
	home.Longitude += float64(id) * HomeSpacing

	return &Link{
		id:     id,
		target: target,
		home:   home,
		state: vehicle.Telemetry{
			Mode:              vehicle.ModeStabilize,
			Location:          home,
			BatteryVoltage:    DefaultBatteryVoltage,
			GPSFixType:        DefaultGPSFixType,
			SatellitesVisible: DefaultSatellites,
			UpdatedAt:         time.Now(),
		},
	}, nil
}

// vehicleID extracts the 1-based trailing number of target as a 0-based id.
func vehicleID(target string) int {
	end := len(target)
	start := end
	for start > 0 && unicode.IsDigit(rune(target[start-1])) {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(target[start:end])
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

// Link is a simulated vehicle.
type Link struct {
	mu     sync.RWMutex
	id     int
	target string
	home   coordinates.Geographic
	state  vehicle.Telemetry
	sent   []setpoint.Message
	closed bool
}

// ID returns the simulated vehicle id.
func (l *Link) ID() int {
	return l.id
}

// Home returns the vehicle's home position.
func (l *Link) Home() coordinates.Geographic {
	return l.home
}

// SetMode switches flight mode. LAND puts the vehicle on the ground.
func (l *Link) SetMode(ctx context.Context, mode vehicle.Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return vehicle.ErrLinkClosed
	}

	l.state.Mode = mode
	if mode == vehicle.ModeLand {
		l.state.Location.Altitude = 0
	}
	l.touch()
	return nil
}

// SetArmed arms or disarms the motors.
func (l *Link) SetArmed(ctx context.Context, armed bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return vehicle.ErrLinkClosed
	}

	l.state.Armed = armed
	l.touch()
	return nil
}

// Takeoff climbs straight to altitude in GUIDED mode.
func (l *Link) Takeoff(ctx context.Context, altitude float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return vehicle.ErrLinkClosed
	}
	if !l.state.Armed {
		return ErrNotArmed
	}

	l.state.Location.Altitude = altitude
	l.state.Mode = vehicle.ModeGuided
	l.touch()
	return nil
}

// Send applies a target. Position channels move the vehicle by the NED
// offset; a honored yaw channel sets the heading.
func (l *Link) Send(ctx context.Context, msg setpoint.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return vehicle.ErrLinkClosed
	}

	mask := msg.TypeMask
	if mask.Uses(setpoint.FieldX) || mask.Uses(setpoint.FieldY) || mask.Uses(setpoint.FieldZ) {
		var north, east, down float64
		if mask.Uses(setpoint.FieldX) {
			north = msg.X
		}
		if mask.Uses(setpoint.FieldY) {
			east = msg.Y
		}
		if mask.Uses(setpoint.FieldZ) {
			down = msg.Z
		}
		l.state.Location = coordinates.OffsetNED(l.state.Location, north, east, down)
		if l.state.Location.Altitude < 0 {
			l.state.Location.Altitude = 0
		}
	}
	if mask.Uses(setpoint.FieldYaw) {
		l.state.HeadingDeg = coordinates.NormalizeAzimuth(msg.Yaw * coordinates.RadiansToDegrees)
	}

	l.sent = append(l.sent, msg)
	l.touch()
	return nil
}

// Sent returns every target the link has accepted, oldest first.
func (l *Link) Sent() []setpoint.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]setpoint.Message, len(l.sent))
	copy(out, l.sent)
	return out
}

// Telemetry returns the current simulated state.
func (l *Link) Telemetry() vehicle.Telemetry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Close releases the link.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// touch must be called with mu held.
func (l *Link) touch() {
	l.state.UpdatedAt = time.Now()
}
