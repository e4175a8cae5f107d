// Package mavlink implements vehicle.Link over a MAVLink telemetry link using
// gomavlib. Each link owns one gomavlib node bound to one endpoint, so
// vehicles on different radios or ports never share a channel.
//
// Connection targets follow the dronekit conventions:
//
//	udp:127.0.0.1:14550      listen for a vehicle on a local UDP port
//	udpout:10.0.0.2:14550    send to a vehicle listening on UDP
//	tcp:127.0.0.1:5760       connect to a TCP server (SITL)
//	tcpin:0.0.0.0:5760       accept a TCP connection
//	serial:/dev/ttyUSB0:57600
//	/dev/ttyACM0[:baud]      bare serial device, 57600 baud by default
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/unklstewy/uav-fleet/pkg/coordinates"
	"github.com/unklstewy/uav-fleet/pkg/log"
	"github.com/unklstewy/uav-fleet/pkg/setpoint"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

const (
	// DefaultSystemID is the MAVLink system id ground stations use by convention
	DefaultSystemID = 255

	// DefaultBaud is the baud rate of a serial target without an explicit rate
	DefaultBaud = 57600

	// DefaultStreamRateHz is the telemetry rate requested from the vehicle
	DefaultStreamRateHz = 2.0
)

// Connector opens MAVLink links.
type Connector struct {
	// SystemID is our MAVLink system id
	SystemID byte

	// StreamRateHz is the rate requested for position, battery and GPS messages
	StreamRateHz float64

	// Logger receives link events; may be nil
	Logger *log.Logger
}

// NewConnector creates a connector with ground station defaults.
func NewConnector(lg *log.Logger) *Connector {
	return &Connector{
		SystemID:     DefaultSystemID,
		StreamRateHz: DefaultStreamRateHz,
		Logger:       lg,
	}
}

// Name identifies the backend.
func (c *Connector) Name() string {
	return "mavlink"
}

// Connect opens a node on target and waits for the first vehicle heartbeat.
// The wait is bounded by ctx; an expired wait returns vehicle.ErrConnectTimeout.
func (c *Connector) Connect(ctx context.Context, target string) (vehicle.Link, error) {
	endpoint, err := ParseTarget(target)
	if err != nil {
		return nil, &vehicle.ConnectError{Target: target, Err: err}
	}

	sysID := c.SystemID
	if sysID == 0 {
		sysID = DefaultSystemID
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{endpoint},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: sysID,
	})
	if err != nil {
		return nil, &vehicle.ConnectError{Target: target, Err: err}
	}

	l := &Link{
		target: target,
		node:   node,
		out:    node,
		logger: c.Logger,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()

	select {
	case <-l.ready:
	case <-ctx.Done():
		node.Close()
		<-l.done
		return nil, fmt.Errorf("%w: no heartbeat from %s: %w", vehicle.ErrConnectTimeout, target, ctx.Err())
	}

	rate := c.StreamRateHz
	if rate <= 0 {
		rate = DefaultStreamRateHz
	}
	l.requestStreams(rate)

	c.Logger.Info("MAVLink vehicle ready",
		"target", target,
		"system_id", l.sysID,
		"component_id", l.compID)

	return l, nil
}

// ParseTarget converts a connection target into a gomavlib endpoint.
func ParseTarget(target string) (gomavlib.EndpointConf, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("empty target")
	}

	// Bare serial device: /dev/ttyUSB0, /dev/ttyUSB0:115200, COM3
	if strings.HasPrefix(target, "/") || strings.HasPrefix(strings.ToUpper(target), "COM") {
		return parseSerial(target)
	}

	scheme, addr, ok := strings.Cut(target, ":")
	if !ok || addr == "" {
		return nil, fmt.Errorf("target %q: expected scheme:address", target)
	}

	switch strings.ToLower(scheme) {
	case "udp", "udpin":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "udpout":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "tcp":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "tcpin":
		return gomavlib.EndpointTCPServer{Address: addr}, nil
	case "serial":
		return parseSerial(addr)
	default:
		return nil, fmt.Errorf("target %q: unsupported scheme %q", target, scheme)
	}
}

func parseSerial(s string) (gomavlib.EndpointConf, error) {
	device, baud := s, DefaultBaud
	if i := strings.LastIndex(s, ":"); i > 0 {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("serial target %q: invalid baud rate", s)
		}
		device, baud = s[:i], n
	}
	return gomavlib.EndpointSerial{Device: device, Baud: baud}, nil
}

// messageWriter is the outbound half of a gomavlib node.
type messageWriter interface {
	WriteMessageAll(m message.Message) error
}

// Link is a MAVLink connection to one vehicle.
type Link struct {
	target string
	node   *gomavlib.Node
	out    messageWriter
	logger *log.Logger

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu     sync.RWMutex
	sysID  byte
	compID byte
	state  vehicle.Telemetry
	closed bool
}

// run folds incoming messages into the telemetry state until the node closes.
func (l *Link) run() {
	defer close(l.done)

	for evt := range l.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		l.handle(frm.SystemID(), frm.ComponentID(), frm.Message())
	}
}

// handle applies one received message.
func (l *Link) handle(sysID, compID byte, msg message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hb, ok := msg.(*common.MessageHeartbeat); ok {
		// other ground stations share the link; only a vehicle's heartbeat counts
		if hb.Type == common.MAV_TYPE_GCS || hb.Autopilot == common.MAV_AUTOPILOT_INVALID {
			return
		}
		if l.sysID == 0 {
			l.sysID, l.compID = sysID, compID
			l.readyOnce.Do(func() { close(l.ready) })
		}
	}

	// ignore traffic from other systems on a shared link
	if l.sysID == 0 || sysID != l.sysID {
		return
	}

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		l.state.Armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		l.state.Mode = ModeFromCustom(m.CustomMode)

	case *common.MessageGlobalPositionInt:
		l.state.Location = coordinates.Geographic{
			Latitude:  float64(m.Lat) / 1e7,
			Longitude: float64(m.Lon) / 1e7,
			Altitude:  float64(m.RelativeAlt) / 1000,
		}
		if m.Hdg != 65535 {
			l.state.HeadingDeg = float64(m.Hdg) / 100
		}

	case *common.MessageSysStatus:
		if m.VoltageBattery != 65535 {
			l.state.BatteryVoltage = float64(m.VoltageBattery) / 1000
		}

	case *common.MessageGpsRawInt:
		l.state.GPSFixType = int(m.FixType)
		if m.SatellitesVisible != 255 {
			l.state.SatellitesVisible = int(m.SatellitesVisible)
		}

	default:
		return
	}
	l.state.UpdatedAt = time.Now()
}

// requestStreams asks the vehicle for the telemetry the coordinator reads.
func (l *Link) requestStreams(rateHz float64) {
	intervalUs := float32(1e6 / rateHz)
	ids := []uint32{
		(&common.MessageGlobalPositionInt{}).GetID(),
		(&common.MessageSysStatus{}).GetID(),
		(&common.MessageGpsRawInt{}).GetID(),
	}
	for _, id := range ids {
		if err := l.command(common.MAV_CMD_SET_MESSAGE_INTERVAL, float32(id), intervalUs, 0, 0, 0, 0, 0); err != nil {
			l.logger.Warn("message interval request failed", "target", l.target, "message_id", id, "error", err)
		}
	}
}

// command sends a COMMAND_LONG to the vehicle.
func (l *Link) command(cmd common.MAV_CMD, p1, p2, p3, p4, p5, p6, p7 float32) error {
	l.mu.RLock()
	sysID, compID, closed := l.sysID, l.compID, l.closed
	l.mu.RUnlock()

	if closed {
		return vehicle.ErrLinkClosed
	}

	err := l.out.WriteMessageAll(&common.MessageCommandLong{
		TargetSystem:    sysID,
		TargetComponent: compID,
		Command:         cmd,
		Param1:          p1,
		Param2:          p2,
		Param3:          p3,
		Param4:          p4,
		Param5:          p5,
		Param6:          p6,
		Param7:          p7,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	return nil
}

// SetMode requests a flight mode via MAV_CMD_DO_SET_MODE with a custom mode.
func (l *Link) SetMode(ctx context.Context, mode vehicle.Mode) error {
	custom, ok := CustomMode(mode)
	if !ok {
		return fmt.Errorf("mode %s has no autopilot mapping", mode)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.command(common.MAV_CMD_DO_SET_MODE,
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(custom), 0, 0, 0, 0, 0)
}

// SetArmed sends MAV_CMD_COMPONENT_ARM_DISARM.
func (l *Link) SetArmed(ctx context.Context, armed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var p1 float32
	if armed {
		p1 = 1
	}
	return l.command(common.MAV_CMD_COMPONENT_ARM_DISARM, p1, 0, 0, 0, 0, 0, 0)
}

// Takeoff sends MAV_CMD_NAV_TAKEOFF with the target altitude in param 7.
func (l *Link) Takeoff(ctx context.Context, altitude float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.command(common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitude))
}

// Send transmits SET_POSITION_TARGET_LOCAL_NED.
func (l *Link) Send(ctx context.Context, msg setpoint.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	sysID, compID, closed := l.sysID, l.compID, l.closed
	l.mu.RUnlock()

	if closed {
		return vehicle.ErrLinkClosed
	}

	if err := l.out.WriteMessageAll(EncodeSetpoint(msg, sysID, compID)); err != nil {
		return fmt.Errorf("write SET_POSITION_TARGET_LOCAL_NED: %w", err)
	}
	return nil
}

// EncodeSetpoint converts a setpoint into its wire message. Fields and the
// type mask are copied verbatim.
func EncodeSetpoint(msg setpoint.Message, sysID, compID byte) *common.MessageSetPositionTargetLocalNed {
	return &common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      0,
		TargetSystem:    sysID,
		TargetComponent: compID,
		CoordinateFrame: common.MAV_FRAME(msg.Frame),
		TypeMask:        common.POSITION_TARGET_TYPEMASK(msg.TypeMask),
		X:               float32(msg.X),
		Y:               float32(msg.Y),
		Z:               float32(msg.Z),
		Vx:              float32(msg.VX),
		Vy:              float32(msg.VY),
		Vz:              float32(msg.VZ),
		Afx:             float32(msg.AFX),
		Afy:             float32(msg.AFY),
		Afz:             float32(msg.AFZ),
		Yaw:             float32(msg.Yaw),
		YawRate:         float32(msg.YawRate),
	}
}

// Telemetry returns the latest folded vehicle state.
func (l *Link) Telemetry() vehicle.Telemetry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Close shuts the node down and waits for the reader to exit.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.node.Close()
	<-l.done
	return nil
}
