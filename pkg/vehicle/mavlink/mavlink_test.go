package mavlink

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/unklstewy/uav-fleet/pkg/setpoint"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		want    gomavlib.EndpointConf
		wantErr bool
	}{
		{"UDP listen", "udp:127.0.0.1:14550", gomavlib.EndpointUDPServer{Address: "127.0.0.1:14550"}, false},
		{"UDP in", "udpin:0.0.0.0:14551", gomavlib.EndpointUDPServer{Address: "0.0.0.0:14551"}, false},
		{"UDP out", "udpout:10.0.0.2:14550", gomavlib.EndpointUDPClient{Address: "10.0.0.2:14550"}, false},
		{"TCP client", "tcp:127.0.0.1:5760", gomavlib.EndpointTCPClient{Address: "127.0.0.1:5760"}, false},
		{"TCP server", "tcpin:0.0.0.0:5760", gomavlib.EndpointTCPServer{Address: "0.0.0.0:5760"}, false},
		{"Serial with baud", "serial:/dev/ttyUSB0:115200", gomavlib.EndpointSerial{Device: "/dev/ttyUSB0", Baud: 115200}, false},
		{"Bare serial device", "/dev/ttyACM0", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: DefaultBaud}, false},
		{"Bare serial with baud", "/dev/ttyACM0:921600", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 921600}, false},
		{"Empty", "", nil, true},
		{"No address", "udp:", nil, true},
		{"Unknown scheme", "http://example.com", nil, true},
		{"Bad baud", "serial:/dev/ttyUSB0:fast", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget(%q) error = %v, wantErr %v", tt.target, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTarget(%q) = %#v, want %#v", tt.target, got, tt.want)
			}
		})
	}
}

func TestCustomModeRoundTrip(t *testing.T) {
	for _, m := range vehicle.Modes {
		n, ok := CustomMode(m)
		if m == vehicle.ModeUnknown {
			if ok {
				t.Errorf("UNKNOWN should have no custom mode")
			}
			continue
		}
		if !ok {
			t.Errorf("%s has no custom mode", m)
			continue
		}
		if back := ModeFromCustom(n); back != m {
			t.Errorf("ModeFromCustom(%d) = %s, want %s", n, back, m)
		}
	}

	if got := ModeFromCustom(99); got != vehicle.ModeUnknown {
		t.Errorf("ModeFromCustom(99) = %s, want UNKNOWN", got)
	}
}

func TestEncodeSetpoint(t *testing.T) {
	msg := setpoint.Yaw(math.Pi / 4)
	enc := EncodeSetpoint(msg, 3, 1)

	if enc.TargetSystem != 3 || enc.TargetComponent != 1 {
		t.Errorf("Expected target 3/1, got %d/%d", enc.TargetSystem, enc.TargetComponent)
	}
	if uint16(enc.TypeMask) != uint16(setpoint.YawHoldMask) {
		t.Errorf("Expected mask %s, got %#x", setpoint.YawHoldMask, enc.TypeMask)
	}
	if enc.CoordinateFrame != common.MAV_FRAME_LOCAL_OFFSET_NED {
		t.Errorf("Expected MAV_FRAME_LOCAL_OFFSET_NED, got %v", enc.CoordinateFrame)
	}
	if math.Abs(float64(enc.Yaw)-msg.Yaw) > 1e-6 {
		t.Errorf("Expected yaw %v, got %v", msg.Yaw, enc.Yaw)
	}
}

func newTestLink() *Link {
	return &Link{
		target: "test",
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// TestHandle tests folding of received messages into telemetry.
func TestHandle(t *testing.T) {
	t.Run("Ground station heartbeat ignored", func(t *testing.T) {
		l := newTestLink()
		l.handle(200, 1, &common.MessageHeartbeat{Type: common.MAV_TYPE_GCS, Autopilot: common.MAV_AUTOPILOT_INVALID})

		select {
		case <-l.ready:
			t.Fatal("GCS heartbeat should not mark the link ready")
		default:
		}
	})

	t.Run("Vehicle heartbeat", func(t *testing.T) {
		l := newTestLink()
		l.handle(1, 1, &common.MessageHeartbeat{
			Type:       common.MAV_TYPE_QUADROTOR,
			Autopilot:  common.MAV_AUTOPILOT_ARDUPILOTMEGA,
			BaseMode:   common.MAV_MODE_FLAG_SAFETY_ARMED | common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED,
			CustomMode: 4,
		})

		select {
		case <-l.ready:
		default:
			t.Fatal("vehicle heartbeat should mark the link ready")
		}

		tel := l.Telemetry()
		if !tel.Armed || tel.Mode != vehicle.ModeGuided {
			t.Errorf("Expected armed GUIDED, got armed=%v mode=%s", tel.Armed, tel.Mode)
		}

		// a second heartbeat must not close ready twice
		l.handle(1, 1, &common.MessageHeartbeat{Type: common.MAV_TYPE_QUADROTOR, Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA, CustomMode: 6})
		if tel := l.Telemetry(); tel.Armed || tel.Mode != vehicle.ModeRTL {
			t.Errorf("Expected disarmed RTL, got armed=%v mode=%s", tel.Armed, tel.Mode)
		}
	})

	t.Run("Position battery and GPS", func(t *testing.T) {
		l := newTestLink()
		l.handle(1, 1, &common.MessageHeartbeat{Type: common.MAV_TYPE_QUADROTOR, Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA})

		l.handle(1, 1, &common.MessageGlobalPositionInt{Lat: 377749000, Lon: -1224194000, RelativeAlt: 12500, Hdg: 9000})
		l.handle(1, 1, &common.MessageSysStatus{VoltageBattery: 12450})
		l.handle(1, 1, &common.MessageGpsRawInt{FixType: common.GPS_FIX_TYPE_3D_FIX, SatellitesVisible: 11})

		tel := l.Telemetry()
		if math.Abs(tel.Location.Latitude-37.7749) > 1e-7 || math.Abs(tel.Location.Longitude+122.4194) > 1e-7 {
			t.Errorf("Unexpected location %v", tel.Location)
		}
		if tel.Location.Altitude != 12.5 {
			t.Errorf("Expected altitude 12.5, got %v", tel.Location.Altitude)
		}
		if tel.HeadingDeg != 90 {
			t.Errorf("Expected heading 90, got %v", tel.HeadingDeg)
		}
		if math.Abs(tel.BatteryVoltage-12.45) > 1e-9 {
			t.Errorf("Expected battery 12.45, got %v", tel.BatteryVoltage)
		}
		if tel.GPSFixType != 3 || tel.SatellitesVisible != 11 {
			t.Errorf("Expected fix 3 / 11 sats, got %d / %d", tel.GPSFixType, tel.SatellitesVisible)
		}
	})

	t.Run("Other systems ignored", func(t *testing.T) {
		l := newTestLink()
		l.handle(1, 1, &common.MessageHeartbeat{Type: common.MAV_TYPE_QUADROTOR, Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA})
		l.handle(2, 1, &common.MessageSysStatus{VoltageBattery: 11000})

		if v := l.Telemetry().BatteryVoltage; v != 0 {
			t.Errorf("Expected foreign SYS_STATUS ignored, got battery %v", v)
		}
	})
}

func TestSetModeUnmapped(t *testing.T) {
	l := newTestLink()
	if err := l.SetMode(context.Background(), vehicle.ModeUnknown); err == nil {
		t.Error("Expected error for unmapped mode")
	}
}

func TestConnectBadTarget(t *testing.T) {
	_, err := NewConnector(nil).Connect(context.Background(), "carrier-pigeon:1")
	var ce *vehicle.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConnectError, got %v", err)
	}
}

// failingWriter rejects every outbound message.
type failingWriter struct {
	err  error
	sent int
}

func (w *failingWriter) WriteMessageAll(message.Message) error {
	w.sent++
	return w.err
}

// TestWriteErrors verifies that a failed node write reaches the caller.
func TestWriteErrors(t *testing.T) {
	writeErr := errors.New("channel gone")
	pos := setpoint.Position(1, 2, -3)

	tests := []struct {
		name string
		do   func(l *Link) error
	}{
		{"Arm", func(l *Link) error { return l.SetArmed(context.Background(), true) }},
		{"Takeoff", func(l *Link) error { return l.Takeoff(context.Background(), 10) }},
		{"Mode", func(l *Link) error { return l.SetMode(context.Background(), vehicle.ModeLand) }},
		{"Setpoint", func(l *Link) error { return l.Send(context.Background(), pos) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &failingWriter{err: writeErr}
			l := newTestLink()
			l.out = w

			err := tt.do(l)
			if !errors.Is(err, writeErr) {
				t.Errorf("Expected write error, got %v", err)
			}
			if w.sent != 1 {
				t.Errorf("Expected 1 write attempt, got %d", w.sent)
			}
		})
	}

	t.Run("Closed link skips the write", func(t *testing.T) {
		w := &failingWriter{err: writeErr}
		l := newTestLink()
		l.out = w
		l.closed = true

		if err := l.SetArmed(context.Background(), true); !errors.Is(err, vehicle.ErrLinkClosed) {
			t.Errorf("Expected ErrLinkClosed, got %v", err)
		}
		if w.sent != 0 {
			t.Errorf("Expected no write on a closed link, got %d", w.sent)
		}
	})
}
