// Package setpoint builds local-frame position and yaw targets in the shape of
// the MAVLink SET_POSITION_TARGET_LOCAL_NED message.
//
// The encoder only constructs messages. Transmitting them is the job of a
// vehicle.Link.
package setpoint

import (
	"fmt"
	"math"

	"github.com/unklstewy/uav-fleet/pkg/coordinates"
)

// Field is one channel of a position target. The value is its bit index in
// the MAVLink POSITION_TARGET_TYPEMASK.
type Field uint

const (
	FieldX Field = iota
	FieldY
	FieldZ
	FieldVX
	FieldVY
	FieldVZ
	FieldAX
	FieldAY
	FieldAZ
	FieldForce
	FieldYaw
	FieldYawRate
)

var fieldNames = [...]string{"x", "y", "z", "vx", "vy", "vz", "ax", "ay", "az", "force", "yaw", "yaw_rate"}

func (f Field) String() string {
	if int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return fmt.Sprintf("field(%d)", uint(f))
}

// TypeMask selects which fields of a target the receiver honors. A set bit
// means the field is ignored. Only the low 12 bits are meaningful.
type TypeMask uint16

const (
	// IgnoreAll ignores every channel.
	IgnoreAll TypeMask = 0x0FFF

	// PositionMask honors x/y/z only (0b110111111000).
	PositionMask TypeMask = 0b110111111000

	// YawHoldMask is the yaw command mask used by existing ground stations
	// (0b100111111000). The position bits are clear, so the zero local
	// offsets sent alongside it hold the vehicle in place while yaw is
	// honored and yaw rate is ignored.
	YawHoldMask TypeMask = 0b100111111000

	// YawOnlyMask ignores every channel except yaw.
	YawOnlyMask TypeMask = IgnoreAll &^ (1 << FieldYaw)
)

// Ignores reports whether the receiver should ignore f.
func (m TypeMask) Ignores(f Field) bool {
	return m&(1<<f) != 0
}

// Uses reports whether the receiver should honor f.
func (m TypeMask) Uses(f Field) bool {
	return !m.Ignores(f)
}

// Enabled lists the honored fields in bit order.
func (m TypeMask) Enabled() []Field {
	var fields []Field
	for f := FieldX; f <= FieldYawRate; f++ {
		if m.Uses(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

func (m TypeMask) String() string {
	return fmt.Sprintf("0b%012b", uint16(m)&uint16(IgnoreAll))
}

// Frame is a MAVLink coordinate frame identifier.
type Frame uint8

const (
	// FrameLocalNED is a fixed NED frame around the EKF origin.
	FrameLocalNED Frame = 1

	// FrameLocalOffsetNED is NED relative to the vehicle's current position.
	FrameLocalOffsetNED Frame = 7
)

// Message is one position/velocity/acceleration/yaw target.
// Positions are meters (x north, y east, z down), velocities m/s,
// accelerations m/s², yaw radians and yaw rate rad/s.
type Message struct {
	TypeMask TypeMask
	Frame    Frame

	X, Y, Z       float64
	VX, VY, VZ    float64
	AFX, AFY, AFZ float64

	Yaw     float64
	YawRate float64
}

// Position builds a target that moves the vehicle by (x, y, z) meters in the
// local-offset NED frame. Every other channel is ignored.
func Position(x, y, z float64) Message {
	return Message{
		TypeMask: PositionMask,
		Frame:    FrameLocalOffsetNED,
		X:        x,
		Y:        y,
		Z:        z,
	}
}

// Yaw builds a target that turns the vehicle toward bearing (radians from
// north) while holding position. The transmitted yaw is bearing+π folded into
// [0, 2π); the offset is what the targeted flight controller expects and is
// kept as-is. Yaw rate 0 selects the autopilot's default turn rate.
func Yaw(bearing float64) Message {
	return Message{
		TypeMask: YawHoldMask,
		Frame:    FrameLocalOffsetNED,
		Yaw:      coordinates.NormalizeBearing(bearing + math.Pi),
	}
}

// YawOnly is Yaw with every non-yaw channel ignored, for firmware that
// accepts pure attitude targets.
func YawOnly(bearing float64) Message {
	msg := Yaw(bearing)
	msg.TypeMask = YawOnlyMask
	return msg
}

// Validate rejects targets carrying NaN or infinite values.
func (m Message) Validate() error {
	values := []struct {
		field Field
		v     float64
	}{
		{FieldX, m.X}, {FieldY, m.Y}, {FieldZ, m.Z},
		{FieldVX, m.VX}, {FieldVY, m.VY}, {FieldVZ, m.VZ},
		{FieldAX, m.AFX}, {FieldAY, m.AFY}, {FieldAZ, m.AFZ},
		{FieldYaw, m.Yaw}, {FieldYawRate, m.YawRate},
	}
	for _, fv := range values {
		if math.IsNaN(fv.v) || math.IsInf(fv.v, 0) {
			return fmt.Errorf("setpoint: %s is not finite", fv.field)
		}
	}
	if m.TypeMask&^IgnoreAll != 0 {
		return fmt.Errorf("setpoint: type mask %#04x has bits above 11", uint16(m.TypeMask))
	}
	return nil
}
