package fleet

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is returned for an index outside the session sequence.
	ErrIndexOutOfRange = errors.New("vehicle index out of range")

	// ErrNotConnected is returned for an index whose connection failed.
	ErrNotConnected = errors.New("vehicle not connected")

	// ErrInvalidAltitude is returned by Takeoff for a NaN, infinite or
	// negative altitude.
	ErrInvalidAltitude = errors.New("invalid takeoff altitude")

	// ErrNotArmed is returned by Takeoff on a disarmed vehicle.
	ErrNotArmed = errors.New("vehicle not armed")

	// ErrArmTimeout is returned when the vehicle did not confirm arming in time.
	// The vehicle is sent a disarm request and the session is left unarmed.
	ErrArmTimeout = errors.New("timed out waiting for vehicle to arm")
)

// CommandError reports a failed command on one vehicle.
type CommandError struct {
	Index   int
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("vehicle %d: %s: %v", e.Index, e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
