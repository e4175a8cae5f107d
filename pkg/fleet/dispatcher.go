package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/uav-fleet/pkg/coordinates"
	"github.com/unklstewy/uav-fleet/pkg/setpoint"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// Command names used in logs, errors and the journal.
const (
	CmdArm          = "arm"
	CmdDisarm       = "disarm"
	CmdTakeoff      = "takeoff"
	CmdLand         = "land"
	CmdRTL          = "rtl"
	CmdSetMode      = "set_mode"
	CmdSendPosition = "send_position"
	CmdYawTo        = "yaw_to"
)

// CommandRecord describes one executed command.
type CommandRecord struct {
	Generation uint64
	Index      int
	Target     string
	Command    string
	Args       string
	Succeeded  bool
	Error      string
	IssuedAt   time.Time
	Duration   time.Duration
}

// Journal persists command records.
type Journal interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
}

// BatchResult summarizes a command applied to every present vehicle.
type BatchResult struct {
	// Attempted is the number of present sessions the command was run on
	Attempted int

	// Succeeded is the number of sessions the command succeeded on
	Succeeded int

	// Skipped is the number of empty slots
	Skipped int

	// Failures maps index to error for each failed session
	Failures map[int]error
}

// OK reports whether every attempted command succeeded.
func (b BatchResult) OK() bool {
	return len(b.Failures) == 0
}

// Err joins the failures in index order, or returns nil.
func (b BatchResult) Err() error {
	if len(b.Failures) == 0 {
		return nil
	}
	idx := make([]int, 0, len(b.Failures))
	for i := range b.Failures {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	errs := make([]error, 0, len(idx))
	for _, i := range idx {
		errs = append(errs, b.Failures[i])
	}
	return errors.Join(errs...)
}

// do runs fn on session i with the session's command lock held.
func (r *Registry) do(ctx context.Context, i int, command, args string, fn func(context.Context, *Session) error) error {
	r.mu.RLock()
	s, err := r.sessionLocked(i)
	gen := r.generation
	r.mu.RUnlock()
	if err != nil {
		return &CommandError{Index: i, Command: command, Err: err}
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	start := time.Now()
	if err = s.limiter.Wait(ctx); err == nil {
		s.refresh()
		err = fn(ctx, s)
	}

	r.record(ctx, CommandRecord{
		Generation: gen,
		Index:      i,
		Target:     s.target,
		Command:    command,
		Args:       args,
		Succeeded:  err == nil,
		Error:      errString(err),
		IssuedAt:   start,
		Duration:   time.Since(start),
	})

	if err != nil {
		r.opts.logger.Warn("Command failed",
			"index", i,
			"target", s.target,
			"command", command,
			"error", err)
		return &CommandError{Index: i, Command: command, Err: err}
	}

	r.opts.logger.Debug("Command succeeded",
		"index", i,
		"command", command,
		"args", args,
		"duration", time.Since(start))
	return nil
}

func (r *Registry) record(ctx context.Context, rec CommandRecord) {
	if r.opts.journal == nil {
		return
	}
	// the command already happened; record it even if ctx has expired
	if err := r.opts.journal.RecordCommand(context.WithoutCancel(ctx), rec); err != nil {
		r.opts.logger.Warn("Command journal write failed",
			"index", rec.Index,
			"command", rec.Command,
			"error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Arm switches vehicle i to GUIDED, requests arming and waits for the
// vehicle to report armed. The wait ends at the arm timeout or when ctx is
// done; the vehicle is then sent a disarm request and ErrArmTimeout is
// returned, so a failed Arm never leaves the session armed.
func (r *Registry) Arm(ctx context.Context, i int) error {
	return r.do(ctx, i, CmdArm, "", func(ctx context.Context, s *Session) error {
		if err := s.link.SetMode(ctx, vehicle.ModeGuided); err != nil {
			return fmt.Errorf("set mode %s: %w", vehicle.ModeGuided, err)
		}
		s.setMode(vehicle.ModeGuided)

		if err := s.link.SetArmed(ctx, true); err != nil {
			return fmt.Errorf("request arm: %w", err)
		}

		return r.waitArmed(ctx, s)
	})
}

func (r *Registry) waitArmed(ctx context.Context, s *Session) error {
	wctx, cancel := context.WithTimeout(ctx, r.opts.armTimeout)
	defer cancel()

	ticker := time.NewTicker(r.opts.armPollInterval)
	defer ticker.Stop()

	for {
		s.refresh()
		if s.Armed() {
			return nil
		}

		select {
		case <-wctx.Done():
			// the vehicle may arm late
			dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			if err := s.link.SetArmed(dctx, false); err != nil {
				r.opts.logger.Warn("Disarm after arm timeout failed",
					"index", s.index, "target", s.target, "error", err)
			}
			dcancel()
			s.setArmed(false)

			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrArmTimeout, err)
			}
			return fmt.Errorf("%w after %s", ErrArmTimeout, r.opts.armTimeout)
		case <-ticker.C:
		}
	}
}

// Disarm requests vehicle i disarm.
func (r *Registry) Disarm(ctx context.Context, i int) error {
	return r.do(ctx, i, CmdDisarm, "", func(ctx context.Context, s *Session) error {
		if err := s.link.SetArmed(ctx, false); err != nil {
			return err
		}
		s.setArmed(false)
		return nil
	})
}

// Takeoff commands an armed vehicle to climb to altitude meters. The
// altitude must be finite and not negative.
func (r *Registry) Takeoff(ctx context.Context, i int, altitude float64) error {
	return r.do(ctx, i, CmdTakeoff, fmt.Sprintf("alt=%g", altitude), func(ctx context.Context, s *Session) error {
		if math.IsNaN(altitude) || math.IsInf(altitude, 0) || altitude < 0 {
			return fmt.Errorf("%w: %g", ErrInvalidAltitude, altitude)
		}
		if !s.Armed() {
			return ErrNotArmed
		}
		if err := s.link.Takeoff(ctx, altitude); err != nil {
			return err
		}
		s.setTakeoff(altitude)
		return nil
	})
}

// Land switches vehicle i to LAND.
func (r *Registry) Land(ctx context.Context, i int) error {
	return r.setMode(ctx, i, CmdLand, vehicle.ModeLand)
}

// RTL switches vehicle i to RTL.
func (r *Registry) RTL(ctx context.Context, i int) error {
	return r.setMode(ctx, i, CmdRTL, vehicle.ModeRTL)
}

// SetMode switches vehicle i to mode.
func (r *Registry) SetMode(ctx context.Context, i int, mode vehicle.Mode) error {
	return r.setMode(ctx, i, CmdSetMode, mode)
}

func (r *Registry) setMode(ctx context.Context, i int, command string, mode vehicle.Mode) error {
	return r.do(ctx, i, command, "mode="+mode.String(), func(ctx context.Context, s *Session) error {
		if err := s.link.SetMode(ctx, mode); err != nil {
			return err
		}
		s.setMode(mode)
		return nil
	})
}

// SendPosition sends a local NED offset target (north, east, down meters).
func (r *Registry) SendPosition(ctx context.Context, i int, x, y, z float64) error {
	args := fmt.Sprintf("x=%g y=%g z=%g", x, y, z)
	return r.do(ctx, i, CmdSendPosition, args, func(ctx context.Context, s *Session) error {
		return s.link.Send(ctx, setpoint.Position(x, y, z))
	})
}

// YawTo turns vehicle i toward (lat, lon) and returns the bearing from the
// vehicle to the target in degrees. On error the bearing is 0.
func (r *Registry) YawTo(ctx context.Context, i int, lat, lon float64) (float64, error) {
	var bearing float64
	args := fmt.Sprintf("lat=%g lon=%g", lat, lon)
	err := r.do(ctx, i, CmdYawTo, args, func(ctx context.Context, s *Session) error {
		b, err := coordinates.InitialBearing(s.Location(), coordinates.Geographic{Latitude: lat, Longitude: lon})
		if err != nil {
			return err
		}
		if err := s.link.Send(ctx, setpoint.Yaw(b)); err != nil {
			return err
		}
		bearing = b * coordinates.RadiansToDegrees
		return nil
	})
	if err != nil {
		return 0, err
	}
	return bearing, nil
}

// ArmAll arms every present vehicle.
func (r *Registry) ArmAll(ctx context.Context) BatchResult {
	return r.batch(ctx, CmdArm, r.Arm)
}

// DisarmAll disarms every present vehicle.
func (r *Registry) DisarmAll(ctx context.Context) BatchResult {
	return r.batch(ctx, CmdDisarm, r.Disarm)
}

// TakeoffAll sends takeoff to every present vehicle. Disarmed vehicles fail
// with ErrNotArmed without affecting the others.
func (r *Registry) TakeoffAll(ctx context.Context, altitude float64) BatchResult {
	return r.batch(ctx, CmdTakeoff, func(ctx context.Context, i int) error {
		return r.Takeoff(ctx, i, altitude)
	})
}

// LandAll lands every present vehicle.
func (r *Registry) LandAll(ctx context.Context) BatchResult {
	return r.batch(ctx, CmdLand, r.Land)
}

// RTLAll returns every present vehicle to launch.
func (r *Registry) RTLAll(ctx context.Context) BatchResult {
	return r.batch(ctx, CmdRTL, r.RTL)
}

// batch runs fn on every present index concurrently. It never stops early.
func (r *Registry) batch(ctx context.Context, command string, fn func(context.Context, int) error) BatchResult {
	r.mu.RLock()
	present := make([]int, 0, len(r.slots))
	for i, s := range r.slots {
		if s != nil {
			present = append(present, i)
		}
	}
	total := len(r.slots)
	r.mu.RUnlock()

	res := BatchResult{
		Attempted: len(present),
		Skipped:   total - len(present),
		Failures:  make(map[int]error),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.opts.parallelism)
	for _, i := range present {
		g.Go(func() error {
			err := fn(ctx, i)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures[i] = err
			} else {
				res.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.opts.logger.Info("Batch command complete",
		"command", command,
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"skipped", res.Skipped,
		"failed", len(res.Failures))
	return res
}
