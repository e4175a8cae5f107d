package fleet

import (
	"context"
	"time"

	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// Snapshot is a point-in-time status readout of one vehicle.
type Snapshot struct {
	Index          int
	Target         string
	Armed          bool
	Mode           vehicle.Mode
	Altitude       float64
	TargetAltitude float64
	BatteryVoltage float64
	GPSFixType     int
	Satellites     int
	Latitude       float64
	Longitude      float64
	HeadingDeg     float64
	SampledAt      time.Time
}

// Jitter perturbs a telemetry copy for display. Implementations must not
// retain or modify vehicle state.
type Jitter interface {
	Apply(vehicle.Telemetry) vehicle.Telemetry
}

// Sampler reads status snapshots from a registry. It holds no state of its
// own between calls.
type Sampler struct {
	reg    *Registry
	jitter Jitter
}

// NewSampler creates a sampler over reg. jitter may be nil.
func NewSampler(reg *Registry, jitter Jitter) *Sampler {
	return &Sampler{reg: reg, jitter: jitter}
}

// Sample returns the status of vehicle i. It does not wait for commands in
// flight on the vehicle.
func (s *Sampler) Sample(i int) (Snapshot, error) {
	sess, err := s.reg.Session(i)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(sess, time.Now(), s.jitter), nil
}

// SampleAll returns snapshots of every present vehicle in index order.
func (s *Sampler) SampleAll() []Snapshot {
	return s.sampleAll(s.jitter)
}

// SampleAllRaw is SampleAll without display jitter. Journaled snapshots use
// it so a vehicle that has not changed compares equal to its last row.
func (s *Sampler) SampleAllRaw() []Snapshot {
	return s.sampleAll(nil)
}

func (s *Sampler) sampleAll(jitter Jitter) []Snapshot {
	now := time.Now()
	sessions := s.reg.Sessions()

	out := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.snapshot(sess, now, jitter))
	}
	return out
}

func (s *Sampler) snapshot(sess *Session, now time.Time, jitter Jitter) Snapshot {
	t := sess.Telemetry()
	if jitter != nil {
		t = jitter.Apply(t)
	}

	return Snapshot{
		Index:          sess.Index(),
		Target:         sess.Target(),
		Armed:          t.Armed,
		Mode:           t.Mode,
		Altitude:       t.Location.Altitude,
		TargetAltitude: sess.TargetAltitude(),
		BatteryVoltage: t.BatteryVoltage,
		GPSFixType:     t.GPSFixType,
		Satellites:     t.SatellitesVisible,
		Latitude:       t.Location.Latitude,
		Longitude:      t.Location.Longitude,
		HeadingDeg:     t.HeadingDeg,
		SampledAt:      now,
	}
}

// Run calls fn with SampleAll immediately and then every interval until ctx
// is done.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, fn func([]Snapshot)) {
	fn(s.SampleAll())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(s.SampleAll())
		}
	}
}
