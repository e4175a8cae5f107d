package sim

import (
	"sync"
	"time"

	"github.com/MichaelTJones/pcg"

	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// pcg stream selector, fixed so a seed alone determines the sequence
const jitterStream = 0xda3e39cb94b95bdb

// Jitter bounds applied to displayed telemetry.
const (
	AltitudeJitter  = 0.1 // meters
	BatteryJitter   = 0.1 // volts
	SatelliteJitter = 1   // satellites
)

// Jitter adds small random variation to telemetry copies so simulated
// readouts look alive. It never touches vehicle state: callers pass a copy
// and get a perturbed copy back.
type Jitter struct {
	mu sync.Mutex
	r  *pcg.PCG32
}

// NewJitter creates a jitter source. A zero seed picks one from the clock.
func NewJitter(seed int64) *Jitter {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := pcg.NewPCG32()
	r.Seed(uint64(seed), jitterStream)
	return &Jitter{r: r}
}

// Apply returns t with altitude, battery voltage and satellite count perturbed.
func (j *Jitter) Apply(t vehicle.Telemetry) vehicle.Telemetry {
	j.mu.Lock()
	defer j.mu.Unlock()

	t.Location.Altitude += j.uniform(AltitudeJitter)
	t.BatteryVoltage += j.uniform(BatteryJitter)
	t.SatellitesVisible += int(j.r.Bounded(2*SatelliteJitter+1)) - SatelliteJitter
	if t.SatellitesVisible < 0 {
		t.SatellitesVisible = 0
	}
	return t
}

// uniform returns a value in [-bound, bound]. Must be called with mu held.
func (j *Jitter) uniform(bound float64) float64 {
	f := float64(j.r.Random()) / float64(1<<32-1)
	return (2*f - 1) * bound
}
