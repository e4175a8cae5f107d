package fleet

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/unklstewy/uav-fleet/pkg/coordinates"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// Session is one connected vehicle at a fixed registry index.
//
// Commands on a session are serialized by cmdMu. The cached state is guarded
// separately by mu so status reads never wait behind a command in flight
// (an arm confirmation can take seconds).
type Session struct {
	index   int
	target  string
	link    vehicle.Link
	limiter *rate.Limiter

	cmdMu sync.Mutex

	mu             sync.RWMutex
	armed          bool
	mode           vehicle.Mode
	location       coordinates.Geographic
	targetAltitude float64
}

func newSession(index int, target string, link vehicle.Link, limiter *rate.Limiter) *Session {
	s := &Session{
		index:   index,
		target:  target,
		link:    link,
		limiter: limiter,
	}
	s.refresh()
	return s
}

// Index returns the session's registry slot.
func (s *Session) Index() int {
	return s.index
}

// Target returns the connection string the session was opened from.
func (s *Session) Target() string {
	return s.target
}

// Armed returns the last known armed state.
func (s *Session) Armed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

// Mode returns the last known flight mode.
func (s *Session) Mode() vehicle.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Location returns the last known position.
func (s *Session) Location() coordinates.Geographic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location
}

// TargetAltitude returns the altitude of the last accepted takeoff.
func (s *Session) TargetAltitude() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetAltitude
}

// Telemetry returns the live link state.
func (s *Session) Telemetry() vehicle.Telemetry {
	return s.link.Telemetry()
}

// refresh copies the live armed flag, mode and position into the cached state.
func (s *Session) refresh() {
	t := s.link.Telemetry()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed = t.Armed
	s.mode = t.Mode
	s.location = t.Location
}

func (s *Session) setArmed(armed bool) {
	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
}

func (s *Session) setMode(m vehicle.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *Session) setTakeoff(altitude float64) {
	s.mu.Lock()
	s.mode = vehicle.ModeGuided
	s.targetAltitude = altitude
	s.mu.Unlock()
}

func (s *Session) close() error {
	s.setArmed(false)
	return s.link.Close()
}
