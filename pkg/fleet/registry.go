// Package fleet coordinates a small fleet of UAVs by index.
//
// A Registry owns an ordered list of connection targets and, after
// ConnectAll, a session sequence aligned with it: slot i holds the session
// for target i, or nothing when that connection failed. Indices stay stable
// until the next ConnectAll or DisconnectAll. Commands are methods on the
// Registry and always address a vehicle by index; callers never hold a
// session across registry mutations.
package fleet

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unklstewy/uav-fleet/pkg/log"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// Defaults for registry options.
const (
	DefaultConnectTimeout  = 60 * time.Second
	DefaultArmTimeout      = 10 * time.Second
	DefaultArmPollInterval = time.Second
	DefaultCommandRate     = 10 // commands per second per vehicle
	DefaultCommandBurst    = 5
)

type options struct {
	connectTimeout  time.Duration
	retry           vehicle.RetryConfig
	armTimeout      time.Duration
	armPollInterval time.Duration
	parallelism     int
	commandRate     rate.Limit
	commandBurst    int
	logger          *log.Logger
	journal         Journal
}

// Option configures a Registry.
type Option func(*options)

// WithConnectTimeout bounds each target's connect sequence, retries included.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithRetry sets the backoff used between connect attempts of one target.
func WithRetry(cfg vehicle.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithArmTimeout bounds the wait for arming confirmation.
func WithArmTimeout(d time.Duration) Option {
	return func(o *options) { o.armTimeout = d }
}

// WithArmPollInterval sets how often telemetry is checked while arming.
func WithArmPollInterval(d time.Duration) Option {
	return func(o *options) { o.armPollInterval = d }
}

// WithParallelism limits concurrent connects and batch commands.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithCommandRate limits commands per second sent to each vehicle.
// rate.Inf disables limiting.
func WithCommandRate(r rate.Limit, burst int) Option {
	return func(o *options) {
		o.commandRate = r
		o.commandBurst = burst
	}
}

// WithLogger sets the registry logger.
func WithLogger(lg *log.Logger) Option {
	return func(o *options) { o.logger = lg }
}

// WithJournal records every command to j.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// Registry is the single owner of every vehicle session.
type Registry struct {
	connector vehicle.Connector
	opts      options

	// connectMu serializes ConnectAll calls
	connectMu sync.Mutex

	mu         sync.RWMutex
	targets    []string
	slots      []*Session
	generation uint64
}

// NewRegistry creates an empty registry that opens links with connector.
// The backend is fixed for the registry's lifetime.
func NewRegistry(connector vehicle.Connector, opts ...Option) *Registry {
	o := options{
		connectTimeout:  DefaultConnectTimeout,
		retry:           vehicle.DefaultRetryConfig(),
		armTimeout:      DefaultArmTimeout,
		armPollInterval: DefaultArmPollInterval,
		parallelism:     runtime.NumCPU(),
		commandRate:     DefaultCommandRate,
		commandBurst:    DefaultCommandBurst,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}
	if o.armPollInterval <= 0 {
		o.armPollInterval = DefaultArmPollInterval
	}
	if o.commandBurst < 1 {
		o.commandBurst = 1
	}

	return &Registry{
		connector: connector,
		opts:      o,
	}
}

// Backend returns the connector's name.
func (r *Registry) Backend() string {
	return r.connector.Name()
}

// AddTarget appends a connection target. Duplicates are allowed.
func (r *Registry) AddTarget(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

// Targets returns a copy of the target list.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.targets))
	copy(out, r.targets)
	return out
}

// ConnectAll discards any previous sessions and connects every target
// concurrently. A failed target leaves an empty slot at its index; it never
// aborts the others. Returns the number of connected vehicles.
//
// If DisconnectAll runs while connects are in flight, the new links are
// closed and ConnectAll returns 0.
func (r *Registry) ConnectAll(ctx context.Context) int {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	r.mu.Lock()
	r.closeSessionsLocked()
	r.generation++
	gen := r.generation
	targets := make([]string, len(r.targets))
	copy(targets, r.targets)
	r.mu.Unlock()

	r.opts.logger.Info("Connecting fleet",
		"backend", r.connector.Name(),
		"targets", len(targets))

	slots := make([]*Session, len(targets))

	var g errgroup.Group
	g.SetLimit(r.opts.parallelism)
	for i, target := range targets {
		g.Go(func() error {
			link, err := r.connect(ctx, target)
			if err != nil {
				r.opts.logger.Warn("Vehicle connect failed",
					"index", i,
					"target", target,
					"error", err)
				return nil
			}
			slots[i] = newSession(i, target, link, r.newLimiter())
			r.opts.logger.Info("Vehicle connected", "index", i, "target", target)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.generation != gen {
		// disconnected while connecting
		for _, s := range slots {
			if s != nil {
				_ = s.close()
			}
		}
		return 0
	}

	r.slots = slots
	count := 0
	for _, s := range slots {
		if s != nil {
			count++
		}
	}

	r.opts.logger.Info("Fleet connected",
		"connected", count,
		"targets", len(targets),
		"generation", gen)
	return count
}

func (r *Registry) connect(ctx context.Context, target string) (vehicle.Link, error) {
	if r.opts.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.connectTimeout)
		defer cancel()
	}
	return vehicle.ConnectWithRetry(ctx, r.connector, target, r.opts.retry)
}

func (r *Registry) newLimiter() *rate.Limiter {
	return rate.NewLimiter(r.opts.commandRate, r.opts.commandBurst)
}

// DisconnectAll closes every link and resets the registry to empty: both the
// sessions and the target list are cleared. All indices become invalid.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.closeSessionsLocked()
	r.targets = nil
	r.generation++

	r.opts.logger.Info("Fleet disconnected", "closed", n, "generation", r.generation)
}

// closeSessionsLocked closes and drops every session. Must be called with mu held.
func (r *Registry) closeSessionsLocked() int {
	n := 0
	for i, s := range r.slots {
		if s == nil {
			continue
		}
		if err := s.close(); err != nil {
			r.opts.logger.Warn("Vehicle close failed", "index", i, "target", s.target, "error", err)
		}
		n++
	}
	r.slots = nil
	return n
}

// Session returns the session at index i.
func (r *Registry) Session(i int) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionLocked(i)
}

func (r *Registry) sessionLocked(i int) (*Session, error) {
	if i < 0 || i >= len(r.slots) {
		return nil, fmt.Errorf("%w: %d (fleet has %d slots)", ErrIndexOutOfRange, i, len(r.slots))
	}
	s := r.slots[i]
	if s == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotConnected, i)
	}
	return s, nil
}

// Sessions returns the present sessions in index order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.slots))
	for _, s := range r.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of slots, present or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Connected returns the number of present sessions.
func (r *Registry) Connected() int {
	return len(r.Sessions())
}

// Generation increments on every ConnectAll and DisconnectAll.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
