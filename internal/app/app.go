// Package app wires configuration into a running coordinator: logger,
// vehicle backend, registry, sampler and the optional database journal.
// Every command-line tool starts through it.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/uav-fleet/internal/db"
	"github.com/unklstewy/uav-fleet/pkg/config"
	"github.com/unklstewy/uav-fleet/pkg/coordinates"
	"github.com/unklstewy/uav-fleet/pkg/fleet"
	"github.com/unklstewy/uav-fleet/pkg/log"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
	"github.com/unklstewy/uav-fleet/pkg/vehicle/mavlink"
	"github.com/unklstewy/uav-fleet/pkg/vehicle/sim"
)

// App holds the coordinator and its collaborators.
type App struct {
	Config    *config.Config
	Logger    *log.Logger
	Registry  *fleet.Registry
	Sampler   *fleet.Sampler
	Database  *db.DB
	Commands  *db.CommandRepository
	Snapshots *db.SnapshotRepository
}

// Backend builds the vehicle connector named by cfg.Fleet.Backend. The sim
// backend also returns a jitter source when enabled; it is nil otherwise.
func Backend(cfg *config.Config, lg *log.Logger) (vehicle.Connector, fleet.Jitter, error) {
	switch cfg.Fleet.Backend {
	case config.BackendSim:
		c := sim.NewConnector()
		c.Home = coordinates.Geographic{
			Latitude:  cfg.Simulation.HomeLatitude,
			Longitude: cfg.Simulation.HomeLongitude,
		}
		c.ConnectDelay = cfg.Simulation.ConnectDelay()

		var jitter fleet.Jitter
		if cfg.Simulation.Jitter {
			jitter = sim.NewJitter(cfg.Simulation.JitterSeed)
		}
		return c, jitter, nil

	case config.BackendMAVLink:
		c := mavlink.NewConnector(lg)
		c.SystemID = byte(cfg.Link.SystemID)
		c.StreamRateHz = cfg.Link.StreamRateHz
		return c, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Fleet.Backend)
	}
}

// New validates cfg and builds an App with every configured target added to
// the registry. Nothing is connected yet. When the database is enabled, the
// command journal is attached to the registry.
func New(ctx context.Context, cfg *config.Config, lg *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	connector, jitter, err := Backend(cfg, lg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Logger: lg,
	}

	opts := []fleet.Option{
		fleet.WithConnectTimeout(cfg.Fleet.ConnectTimeout()),
		fleet.WithRetry(cfg.Fleet.Retry()),
		fleet.WithArmTimeout(cfg.Fleet.ArmTimeout()),
		fleet.WithArmPollInterval(cfg.Fleet.ArmPollInterval()),
		fleet.WithCommandRate(commandLimit(cfg.Fleet.CommandRatePerSecond), cfg.Fleet.CommandBurst),
		fleet.WithLogger(lg),
	}
	if cfg.Fleet.Parallelism > 0 {
		opts = append(opts, fleet.WithParallelism(cfg.Fleet.Parallelism))
	}

	if cfg.Database.Enabled {
		database, err := db.ReconnectWithRetry(ctx, cfg.Database, 3, time.Second, lg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		err = db.WithRetry(ctx, func() error { return database.InitSchema(ctx) }, 2, lg)
		if err != nil {
			database.Close()
			return nil, err
		}
		a.Database = database
		a.Commands = db.NewCommandRepository(database)
		a.Snapshots = db.NewSnapshotRepository(database)
		opts = append(opts, fleet.WithJournal(a.Commands))
	}

	a.Registry = fleet.NewRegistry(connector, opts...)
	for _, t := range cfg.Fleet.Targets {
		a.Registry.AddTarget(t)
	}
	a.Sampler = fleet.NewSampler(a.Registry, jitter)

	lg.Info("Coordinator ready",
		"backend", connector.Name(),
		"targets", len(cfg.Fleet.Targets),
		"journal", cfg.Database.Enabled)

	return a, nil
}

func commandLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// RecordSnapshots journals an unjittered sample of the fleet when the
// database is enabled. It is a no-op otherwise.
func (a *App) RecordSnapshots(ctx context.Context) {
	if a.Snapshots == nil {
		return
	}
	if _, err := a.Snapshots.RecordSnapshots(ctx, a.Sampler.SampleAllRaw()); err != nil {
		a.Logger.Warn("Snapshot write failed", "error", err)
	}
}

// Close disconnects every vehicle and releases the database.
func (a *App) Close() {
	a.Registry.DisconnectAll()
	if a.Database != nil {
		a.Database.Close()
	}
}
