package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/uav-fleet/internal/app"
	"github.com/unklstewy/uav-fleet/internal/db"
	"github.com/unklstewy/uav-fleet/pkg/config"
	"github.com/unklstewy/uav-fleet/pkg/fleet"
	fleetlog "github.com/unklstewy/uav-fleet/pkg/log"
)

// dbCheckEvery is the number of ticks between database health checks.
const dbCheckEvery = 10

// historyLimit is the number of journal records shown.
const historyLimit = 12

type model struct {
	core     *app.App
	ctx      context.Context
	interval time.Duration
	fromDB   bool

	// Database handles, swapped when a reconnect replaces the connection
	database  *db.DB
	commands  *db.CommandRepository
	snapshots *db.SnapshotRepository

	snaps      []fleet.Snapshot
	sampledAt  time.Time
	selected   int
	connecting bool
	connected  int

	showHistory   bool
	historyTarget string // empty for the whole fleet
	history       []fleet.CommandRecord

	stats     map[string]interface{}
	dbHealthy bool

	ticks int
	err   error
}

type tickMsg time.Time

type snapshotsMsg struct {
	snaps []fleet.Snapshot
	at    time.Time
	err   error
}

type connectedMsg int

type historyMsg struct {
	records []fleet.CommandRecord
	err     error
}

type dbStatusMsg struct {
	database *db.DB
	healthy  bool
	stats    map[string]interface{}
	err      error
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func newModel(ctx context.Context, core *app.App, fromDB bool) model {
	return model{
		core:       core,
		ctx:        ctx,
		interval:   core.Config.Fleet.StatusInterval(),
		fromDB:     fromDB,
		connecting: !fromDB,
		database:   core.Database,
		commands:   core.Commands,
		snapshots:  core.Snapshots,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick(m.interval), m.sample()}
	if !m.fromDB {
		cmds = append(cmds, m.connect())
	}
	if m.database != nil {
		cmds = append(cmds, m.checkDatabase())
	}
	return tea.Batch(cmds...)
}

// connect runs ConnectAll off the UI goroutine.
func (m model) connect() tea.Cmd {
	reg := m.core.Registry
	ctx := m.ctx
	return func() tea.Msg {
		return connectedMsg(reg.ConnectAll(ctx))
	}
}

// sample reads the current fleet state. Live state is also journaled, without
// display jitter, when the database is enabled.
func (m model) sample() tea.Cmd {
	ctx, repo := m.ctx, m.snapshots
	if m.fromDB {
		return func() tea.Msg {
			if repo == nil {
				return snapshotsMsg{err: fmt.Errorf("database is not enabled")}
			}
			snaps, err := repo.LatestSnapshots(ctx)
			return snapshotsMsg{snaps: snaps, at: time.Now(), err: err}
		}
	}

	sampler, lg := m.core.Sampler, m.core.Logger
	return func() tea.Msg {
		snaps := sampler.SampleAll()
		if repo != nil {
			if _, err := repo.RecordSnapshots(ctx, sampler.SampleAllRaw()); err != nil {
				lg.Warn("Snapshot write failed", "error", err)
			}
		}
		return snapshotsMsg{snaps: snaps, at: time.Now()}
	}
}

func (m model) loadHistory() tea.Cmd {
	ctx, repo, target := m.ctx, m.commands, m.historyTarget
	return func() tea.Msg {
		if repo == nil {
			return historyMsg{err: fmt.Errorf("command journal requires database.enabled")}
		}
		var (
			recs []fleet.CommandRecord
			err  error
		)
		if target != "" {
			recs, err = repo.CommandsForTarget(ctx, target, historyLimit)
		} else {
			recs, err = repo.RecentCommands(ctx, historyLimit)
		}
		return historyMsg{records: recs, err: err}
	}
}

// checkDatabase pings the database, reconnecting if the ping fails, and
// refreshes the row counts.
func (m model) checkDatabase() tea.Cmd {
	ctx, database := m.ctx, m.database
	cfg, lg := m.core.Config.Database, m.core.Logger
	return func() tea.Msg {
		healthy := db.HealthCheck(ctx, database, lg)
		if !healthy {
			fresh, err := db.EnsureConnection(ctx, database, cfg, lg)
			if err != nil {
				return dbStatusMsg{healthy: false, err: err}
			}
			database = fresh
		}
		stats, err := database.GetStats(ctx)
		return dbStatusMsg{database: database, healthy: err == nil, stats: stats, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Clear error on any keypress
		if m.err != nil {
			m.err = nil
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.snaps)-1 {
				m.selected++
			}
		case "h":
			m.showHistory = !m.showHistory || m.historyTarget != ""
			m.historyTarget = ""
			if m.showHistory {
				return m, m.loadHistory()
			}
		case "v":
			if len(m.snaps) == 0 {
				return m, nil
			}
			target := m.snaps[m.selected].Target
			if m.showHistory && m.historyTarget == target {
				m.showHistory = false
				m.historyTarget = ""
				return m, nil
			}
			m.showHistory = true
			m.historyTarget = target
			return m, m.loadHistory()
		case "c":
			if !m.fromDB && !m.connecting {
				m.connecting = true
				return m, m.connect()
			}
		}
		return m, nil

	case tickMsg:
		m.ticks++
		cmds := []tea.Cmd{tick(m.interval), m.sample()}
		if m.showHistory {
			cmds = append(cmds, m.loadHistory())
		}
		if m.database != nil && m.ticks%dbCheckEvery == 0 {
			cmds = append(cmds, m.checkDatabase())
		}
		return m, tea.Batch(cmds...)

	case snapshotsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.snaps = msg.snaps
		m.sampledAt = msg.at
		if m.selected >= len(m.snaps) {
			m.selected = max(len(m.snaps)-1, 0)
		}
		return m, nil

	case connectedMsg:
		m.connecting = false
		m.connected = int(msg)
		return m, m.sample()

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			m.showHistory = false
			return m, nil
		}
		m.history = msg.records
		return m, nil

	case dbStatusMsg:
		m.dbHealthy = msg.healthy
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if msg.database != nil && msg.database != m.database {
			m.database = msg.database
			m.commands = db.NewCommandRepository(msg.database)
			m.snapshots = db.NewSnapshotRepository(msg.database)
		}
		m.stats = msg.stats
		return m, nil
	}

	return m, nil
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	backend := flag.String("backend", "", "Vehicle backend: sim or mavlink (overrides config)")
	targets := flag.String("targets", "", "Comma-separated vehicle targets (overrides config)")
	fromDB := flag.Bool("from-db", false, "Show the latest stored snapshots instead of connecting")
	retain := flag.Duration("retain", 0, "Delete journal rows older than this on start (0 keeps everything)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *backend != "" {
		cfg.Fleet.Backend = strings.ToLower(*backend)
	}
	if *targets != "" {
		cfg.Fleet.Targets = config.ParseTargets(*targets)
	}
	if *fromDB && !cfg.Database.Enabled {
		log.Fatalf("-from-db requires database.enabled in %s", *configPath)
	}

	logOpts := cfg.Logging.LogOptions()
	logOpts.Stderr = false
	lg := fleetlog.New(logOpts)
	defer lg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer core.Close()

	if *retain > 0 && core.Database != nil {
		if err := core.Database.CleanupOldData(ctx, *retain); err != nil {
			lg.Warn("Journal cleanup failed", "error", err)
		} else {
			lg.Info("Journal cleanup complete", "retain", *retain)
		}
	}

	p := tea.NewProgram(newModel(ctx, core, *fromDB), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
