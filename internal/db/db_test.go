package db

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/unklstewy/uav-fleet/pkg/config"
	"github.com/unklstewy/uav-fleet/pkg/fleet"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// TestConnString tests connection string construction.
func TestConnString(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.local",
		Port:     5433,
		Username: "pilot",
		Password: "secret",
		Database: "fleet",
		SSLMode:  "require",
	}

	got := connString(cfg)
	want := "host=db.local port=5433 user=pilot password=secret dbname=fleet sslmode=require"
	if got != want {
		t.Errorf("connString() = %q, want %q", got, want)
	}
}

// TestConnect tests that an unreachable server is reported, not hung on.
func TestConnect(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:         "127.0.0.1",
		Port:         1, // nothing listens here
		Username:     "testuser",
		Password:     "testpass",
		Database:     "testdb",
		SSLMode:      "disable",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := Connect(cfg)
	if err == nil {
		db.Close()
		t.Skip("unexpected database listening on port 1")
	}
	if !strings.Contains(err.Error(), "failed to ping database") {
		t.Errorf("Expected ping failure, got %v", err)
	}
}

func TestReconnectWithRetryGivesUp(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "127.0.0.1", Port: 1, SSLMode: "disable"}

	start := time.Now()
	_, err := ReconnectWithRetry(context.Background(), cfg, 2, 10*time.Millisecond, nil)
	if err == nil {
		t.Skip("unexpected database listening on port 1")
	}
	if time.Since(start) > 15*time.Second {
		t.Errorf("Reconnect took %v", time.Since(start))
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: Connection Refused"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New(`pq: relation "fleet_commands" does not exist`), false},
		{errors.New("pq: duplicate key value"), false},
	}

	for _, tt := range tests {
		if got := isConnectionError(tt.err); got != tt.want {
			t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("Non-connection error returns immediately", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return errors.New("syntax error")
		}, 3, nil)
		if err == nil || calls != 1 {
			t.Errorf("Expected 1 call and an error, got %d calls, err %v", calls, err)
		}
	})

	t.Run("Connection error retried until success", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 2 {
				return errors.New("connection reset by peer")
			}
			return nil
		}, 3, nil)
		if err != nil || calls != 2 {
			t.Errorf("Expected success on call 2, got %d calls, err %v", calls, err)
		}
	})

	t.Run("Cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(ctx, func() error {
			return errors.New("connection refused")
		}, 3, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

func TestDurationMillis(t *testing.T) {
	d := 1500 * time.Microsecond
	if got := durationMillis(d); got != 1.5 {
		t.Errorf("durationMillis(%v) = %v, want 1.5", d, got)
	}
	if got := millisDuration(1.5); got != d {
		t.Errorf("millisDuration(1.5) = %v, want %v", got, d)
	}
}

// TestSnapshotsEqual tests the redundant snapshot filter.
func TestSnapshotsEqual(t *testing.T) {
	base := fleet.Snapshot{
		Index:          0,
		Target:         "sim://vehicle_1",
		Mode:           vehicle.ModeGuided,
		Altitude:       10,
		BatteryVoltage: 12.6,
		GPSFixType:     3,
		Satellites:     8,
		Latitude:       37.7749,
		Longitude:      -122.4194,
		SampledAt:      time.Now(),
	}

	tests := []struct {
		name     string
		modify   func(*fleet.Snapshot)
		expected bool
	}{
		{"Identical", func(s *fleet.Snapshot) {}, true},
		{"Only sample time differs", func(s *fleet.Snapshot) { s.SampledAt = s.SampledAt.Add(time.Minute) }, true},
		{"Sub-centimeter altitude noise", func(s *fleet.Snapshot) { s.Altitude += 0.001 }, true},
		{"Altitude changed", func(s *fleet.Snapshot) { s.Altitude += 0.5 }, false},
		{"Armed changed", func(s *fleet.Snapshot) { s.Armed = true }, false},
		{"Mode changed", func(s *fleet.Snapshot) { s.Mode = vehicle.ModeLand }, false},
		{"Moved", func(s *fleet.Snapshot) { s.Latitude += 0.0001 }, false},
		{"Lost a satellite", func(s *fleet.Snapshot) { s.Satellites-- }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.modify(&other)
			if got := snapshotsEqual(base, other); got != tt.expected {
				t.Errorf("snapshotsEqual() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSnapshotRepositoryChanged(t *testing.T) {
	repo := NewSnapshotRepository(nil)
	a := fleet.Snapshot{Target: "a", Altitude: 1}
	b := fleet.Snapshot{Target: "b", Altitude: 2}

	if got := repo.changed([]fleet.Snapshot{a, b}); len(got) != 2 {
		t.Fatalf("Expected both snapshots new, got %d", len(got))
	}

	repo.last["a"] = a
	b2 := b
	if got := repo.changed([]fleet.Snapshot{a, b2}); len(got) != 1 || got[0].Target != "b" {
		t.Errorf("Expected only b pending, got %+v", got)
	}
}

// testDB connects to the database named by UAV_FLEET_TEST_DB_* or skips.
func testDB(t *testing.T) *DB {
	t.Helper()
	host := os.Getenv("UAV_FLEET_TEST_DB_HOST")
	if host == "" {
		t.Skip("UAV_FLEET_TEST_DB_HOST not set")
	}

	cfg := config.DefaultConfig().Database
	cfg.Host = host
	if p, err := strconv.Atoi(os.Getenv("UAV_FLEET_TEST_DB_PORT")); err == nil {
		cfg.Port = p
	}
	if u := os.Getenv("UAV_FLEET_TEST_DB_USER"); u != "" {
		cfg.Username = u
		cfg.Database = u
	}
	cfg.Password = os.Getenv("UAV_FLEET_TEST_DB_PASSWORD")

	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	return db
}

func TestCommandJournalRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewCommandRepository(db)

	target := "sim://journal-test-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	rec := fleet.CommandRecord{
		Generation: 3,
		Index:      1,
		Target:     target,
		Command:    fleet.CmdTakeoff,
		Args:       "alt=10",
		Succeeded:  false,
		Error:      "vehicle not armed",
		IssuedAt:   time.Now().UTC().Truncate(time.Microsecond),
		Duration:   2 * time.Millisecond,
	}
	if err := repo.RecordCommand(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := repo.CommandsForTarget(ctx, target, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(got))
	}
	if got[0].Command != rec.Command || got[0].Error != rec.Error || got[0].Generation != 3 || !got[0].IssuedAt.Equal(rec.IssuedAt) {
		t.Errorf("Round trip mismatch: got %+v want %+v", got[0], rec)
	}
}
