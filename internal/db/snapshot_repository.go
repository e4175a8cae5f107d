package db

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/unklstewy/uav-fleet/pkg/fleet"
	"github.com/unklstewy/uav-fleet/pkg/vehicle"
)

// SnapshotRepository stores vehicle status history.
type SnapshotRepository struct {
	db *DB

	mu   sync.Mutex
	last map[string]fleet.Snapshot // keyed by target
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{
		db:   db,
		last: make(map[string]fleet.Snapshot),
	}
}

// RecordSnapshots stores snaps in one transaction. A snapshot identical to
// the last one stored for the same target is skipped, so a vehicle parked on
// the ground does not fill the table. Returns the number of rows written.
func (r *SnapshotRepository) RecordSnapshots(ctx context.Context, snaps []fleet.Snapshot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.changed(snaps)
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO status_snapshots (
			vehicle_index, target, armed, mode, altitude_m, target_alt_m,
			battery_v, gps_fix_type, satellites, latitude, longitude,
			heading_deg, sampled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range pending {
		if _, err := stmt.ExecContext(ctx,
			s.Index, s.Target, s.Armed, s.Mode.String(), s.Altitude, s.TargetAltitude,
			s.BatteryVoltage, s.GPSFixType, s.Satellites, s.Latitude, s.Longitude,
			s.HeadingDeg, s.SampledAt.UTC(),
		); err != nil {
			return 0, fmt.Errorf("failed to insert snapshot for %s: %w", s.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshots: %w", err)
	}

	for _, s := range pending {
		r.last[s.Target] = s
	}
	return len(pending), nil
}

// changed returns the snapshots that differ from the last stored one for
// their target. Must be called with mu held.
func (r *SnapshotRepository) changed(snaps []fleet.Snapshot) []fleet.Snapshot {
	var out []fleet.Snapshot
	for _, s := range snaps {
		if prev, ok := r.last[s.Target]; ok && snapshotsEqual(s, prev) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// snapshotsEqual checks if two snapshots describe the same vehicle state,
// ignoring the sample time.
func snapshotsEqual(a, b fleet.Snapshot) bool {
	// 0.000001 degrees is about 0.1 meters
	const positionTolerance = 0.000001
	const valueTolerance = 0.01

	return a.Index == b.Index &&
		a.Armed == b.Armed &&
		a.Mode == b.Mode &&
		a.GPSFixType == b.GPSFixType &&
		a.Satellites == b.Satellites &&
		math.Abs(a.Latitude-b.Latitude) < positionTolerance &&
		math.Abs(a.Longitude-b.Longitude) < positionTolerance &&
		math.Abs(a.Altitude-b.Altitude) < valueTolerance &&
		math.Abs(a.TargetAltitude-b.TargetAltitude) < valueTolerance &&
		math.Abs(a.BatteryVoltage-b.BatteryVoltage) < valueTolerance &&
		math.Abs(a.HeadingDeg-b.HeadingDeg) < valueTolerance
}

// LatestSnapshots returns the newest stored snapshot of every target,
// ordered by vehicle index.
func (r *SnapshotRepository) LatestSnapshots(ctx context.Context) ([]fleet.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT ON (target)
		        vehicle_index, target, armed, mode, altitude_m, target_alt_m,
		        battery_v, gps_fix_type, satellites, latitude, longitude,
		        heading_deg, sampled_at
		 FROM status_snapshots
		 ORDER BY target, sampled_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []fleet.Snapshot
	for rows.Next() {
		var (
			s    fleet.Snapshot
			mode string
		)
		if err := rows.Scan(
			&s.Index, &s.Target, &s.Armed, &mode, &s.Altitude, &s.TargetAltitude,
			&s.BatteryVoltage, &s.GPSFixType, &s.Satellites, &s.Latitude, &s.Longitude,
			&s.HeadingDeg, &s.SampledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Mode = vehicle.Mode(mode)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
