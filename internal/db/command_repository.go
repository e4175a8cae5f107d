package db

import (
	"context"
	"fmt"
	"time"

	"github.com/unklstewy/uav-fleet/pkg/fleet"
)

// CommandRepository stores the command journal. It satisfies fleet.Journal.
type CommandRepository struct {
	db *DB
}

// NewCommandRepository creates a new command repository.
func NewCommandRepository(db *DB) *CommandRepository {
	return &CommandRepository{db: db}
}

var _ fleet.Journal = (*CommandRepository)(nil)

// RecordCommand appends one command record.
func (r *CommandRepository) RecordCommand(ctx context.Context, rec fleet.CommandRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fleet_commands (
			generation, vehicle_index, target, command, args,
			succeeded, error, issued_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		int64(rec.Generation), rec.Index, rec.Target, rec.Command, rec.Args,
		rec.Succeeded, rec.Error, rec.IssuedAt.UTC(), durationMillis(rec.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit records, newest first.
func (r *CommandRepository) RecentCommands(ctx context.Context, limit int) ([]fleet.CommandRecord, error) {
	return r.query(ctx,
		`SELECT generation, vehicle_index, target, command, args,
		        succeeded, error, issued_at, duration_ms
		 FROM fleet_commands
		 ORDER BY issued_at DESC
		 LIMIT $1`,
		limit,
	)
}

// CommandsForTarget returns up to limit records for one vehicle target,
// newest first.
func (r *CommandRepository) CommandsForTarget(ctx context.Context, target string, limit int) ([]fleet.CommandRecord, error) {
	return r.query(ctx,
		`SELECT generation, vehicle_index, target, command, args,
		        succeeded, error, issued_at, duration_ms
		 FROM fleet_commands
		 WHERE target = $1
		 ORDER BY issued_at DESC
		 LIMIT $2`,
		target, limit,
	)
}

func (r *CommandRepository) query(ctx context.Context, query string, args ...any) ([]fleet.CommandRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var out []fleet.CommandRecord
	for rows.Next() {
		var (
			rec   fleet.CommandRecord
			gen   int64
			durMs float64
		)
		if err := rows.Scan(
			&gen, &rec.Index, &rec.Target, &rec.Command, &rec.Args,
			&rec.Succeeded, &rec.Error, &rec.IssuedAt, &durMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		rec.Generation = uint64(gen)
		rec.Duration = millisDuration(durMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commands: %w", err)
	}
	return out, nil
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func millisDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
