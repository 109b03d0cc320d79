package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the pipeline's tables when they do not exist yet.
// Every statement is idempotent so startup can run it unconditionally.
//
// The partial unique index on open records is load-bearing: it is the
// database-side guarantee behind the at-most-one-open-record invariant when
// multiple instances race on the same user.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS geofence_areas (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			center_latitude DOUBLE PRECISION NOT NULL,
			center_longitude DOUBLE PRECISION NOT NULL,
			radius_meters DOUBLE PRECISION NOT NULL CHECK (radius_meters > 0),
			owner_id UUID NOT NULL,
			owner_email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS location_records (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			area_id UUID NOT NULL,
			area_name TEXT NOT NULL,
			in_latitude DOUBLE PRECISION NOT NULL,
			in_longitude DOUBLE PRECISION NOT NULL,
			in_time TIMESTAMPTZ NOT NULL,
			out_latitude DOUBLE PRECISION,
			out_longitude DOUBLE PRECISION,
			out_time TIMESTAMPTZ,
			disconnected BOOLEAN NOT NULL DEFAULT false,
			switched BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS location_records_open_user
			ON location_records (user_id) WHERE disconnected = false`,
		`CREATE INDEX IF NOT EXISTS location_records_user_in_time
			ON location_records (user_id, in_time DESC)`,
		`CREATE TABLE IF NOT EXISTS membership_edges (
			user_id UUID NOT NULL,
			area_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, area_id)
		)`,
		`CREATE INDEX IF NOT EXISTS membership_edges_area
			ON membership_edges (area_id)`,
		`CREATE TABLE IF NOT EXISTS fraud_events (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			fence_id UUID NOT NULL,
			old_fingerprint TEXT NOT NULL,
			new_fingerprint TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS fraud_events_user
			ON fraud_events (user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
