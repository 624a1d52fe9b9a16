package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema DDL. EnsureSchema applies it idempotently at startup; there is no
// migration tooling, additive changes append guarded statements here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS raw_vehicles (
		id             BIGSERIAL PRIMARY KEY,
		vin            TEXT NOT NULL DEFAULT '',
		stock          TEXT NOT NULL DEFAULT '',
		year           TEXT NOT NULL DEFAULT '',
		make           TEXT NOT NULL DEFAULT '',
		model          TEXT NOT NULL DEFAULT '',
		trim           TEXT NOT NULL DEFAULT '',
		price          TEXT NOT NULL DEFAULT '',
		mileage        TEXT NOT NULL DEFAULT '',
		vehicle_type   TEXT NOT NULL DEFAULT '',
		exterior_color TEXT NOT NULL DEFAULT '',
		location       TEXT NOT NULL DEFAULT '',
		vehicle_url    TEXT NOT NULL DEFAULT '',
		import_id      TEXT NOT NULL,
		time_scraped   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS raw_vehicles_vin_idx ON raw_vehicles (vin)`,
	`CREATE INDEX IF NOT EXISTS raw_vehicles_import_idx ON raw_vehicles (import_id)`,

	`CREATE TABLE IF NOT EXISTS vehicles (
		vin               TEXT NOT NULL,
		location_key      TEXT NOT NULL,
		location          TEXT NOT NULL,
		stock             TEXT NOT NULL DEFAULT '',
		year              INT,
		make              TEXT NOT NULL DEFAULT '',
		model             TEXT NOT NULL DEFAULT '',
		trim              TEXT NOT NULL DEFAULT '',
		price             NUMERIC,
		mileage           INT,
		vehicle_type      TEXT NOT NULL DEFAULT 'unknown',
		exterior_color    TEXT NOT NULL DEFAULT '',
		vehicle_url       TEXT NOT NULL DEFAULT '',
		import_id         TEXT NOT NULL,
		time_scraped      TIMESTAMPTZ NOT NULL,
		first_scraped     TIMESTAMPTZ NOT NULL,
		last_scraped      TIMESTAMPTZ NOT NULL,
		scrape_count      INT NOT NULL DEFAULT 1,
		price_formatted   TEXT NOT NULL DEFAULT 'N/A',
		mileage_formatted TEXT NOT NULL DEFAULT 'N/A',
		incomplete        BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (vin, location_key)
	)`,
	`CREATE INDEX IF NOT EXISTS vehicles_location_idx ON vehicles (location_key, import_id)`,

	`CREATE TABLE IF NOT EXISTS vin_log (
		id             BIGSERIAL PRIMARY KEY,
		dealership_key TEXT NOT NULL,
		dealership     TEXT NOT NULL,
		vin            TEXT NOT NULL,
		order_number   TEXT NOT NULL DEFAULT '',
		processed_date TIMESTAMPTZ NOT NULL,
		order_date     DATE NOT NULL,
		order_type     TEXT NOT NULL,
		vehicle_type   TEXT NOT NULL DEFAULT 'unknown',
		UNIQUE (dealership_key, vin, order_date)
	)`,
	`CREATE INDEX IF NOT EXISTS vin_log_vin_idx ON vin_log (vin)`,

	`CREATE TABLE IF NOT EXISTS import_manifests (
		import_id         TEXT PRIMARY KEY,
		import_date       TIMESTAMPTZ NOT NULL,
		source            TEXT NOT NULL,
		file_name         TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'pending',
		vehicle_count     INT NOT NULL DEFAULT 0,
		dealership_counts JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	// At most one active manifest, enforced by the database.
	`CREATE UNIQUE INDEX IF NOT EXISTS import_manifests_single_active
		ON import_manifests (status) WHERE status = 'active'`,

	`CREATE TABLE IF NOT EXISTS dealerships (
		name_key  TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		config    JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,

	`CREATE TABLE IF NOT EXISTS order_runs (
		run_id        TEXT PRIMARY KEY,
		dealership    TEXT NOT NULL,
		mode          TEXT NOT NULL,
		template_type TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL,
		vehicle_count INT NOT NULL DEFAULT 0,
		row_count     INT NOT NULL DEFAULT 0,
		csv_path      TEXT NOT NULL DEFAULT '',
		qr_dir        TEXT NOT NULL DEFAULT '',
		remediation   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS order_runs_dealership_idx ON order_runs (dealership, created_at DESC)`,
}

// EnsureSchema creates all tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
