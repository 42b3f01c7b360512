package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema statements are idempotent so startup can apply them unconditionally.
// The partial unique index is the write-time guard behind ErrDuplicateVersion:
// it admits at most one open version per URL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS site_versions (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		aliases TEXT[] NOT NULL DEFAULT '{}',
		course_count INTEGER NOT NULL DEFAULT 0,
		is_private_instance BOOLEAN NOT NULL DEFAULT FALSE,
		is_gone BOOLEAN NOT NULL DEFAULT FALSE,
		active_start_date TIMESTAMPTZ NOT NULL,
		active_end_date TIMESTAMPTZ,
		UNIQUE (url, active_start_date)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS site_versions_one_open_per_url
		ON site_versions (url) WHERE active_end_date IS NULL`,
	`CREATE TABLE IF NOT EXISTS languages (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS geo_zones (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS site_languages (
		site_version_id UUID NOT NULL REFERENCES site_versions(id) ON DELETE CASCADE,
		language TEXT NOT NULL REFERENCES languages(name),
		PRIMARY KEY (site_version_id, language)
	)`,
	`CREATE TABLE IF NOT EXISTS site_geo_zones (
		site_version_id UUID NOT NULL REFERENCES site_versions(id) ON DELETE CASCADE,
		geo_zone TEXT NOT NULL REFERENCES geo_zones(name),
		PRIMARY KEY (site_version_id, geo_zone)
	)`,
	`CREATE TABLE IF NOT EXISTS site_summary_snapshots (
		id UUID PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		num_sites INTEGER NOT NULL,
		num_courses INTEGER NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS over_count_entries (
		id UUID PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		course_count INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_log_aggregates (
		domain TEXT NOT NULL,
		access_date DATE NOT NULL,
		access_count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (domain, access_date)
	)`,
}

// EnsureSchema creates all tables and indexes the store needs.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
