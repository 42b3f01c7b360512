// Package store persists the versioned site registry. Stores are
// interface-driven to keep the domain logic testable and to allow swapping
// the in-memory implementation for PostgreSQL without rewiring business code.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sitestats/internal/sites/models"
)

// SiteStore holds versioned site records and their per-version associations.
type SiteStore interface {
	// CreateVersion inserts a new version row. It fails with
	// ErrDuplicateVersion when the row would collide with an existing open
	// version for the same URL, or with an existing (url, start) pair;
	// callers must close the old version first.
	CreateVersion(ctx context.Context, v *models.SiteVersion) error

	// CloseVersion sets the end of the version's validity window.
	CloseVersion(ctx context.Context, id uuid.UUID, end time.Time) error

	GetVersion(ctx context.Context, id uuid.UUID) (*models.SiteVersion, error)
	FindOpenByURL(ctx context.Context, url string) (*models.SiteVersion, error)

	// FindOpenBySuffix matches open versions whose URL ends with the given
	// suffix, tried both as-is and with a trailing slash.
	FindOpenBySuffix(ctx context.Context, suffix string) (*models.SiteVersion, error)

	// ListVersionsByURL returns all versions of one site ordered by start date.
	ListVersionsByURL(ctx context.Context, url string) ([]*models.SiteVersion, error)

	ListOpenVersions(ctx context.Context) ([]*models.SiteVersion, error)
	ListVersions(ctx context.Context) ([]*models.SiteVersion, error)

	// ReplaceAssociations swaps the language/geo-zone sets of one version.
	// Every name must exist in the lookup tables.
	ReplaceAssociations(ctx context.Context, id uuid.UUID, languages, geoZones []string) error
}

// LookupStore manages the shared Language and GeoZone lookup tables.
type LookupStore interface {
	CreateLanguage(ctx context.Context, name string) error
	ListLanguages(ctx context.Context) ([]models.Language, error)
	CreateGeoZone(ctx context.Context, name string) error
	ListGeoZones(ctx context.Context) ([]models.GeoZone, error)
}

// SnapshotStore persists the summary time series.
type SnapshotStore interface {
	AppendSnapshots(ctx context.Context, snaps []models.SiteSummarySnapshot) error
	// ListSnapshots returns the full series ordered by timestamp.
	ListSnapshots(ctx context.Context) ([]models.SiteSummarySnapshot, error)
	// LatestSnapshot returns ErrNotFound when the series is empty.
	LatestSnapshot(ctx context.Context) (*models.SiteSummarySnapshot, error)
}

// OverCountStore is the append-only overcount ledger.
type OverCountStore interface {
	AppendOverCount(ctx context.Context, entry models.OverCountEntry) error
	// LatestOverCountAsOf returns the most recent entry at or before t, or
	// ErrNotFound when the ledger has no entry by then.
	LatestOverCountAsOf(ctx context.Context, t time.Time) (int, error)
}

// AccessLogStore holds the externally produced per-day, per-domain access
// counts. Add sums into an existing (domain, date) row.
type AccessLogStore interface {
	AddAccessLog(ctx context.Context, agg models.AccessLogAggregate) error
	// ListAccessLogs optionally restricts to [start, end] by access date.
	ListAccessLogs(ctx context.Context, start, end *time.Time) ([]models.AccessLogAggregate, error)
}

// Store is the full persistence surface of the sites vertical.
type Store interface {
	SiteStore
	LookupStore
	SnapshotStore
	OverCountStore
	AccessLogStore
}

// Tx runs fn atomically: either every write fn performs is visible afterward
// or none is. The versioning engine relies on this for its close-then-open
// two-step.
type Tx interface {
	RunInTx(ctx context.Context, fn func(SiteStore) error) error
}
