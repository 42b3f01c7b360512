package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sitestats/internal/sites/models"
	dErrors "sitestats/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query method works
// inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres persists the site registry in PostgreSQL via lib/pq. Aliases are
// kept as a native text array; uniqueness of the open version is enforced by
// a partial unique index rather than application reads.
type Postgres struct {
	db *sql.DB // nil when this instance wraps an open transaction
	q  dbtx
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

func newPostgresTx(tx *sql.Tx) *Postgres {
	return &Postgres{q: tx}
}

// RunInTx runs fn inside one database transaction. Nested calls reuse the
// already-open transaction.
func (p *Postgres) RunInTx(ctx context.Context, fn func(SiteStore) error) error {
	if p.db == nil {
		return fn(p)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(newPostgresTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

const versionColumns = `id, name, url, aliases, course_count, is_private_instance, is_gone, active_start_date, active_end_date`

// --- SiteStore ---

func (p *Postgres) CreateVersion(ctx context.Context, v *models.SiteVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO site_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.Name, v.URL, pq.Array(v.Aliases), v.CourseCount,
		v.IsPrivateInstance, v.IsGone, v.ActiveStartDate, nullableTime(v.ActiveEndDate),
	)
	if err != nil {
		return mapPQError(err, ErrDuplicateVersion, "create site version")
	}
	return nil
}

func (p *Postgres) CloseVersion(ctx context.Context, id uuid.UUID, end time.Time) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE site_versions SET active_end_date = $2 WHERE id = $1`, id, end)
	if err != nil {
		return fmt.Errorf("close site version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close site version: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetVersion(ctx context.Context, id uuid.UUID) (*models.SiteVersion, error) {
	row := p.q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM site_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if err != nil {
		return nil, err
	}
	if err := p.loadAssociations(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *Postgres) FindOpenByURL(ctx context.Context, url string) (*models.SiteVersion, error) {
	row := p.q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM site_versions
		 WHERE url = $1 AND active_end_date IS NULL`, url)
	v, err := scanVersion(row)
	if err != nil {
		return nil, err
	}
	if err := p.loadAssociations(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *Postgres) FindOpenBySuffix(ctx context.Context, suffix string) (*models.SiteVersion, error) {
	// right() keeps the comparison literal; LIKE would let %/_ in the
	// caller-supplied suffix match arbitrary URLs.
	row := p.q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM site_versions
		 WHERE active_end_date IS NULL
		   AND (right(url, length($1)) = $1
		     OR right(url, length($1) + 1) = $1 || '/')
		 ORDER BY url
		 LIMIT 1`, suffix)
	v, err := scanVersion(row)
	if err != nil {
		return nil, err
	}
	if err := p.loadAssociations(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *Postgres) ListVersionsByURL(ctx context.Context, url string) ([]*models.SiteVersion, error) {
	return p.queryVersions(ctx,
		`SELECT `+versionColumns+` FROM site_versions
		 WHERE url = $1 ORDER BY active_start_date`, url)
}

func (p *Postgres) ListOpenVersions(ctx context.Context) ([]*models.SiteVersion, error) {
	return p.queryVersions(ctx,
		`SELECT `+versionColumns+` FROM site_versions
		 WHERE active_end_date IS NULL ORDER BY url, active_start_date`)
}

func (p *Postgres) ListVersions(ctx context.Context) ([]*models.SiteVersion, error) {
	return p.queryVersions(ctx,
		`SELECT `+versionColumns+` FROM site_versions ORDER BY url, active_start_date`)
}

func (p *Postgres) ReplaceAssociations(ctx context.Context, id uuid.UUID, languages, geoZones []string) error {
	return p.RunInTx(ctx, func(s SiteStore) error {
		tx := s.(*Postgres)
		if _, err := tx.GetVersion(ctx, id); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM site_languages WHERE site_version_id = $1`, id); err != nil {
			return fmt.Errorf("clear site languages: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM site_geo_zones WHERE site_version_id = $1`, id); err != nil {
			return fmt.Errorf("clear site geo zones: %w", err)
		}
		for _, l := range languages {
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO site_languages (site_version_id, language) VALUES ($1, $2)`,
				id, l); err != nil {
				return mapPQError(err, ErrUnknownAssociation, "add site language")
			}
		}
		for _, g := range geoZones {
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO site_geo_zones (site_version_id, geo_zone) VALUES ($1, $2)`,
				id, g); err != nil {
				return mapPQError(err, ErrUnknownAssociation, "add site geo zone")
			}
		}
		return nil
	})
}

func (p *Postgres) queryVersions(ctx context.Context, query string, args ...any) ([]*models.SiteVersion, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list site versions: %w", err)
	}
	defer rows.Close()

	var out []*models.SiteVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list site versions: %w", err)
	}
	for _, v := range out {
		if err := p.loadAssociations(ctx, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) loadAssociations(ctx context.Context, v *models.SiteVersion) error {
	languages, err := p.queryNames(ctx,
		`SELECT language FROM site_languages WHERE site_version_id = $1 ORDER BY language`, v.ID)
	if err != nil {
		return fmt.Errorf("load site languages: %w", err)
	}
	geoZones, err := p.queryNames(ctx,
		`SELECT geo_zone FROM site_geo_zones WHERE site_version_id = $1 ORDER BY geo_zone`, v.ID)
	if err != nil {
		return fmt.Errorf("load site geo zones: %w", err)
	}
	v.Languages = languages
	v.GeoZones = geoZones
	return nil
}

// --- LookupStore ---

func (p *Postgres) CreateLanguage(ctx context.Context, name string) error {
	_, err := p.q.ExecContext(ctx, `INSERT INTO languages (name) VALUES ($1)`, name)
	if err != nil {
		return mapPQError(err, ErrDuplicateName, "create language")
	}
	return nil
}

func (p *Postgres) ListLanguages(ctx context.Context) ([]models.Language, error) {
	names, err := p.queryNames(ctx, `SELECT name FROM languages ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	out := make([]models.Language, 0, len(names))
	for _, n := range names {
		out = append(out, models.Language{Name: n})
	}
	return out, nil
}

func (p *Postgres) CreateGeoZone(ctx context.Context, name string) error {
	_, err := p.q.ExecContext(ctx, `INSERT INTO geo_zones (name) VALUES ($1)`, name)
	if err != nil {
		return mapPQError(err, ErrDuplicateName, "create geo zone")
	}
	return nil
}

func (p *Postgres) ListGeoZones(ctx context.Context) ([]models.GeoZone, error) {
	names, err := p.queryNames(ctx, `SELECT name FROM geo_zones ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list geo zones: %w", err)
	}
	out := make([]models.GeoZone, 0, len(names))
	for _, n := range names {
		out = append(out, models.GeoZone{Name: n})
	}
	return out, nil
}

// --- SnapshotStore ---

func (p *Postgres) AppendSnapshots(ctx context.Context, snaps []models.SiteSummarySnapshot) error {
	for _, s := range snaps {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if _, err := p.q.ExecContext(ctx, `
			INSERT INTO site_summary_snapshots (id, ts, num_sites, num_courses, notes)
			VALUES ($1, $2, $3, $4, $5)`,
			s.ID, s.Timestamp, s.NumSites, s.NumCourses, s.Notes,
		); err != nil {
			return fmt.Errorf("append snapshot: %w", err)
		}
	}
	return nil
}

func (p *Postgres) ListSnapshots(ctx context.Context) ([]models.SiteSummarySnapshot, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, ts, num_sites, num_courses, notes
		FROM site_summary_snapshots ORDER BY ts`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.SiteSummarySnapshot
	for rows.Next() {
		var s models.SiteSummarySnapshot
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.NumSites, &s.NumCourses, &s.Notes); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

func (p *Postgres) LatestSnapshot(ctx context.Context) (*models.SiteSummarySnapshot, error) {
	var s models.SiteSummarySnapshot
	err := p.q.QueryRowContext(ctx, `
		SELECT id, ts, num_sites, num_courses, notes
		FROM site_summary_snapshots ORDER BY ts DESC LIMIT 1`,
	).Scan(&s.ID, &s.Timestamp, &s.NumSites, &s.NumCourses, &s.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &s, nil
}

// --- OverCountStore ---

func (p *Postgres) AppendOverCount(ctx context.Context, entry models.OverCountEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if _, err := p.q.ExecContext(ctx, `
		INSERT INTO over_count_entries (id, ts, course_count)
		VALUES ($1, $2, $3)`,
		entry.ID, entry.Timestamp, entry.CourseCount,
	); err != nil {
		return fmt.Errorf("append over count: %w", err)
	}
	return nil
}

func (p *Postgres) LatestOverCountAsOf(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := p.q.QueryRowContext(ctx, `
		SELECT course_count FROM over_count_entries
		WHERE ts <= $1 ORDER BY ts DESC LIMIT 1`, t,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("latest over count: %w", err)
	}
	return count, nil
}

// --- AccessLogStore ---

func (p *Postgres) AddAccessLog(ctx context.Context, agg models.AccessLogAggregate) error {
	if _, err := p.q.ExecContext(ctx, `
		INSERT INTO access_log_aggregates (domain, access_date, access_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain, access_date)
		DO UPDATE SET access_count = access_log_aggregates.access_count + EXCLUDED.access_count`,
		agg.Domain, agg.AccessDate, agg.AccessCount,
	); err != nil {
		return fmt.Errorf("add access log aggregate: %w", err)
	}
	return nil
}

func (p *Postgres) ListAccessLogs(ctx context.Context, start, end *time.Time) ([]models.AccessLogAggregate, error) {
	query := `SELECT domain, access_date, access_count FROM access_log_aggregates`
	var args []any
	switch {
	case start != nil && end != nil:
		query += ` WHERE access_date BETWEEN $1 AND $2`
		args = append(args, *start, *end)
	case start != nil:
		query += ` WHERE access_date >= $1`
		args = append(args, *start)
	case end != nil:
		query += ` WHERE access_date <= $1`
		args = append(args, *end)
	}
	query += ` ORDER BY domain, access_date`

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list access log aggregates: %w", err)
	}
	defer rows.Close()

	var out []models.AccessLogAggregate
	for rows.Next() {
		var agg models.AccessLogAggregate
		if err := rows.Scan(&agg.Domain, &agg.AccessDate, &agg.AccessCount); err != nil {
			return nil, fmt.Errorf("scan access log aggregate: %w", err)
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list access log aggregates: %w", err)
	}
	return out, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.SiteVersion, error) {
	var (
		v       models.SiteVersion
		aliases pq.StringArray
		end     sql.NullTime
	)
	err := row.Scan(&v.ID, &v.Name, &v.URL, &aliases, &v.CourseCount,
		&v.IsPrivateInstance, &v.IsGone, &v.ActiveStartDate, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan site version: %w", err)
	}
	v.Aliases = []string(aliases)
	if end.Valid {
		t := end.Time
		v.ActiveEndDate = &t
	}
	return &v, nil
}

func (p *Postgres) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func mapPQError(err error, onConstraint error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return onConstraint
		case "23503": // foreign_key_violation
			return ErrUnknownAssociation
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
