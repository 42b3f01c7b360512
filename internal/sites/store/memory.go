package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitestats/internal/sites/models"
)

// Memory is the in-memory Store. It intentionally favors clarity over
// performance: it is the development default and the standard test double.
type Memory struct {
	mu         sync.RWMutex
	versions   map[uuid.UUID]*models.SiteVersion
	languages  map[string]struct{}
	geoZones   map[string]struct{}
	snapshots  []models.SiteSummarySnapshot
	overCounts []models.OverCountEntry
	accessLogs map[accessKey]int64
}

type accessKey struct {
	domain string
	date   string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		versions:   make(map[uuid.UUID]*models.SiteVersion),
		languages:  make(map[string]struct{}),
		geoZones:   make(map[string]struct{}),
		accessLogs: make(map[accessKey]int64),
	}
}

// RunInTx serializes writers and provides rollback: the version table is
// snapshotted up front and restored when fn fails.
func (m *Memory) RunInTx(_ context.Context, fn func(SiteStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := make(map[uuid.UUID]*models.SiteVersion, len(m.versions))
	for id, v := range m.versions {
		backup[id] = cloneVersion(v)
	}

	if err := fn(&memoryTx{m: m}); err != nil {
		m.versions = backup
		return err
	}
	return nil
}

// memoryTx exposes the unlocked site operations to RunInTx callbacks while
// the outer lock is held.
type memoryTx struct {
	m *Memory
}

func (t *memoryTx) CreateVersion(_ context.Context, v *models.SiteVersion) error {
	return t.m.createVersionLocked(v)
}

func (t *memoryTx) CloseVersion(_ context.Context, id uuid.UUID, end time.Time) error {
	return t.m.closeVersionLocked(id, end)
}

func (t *memoryTx) GetVersion(_ context.Context, id uuid.UUID) (*models.SiteVersion, error) {
	return t.m.getVersionLocked(id)
}

func (t *memoryTx) FindOpenByURL(_ context.Context, url string) (*models.SiteVersion, error) {
	return t.m.findOpenByURLLocked(url)
}

func (t *memoryTx) FindOpenBySuffix(_ context.Context, suffix string) (*models.SiteVersion, error) {
	return t.m.findOpenBySuffixLocked(suffix)
}

func (t *memoryTx) ListVersionsByURL(_ context.Context, url string) ([]*models.SiteVersion, error) {
	return t.m.listVersionsByURLLocked(url)
}

func (t *memoryTx) ListOpenVersions(_ context.Context) ([]*models.SiteVersion, error) {
	return t.m.listOpenVersionsLocked()
}

func (t *memoryTx) ListVersions(_ context.Context) ([]*models.SiteVersion, error) {
	return t.m.listVersionsLocked()
}

func (t *memoryTx) ReplaceAssociations(_ context.Context, id uuid.UUID, languages, geoZones []string) error {
	return t.m.replaceAssociationsLocked(id, languages, geoZones)
}

// --- SiteStore ---

func (m *Memory) CreateVersion(_ context.Context, v *models.SiteVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createVersionLocked(v)
}

func (m *Memory) createVersionLocked(v *models.SiteVersion) error {
	for _, existing := range m.versions {
		if existing.URL != v.URL {
			continue
		}
		if v.ActiveEndDate == nil && existing.ActiveEndDate == nil {
			return ErrDuplicateVersion
		}
		if existing.ActiveStartDate.Equal(v.ActiveStartDate) {
			return ErrDuplicateVersion
		}
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	stored := cloneVersion(v)
	// Associations are created explicitly through ReplaceAssociations.
	stored.Languages = nil
	stored.GeoZones = nil
	m.versions[stored.ID] = stored
	return nil
}

func (m *Memory) CloseVersion(_ context.Context, id uuid.UUID, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeVersionLocked(id, end)
}

func (m *Memory) closeVersionLocked(id uuid.UUID, end time.Time) error {
	v, ok := m.versions[id]
	if !ok {
		return ErrNotFound
	}
	endCopy := end
	v.ActiveEndDate = &endCopy
	return nil
}

func (m *Memory) GetVersion(_ context.Context, id uuid.UUID) (*models.SiteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getVersionLocked(id)
}

func (m *Memory) getVersionLocked(id uuid.UUID) (*models.SiteVersion, error) {
	if v, ok := m.versions[id]; ok {
		return cloneVersion(v), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) FindOpenByURL(_ context.Context, url string) (*models.SiteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOpenByURLLocked(url)
}

func (m *Memory) findOpenByURLLocked(url string) (*models.SiteVersion, error) {
	for _, v := range m.versions {
		if v.URL == url && v.ActiveEndDate == nil {
			return cloneVersion(v), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindOpenBySuffix(_ context.Context, suffix string) (*models.SiteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOpenBySuffixLocked(suffix)
}

func (m *Memory) findOpenBySuffixLocked(suffix string) (*models.SiteVersion, error) {
	var match *models.SiteVersion
	for _, v := range m.versions {
		if v.ActiveEndDate != nil {
			continue
		}
		if !strings.HasSuffix(v.URL, suffix) && !strings.HasSuffix(v.URL, suffix+"/") {
			continue
		}
		// Smallest URL wins so repeated calls are deterministic.
		if match == nil || v.URL < match.URL {
			match = v
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	return cloneVersion(match), nil
}

func (m *Memory) ListVersionsByURL(_ context.Context, url string) ([]*models.SiteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listVersionsByURLLocked(url)
}

func (m *Memory) listVersionsByURLLocked(url string) ([]*models.SiteVersion, error) {
	var out []*models.SiteVersion
	for _, v := range m.versions {
		if v.URL == url {
			out = append(out, cloneVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActiveStartDate.Before(out[j].ActiveStartDate)
	})
	return out, nil
}

func (m *Memory) ListOpenVersions(_ context.Context) ([]*models.SiteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOpenVersionsLocked()
}

func (m *Memory) listOpenVersionsLocked() ([]*models.SiteVersion, error) {
	var out []*models.SiteVersion
	for _, v := range m.versions {
		if v.ActiveEndDate == nil {
			out = append(out, cloneVersion(v))
		}
	}
	sortVersions(out)
	return out, nil
}

func (m *Memory) ListVersions(_ context.Context) ([]*models.SiteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listVersionsLocked()
}

func (m *Memory) listVersionsLocked() ([]*models.SiteVersion, error) {
	out := make([]*models.SiteVersion, 0, len(m.versions))
	for _, v := range m.versions {
		out = append(out, cloneVersion(v))
	}
	sortVersions(out)
	return out, nil
}

func (m *Memory) ReplaceAssociations(_ context.Context, id uuid.UUID, languages, geoZones []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceAssociationsLocked(id, languages, geoZones)
}

func (m *Memory) replaceAssociationsLocked(id uuid.UUID, languages, geoZones []string) error {
	v, ok := m.versions[id]
	if !ok {
		return ErrNotFound
	}
	for _, l := range languages {
		if _, ok := m.languages[l]; !ok {
			return ErrUnknownAssociation
		}
	}
	for _, g := range geoZones {
		if _, ok := m.geoZones[g]; !ok {
			return ErrUnknownAssociation
		}
	}
	v.Languages = append([]string(nil), languages...)
	v.GeoZones = append([]string(nil), geoZones...)
	return nil
}

// --- LookupStore ---

func (m *Memory) CreateLanguage(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.languages[name]; ok {
		return ErrDuplicateName
	}
	m.languages[name] = struct{}{}
	return nil
}

func (m *Memory) ListLanguages(_ context.Context) ([]models.Language, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Language, 0, len(m.languages))
	for name := range m.languages {
		out = append(out, models.Language{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateGeoZone(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geoZones[name]; ok {
		return ErrDuplicateName
	}
	m.geoZones[name] = struct{}{}
	return nil
}

func (m *Memory) ListGeoZones(_ context.Context) ([]models.GeoZone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.GeoZone, 0, len(m.geoZones))
	for name := range m.geoZones {
		out = append(out, models.GeoZone{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- SnapshotStore ---

func (m *Memory) AppendSnapshots(_ context.Context, snaps []models.SiteSummarySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		m.snapshots = append(m.snapshots, s)
	}
	return nil
}

func (m *Memory) ListSnapshots(_ context.Context) ([]models.SiteSummarySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.SiteSummarySnapshot(nil), m.snapshots...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) LatestSnapshot(_ context.Context) (*models.SiteSummarySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return nil, ErrNotFound
	}
	latest := m.snapshots[0]
	for _, s := range m.snapshots[1:] {
		if s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	return &latest, nil
}

// --- OverCountStore ---

func (m *Memory) AppendOverCount(_ context.Context, entry models.OverCountEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.overCounts = append(m.overCounts, entry)
	return nil
}

func (m *Memory) LatestOverCountAsOf(_ context.Context, t time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := false
	var best models.OverCountEntry
	for _, e := range m.overCounts {
		if e.Timestamp.After(t) {
			continue
		}
		if !found || e.Timestamp.After(best.Timestamp) {
			best = e
			found = true
		}
	}
	if !found {
		return 0, ErrNotFound
	}
	return best.CourseCount, nil
}

// --- AccessLogStore ---

func (m *Memory) AddAccessLog(_ context.Context, agg models.AccessLogAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accessKey{domain: agg.Domain, date: agg.AccessDate.Format("2006-01-02")}
	m.accessLogs[key] += agg.AccessCount
	return nil
}

func (m *Memory) ListAccessLogs(_ context.Context, start, end *time.Time) ([]models.AccessLogAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AccessLogAggregate
	for key, count := range m.accessLogs {
		date, err := time.Parse("2006-01-02", key.date)
		if err != nil {
			continue
		}
		if start != nil && date.Before(*start) {
			continue
		}
		if end != nil && date.After(*end) {
			continue
		}
		out = append(out, models.AccessLogAggregate{
			Domain:      key.domain,
			AccessDate:  date,
			AccessCount: count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].AccessDate.Before(out[j].AccessDate)
	})
	return out, nil
}

func cloneVersion(v *models.SiteVersion) *models.SiteVersion {
	c := *v
	c.Aliases = append([]string(nil), v.Aliases...)
	c.Languages = append([]string(nil), v.Languages...)
	c.GeoZones = append([]string(nil), v.GeoZones...)
	if v.ActiveEndDate != nil {
		end := *v.ActiveEndDate
		c.ActiveEndDate = &end
	}
	return &c
}

func sortVersions(vs []*models.SiteVersion) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].URL != vs[j].URL {
			return vs[i].URL < vs[j].URL
		}
		return vs[i].ActiveStartDate.Before(vs[j].ActiveStartDate)
	})
}
