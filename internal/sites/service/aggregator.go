package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"sitestats/internal/sites/models"
	"sitestats/internal/sites/store"
	dErrors "sitestats/pkg/domain-errors"
	"sitestats/pkg/requestcontext"
)

// autoSummaryNotes marks snapshots synthesized from version history, as
// opposed to the manually recorded legacy rows.
const autoSummaryNotes = "Auto-generated day summary"

// aggregationConcurrency bounds the per-day fan-out. The day computations
// share one immutable in-memory copy of the version table, so they are safe
// to run in parallel.
const aggregationConcurrency = 8

// GenerateDailySummaries computes one summary snapshot per calendar day in
// [since, through). Each snapshot is stamped at the last second of its day so
// a version whose validity ends exactly on a day boundary still counts for
// that day. Nothing is persisted.
func (s *Service) GenerateDailySummaries(ctx context.Context, since, through time.Time) ([]models.SiteSummarySnapshot, error) {
	days := dayEnds(since, through)
	if len(days) == 0 {
		return nil, nil
	}

	// One consistent read of the version table for the whole range.
	versions, err := s.store.ListVersions(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load site versions")
	}

	out := make([]models.SiteSummarySnapshot, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(aggregationConcurrency)
	for i, day := range days {
		g.Go(func() error {
			numSites := 0
			numCourses := 0
			for _, v := range versions {
				if v.CountsTowardSummary() && v.ActiveOn(day) {
					numSites++
					numCourses += v.CourseCount
				}
			}

			// The ledger value current on that day; days before the first
			// entry get no correction.
			overCount, err := s.store.LatestOverCountAsOf(gctx, day)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "load over count")
			}

			out[i] = models.SiteSummarySnapshot{
				Timestamp:  day,
				NumSites:   numSites,
				NumCourses: numCourses - overCount,
				Notes:      autoSummaryNotes,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotSeries returns all persisted snapshot rows verbatim followed by
// freshly generated ones for [since, through). The result is not
// deduplicated: callers re-running this must pass a since strictly after the
// latest persisted day. through == nil defaults to now plus one day so today
// is included. Persisting the generated rows is the caller's decision.
func (s *Service) SnapshotSeries(ctx context.Context, since time.Time, through *time.Time) ([]models.SiteSummarySnapshot, error) {
	persisted, err := s.store.ListSnapshots(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load snapshots")
	}

	end := requestcontext.Now(ctx).Add(24 * time.Hour)
	if through != nil {
		end = *through
	}
	generated, err := s.GenerateDailySummaries(ctx, since, end)
	if err != nil {
		return nil, err
	}
	return append(persisted, generated...), nil
}

// ChartSeries produces the data behind the historical chart: it generates
// summaries for every day since the latest persisted snapshot, persists them,
// and returns the complete series.
func (s *Service) ChartSeries(ctx context.Context) ([]models.SiteSummarySnapshot, error) {
	started := time.Now()

	persisted, err := s.store.ListSnapshots(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load snapshots")
	}

	since, ok, err := s.generationStart(ctx, persisted)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Nothing recorded and nothing deployed: an empty chart.
		return []models.SiteSummarySnapshot{}, nil
	}

	through := requestcontext.Now(ctx).Add(24 * time.Hour)
	generated, err := s.GenerateDailySummaries(ctx, since, through)
	if err != nil {
		return nil, err
	}

	if len(generated) > 0 {
		if err := s.store.AppendSnapshots(ctx, generated); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist snapshots")
		}
	}

	s.metrics.RecordSnapshotsGenerated(len(generated))
	s.metrics.ObserveAggregationDuration(time.Since(started).Seconds())
	s.logger.InfoContext(ctx, "chart series generated",
		"persisted", len(persisted),
		"generated", len(generated),
	)
	return append(persisted, generated...), nil
}

// generationStart picks the first day to synthesize: the day after the latest
// persisted snapshot, or the first version's start day when the series is
// empty. ok is false when there is nothing to chart at all.
func (s *Service) generationStart(ctx context.Context, persisted []models.SiteSummarySnapshot) (time.Time, bool, error) {
	if len(persisted) > 0 {
		latest := persisted[len(persisted)-1]
		for _, snap := range persisted {
			if snap.Timestamp.After(latest.Timestamp) {
				latest = snap
			}
		}
		return startOfDay(latest.Timestamp).Add(24 * time.Hour), true, nil
	}

	versions, err := s.store.ListVersions(ctx)
	if err != nil {
		return time.Time{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "load site versions")
	}
	if len(versions) == 0 {
		return time.Time{}, false, nil
	}
	earliest := versions[0].ActiveStartDate
	for _, v := range versions[1:] {
		if v.ActiveStartDate.Before(earliest) {
			earliest = v.ActiveStartDate
		}
	}
	return startOfDay(earliest), true, nil
}

// dayEnds lists the last second of every calendar day in [since, through).
func dayEnds(since, through time.Time) []time.Time {
	var out []time.Time
	day := startOfDay(since)
	last := startOfDay(through)
	for day.Before(last) {
		out = append(out, day.Add(24*time.Hour-time.Second))
		day = day.Add(24 * time.Hour)
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
