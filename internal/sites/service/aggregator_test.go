package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sitestats/internal/sites/models"
	"sitestats/internal/sites/service"
	"sitestats/internal/sites/store"
	"sitestats/pkg/requestcontext"
)

type AggregatorSuite struct {
	suite.Suite
	store *store.Memory
	svc   *service.Service
	ctx   context.Context
}

func TestAggregatorSuite(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}

func (s *AggregatorSuite) SetupTest() {
	s.store = store.NewMemory()
	svc, err := service.New(s.store, s.store)
	s.Require().NoError(err)
	s.svc = svc
	s.ctx = context.Background()
}

func (s *AggregatorSuite) create(url string, in models.SiteVersionInput, at time.Time) *models.SiteVersion {
	v, err := s.svc.UpsertSiteVersion(s.ctx, nil, in, at, models.PolicyReplace)
	s.Require().NoError(err)
	return v
}

func (s *AggregatorSuite) TestDailySummariesFollowTheTimeline() {
	// One site: 5 courses from day 0, 8 courses from day 10 on.
	v1 := s.create("https://a.example.org/", models.SiteVersionInput{
		Name: "A", URL: "https://a.example.org/", CourseCount: 5,
	}, day(0))
	_, err := s.svc.UpsertSiteVersion(s.ctx, &v1.ID, models.SiteVersionInput{
		Name: "A", URL: "https://a.example.org/", CourseCount: 8,
	}, day(10), models.PolicyReplace)
	s.Require().NoError(err)

	snaps, err := s.svc.GenerateDailySummaries(s.ctx, day(0), day(15))
	s.Require().NoError(err)
	s.Require().Len(snaps, 15)

	for i, snap := range snaps {
		s.Equal(day(i).Add(24*time.Hour-time.Second), snap.Timestamp, "day %d is stamped at its last second", i)
		s.Equal(1, snap.NumSites, "day %d", i)
		if i < 10 {
			s.Equal(5, snap.NumCourses, "day %d uses the old version", i)
		} else {
			s.Equal(8, snap.NumCourses, "day %d uses the new version", i)
		}
	}
}

func (s *AggregatorSuite) TestSummaryFilter() {
	s.create("https://public.example.org/", models.SiteVersionInput{
		Name: "Public", URL: "https://public.example.org/", CourseCount: 5,
	}, day(0))
	s.create("https://empty.example.org/", models.SiteVersionInput{
		Name: "Empty", URL: "https://empty.example.org/", CourseCount: 0,
	}, day(0))
	s.create("https://private.example.org/", models.SiteVersionInput{
		Name: "Private", URL: "https://private.example.org/", CourseCount: 0, IsPrivateInstance: true,
	}, day(0))
	s.create("https://gone.example.org/", models.SiteVersionInput{
		Name: "Gone", URL: "https://gone.example.org/", CourseCount: 7, IsGone: true,
	}, day(0))

	snaps, err := s.svc.GenerateDailySummaries(s.ctx, day(1), day(2))
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)

	// Public with courses and the private instance count; the courseless
	// public site and the decommissioned one do not.
	s.Equal(2, snaps[0].NumSites)
	s.Equal(5, snaps[0].NumCourses)
}

func (s *AggregatorSuite) TestOverCountCorrection() {
	s.create("https://a.example.org/", models.SiteVersionInput{
		Name: "A", URL: "https://a.example.org/", CourseCount: 300,
	}, day(0))
	s.create("https://b.example.org/", models.SiteVersionInput{
		Name: "B", URL: "https://b.example.org/", CourseCount: 200,
	}, day(0))

	// The correction enters the ledger mid-range; earlier days are untouched.
	s.Require().NoError(s.store.AppendOverCount(s.ctx, models.OverCountEntry{
		Timestamp: day(5).Add(12 * time.Hour), CourseCount: 100,
	}))

	snaps, err := s.svc.GenerateDailySummaries(s.ctx, day(0), day(8))
	s.Require().NoError(err)
	s.Require().Len(snaps, 8)

	for i, snap := range snaps {
		if i < 5 {
			s.Equal(500, snap.NumCourses, "day %d predates the ledger", i)
		} else {
			s.Equal(400, snap.NumCourses, "day %d applies the correction", i)
		}
	}
}

func (s *AggregatorSuite) TestDecommissionTakesEffectOnItsDay() {
	v1 := s.create("https://a.example.org/", models.SiteVersionInput{
		Name: "A", URL: "https://a.example.org/", CourseCount: 5, IsGone: false,
	}, day(0))
	// Successor is decommissioned, so only the first version contributes.
	_, err := s.svc.UpsertSiteVersion(s.ctx, &v1.ID, models.SiteVersionInput{
		Name: "A", URL: "https://a.example.org/", CourseCount: 5, IsGone: true,
	}, day(3), models.PolicyReplace)
	s.Require().NoError(err)

	snaps, err := s.svc.GenerateDailySummaries(s.ctx, day(0), day(5))
	s.Require().NoError(err)
	s.Require().Len(snaps, 5)

	s.Equal(1, snaps[2].NumSites, "still active through the end of day 2")
	s.Equal(0, snaps[3].NumSites, "window ended at the day 3 boundary")
}

func (s *AggregatorSuite) TestVersionEndingAtDayEndStillCounts() {
	// An end stamp exactly at the last second of day 2 is inclusive.
	end := day(2).Add(24*time.Hour - time.Second)
	s.Require().NoError(s.store.CreateVersion(s.ctx, &models.SiteVersion{
		Name: "A", URL: "https://a.example.org/", CourseCount: 5,
		ActiveStartDate: day(0), ActiveEndDate: &end,
	}))

	snaps, err := s.svc.GenerateDailySummaries(s.ctx, day(0), day(4))
	s.Require().NoError(err)
	s.Require().Len(snaps, 4)

	s.Equal(1, snaps[2].NumSites)
	s.Equal(0, snaps[3].NumSites)
}

func (s *AggregatorSuite) TestChartSeriesPersistsAndResumes() {
	// Pin the clock so today is day 14.
	ctx := requestcontext.WithTime(s.ctx, day(14).Add(12*time.Hour))

	s.create("https://a.example.org/", models.SiteVersionInput{
		Name: "A", URL: "https://a.example.org/", CourseCount: 5,
	}, day(0))

	series, err := s.svc.ChartSeries(ctx)
	s.Require().NoError(err)
	s.Require().Len(series, 15, "one snapshot per day from the first version through today")

	persisted, err := s.store.ListSnapshots(s.ctx)
	s.Require().NoError(err)
	s.Len(persisted, 15)

	// Re-running with the same clock generates nothing new.
	series, err = s.svc.ChartSeries(ctx)
	s.Require().NoError(err)
	s.Len(series, 15)

	// A day later exactly one snapshot is added.
	later := requestcontext.WithTime(s.ctx, day(15).Add(12*time.Hour))
	series, err = s.svc.ChartSeries(later)
	s.Require().NoError(err)
	s.Len(series, 16)
}

func (s *AggregatorSuite) TestChartSeriesEmptyRegistry() {
	series, err := s.svc.ChartSeries(s.ctx)
	s.Require().NoError(err)
	s.NotNil(series)
	s.Empty(series)
}

func (s *AggregatorSuite) TestSnapshotSeriesKeepsLegacyRows() {
	// A manually recorded legacy row, plus live versions.
	s.Require().NoError(s.store.AppendSnapshots(s.ctx, []models.SiteSummarySnapshot{
		{Timestamp: day(0).Add(10 * time.Hour), NumSites: 99, NumCourses: 1234, Notes: "manual count"},
	}))
	s.create("https://a.example.org/", models.SiteVersionInput{
		Name: "A", URL: "https://a.example.org/", CourseCount: 5,
	}, day(1))

	through := day(3)
	series, err := s.svc.SnapshotSeries(s.ctx, day(1), &through)
	s.Require().NoError(err)
	s.Require().Len(series, 3)

	s.Equal("manual count", series[0].Notes)
	s.Equal(1234, series[0].NumCourses, "legacy rows pass through verbatim")
	s.Equal(5, series[1].NumCourses)
}
