package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sitestats/internal/sites/models"
	"sitestats/internal/sites/service"
	"sitestats/internal/sites/store"
)

type DiscoverySuite struct {
	suite.Suite
	store *store.Memory
	svc   *service.Service
	ctx   context.Context
}

func TestDiscoverySuite(t *testing.T) {
	suite.Run(t, new(DiscoverySuite))
}

func (s *DiscoverySuite) SetupTest() {
	s.store = store.NewMemory()
	svc, err := service.New(s.store, s.store)
	s.Require().NoError(err)
	s.svc = svc
	s.ctx = context.Background()
}

func (s *DiscoverySuite) addSite(url string, aliases ...string) {
	_, err := s.svc.UpsertSiteVersion(s.ctx, nil, models.SiteVersionInput{
		Name: "Site " + url, URL: url, Aliases: aliases, CourseCount: 1,
	}, day(0), models.PolicyReplace)
	s.Require().NoError(err)
}

func (s *DiscoverySuite) addLog(domain string, date time.Time, count int64) {
	s.Require().NoError(s.store.AddAccessLog(s.ctx, models.AccessLogAggregate{
		Domain: domain, AccessDate: date, AccessCount: count,
	}))
}

func (s *DiscoverySuite) TestUnknownDomainsOnly() {
	s.addSite("https://example.org/", "alias.example.org")

	s.addLog("example.org", day(1), 100)         // known
	s.addLog("staging.example.org", day(1), 50)  // known via short variant
	s.addLog("www.cms.example.org", day(1), 10)  // known via short variant
	s.addLog("alias.example.org", day(1), 20)    // known alias
	s.addLog("example.org.", day(1), 5)          // trailing dot normalizes to known
	s.addLog("evil.com", day(1), 30)             // unknown
	s.addLog("evil.com", day(2), 12)             // same domain, second day
	s.addLog("another.example.net", day(1), 7)   // unknown

	found, err := s.svc.DiscoverUnknownDomains(s.ctx, nil, nil)
	s.Require().NoError(err)

	s.Equal([]models.DiscoveredDomain{
		{Domain: "another.example.net", Count: 7},
		{Domain: "evil.com", Count: 42},
	}, found)
}

func (s *DiscoverySuite) TestExclusions() {
	s.addLog("ec2-1-2-3-4.compute.amazonaws.com", day(1), 10)
	s.addLog("courses.edx.org", day(1), 10)
	s.addLog("10.0.0.1", day(1), 10)
	s.addLog("host.example.net:8080", day(1), 10)

	found, err := s.svc.DiscoverUnknownDomains(s.ctx, nil, nil)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *DiscoverySuite) TestHistoricalVersionsStayKnown() {
	// A site that was later moved still shields its old domain.
	s.addSite("https://old.example.net/")
	open, err := s.store.FindOpenByURL(s.ctx, "https://old.example.net/")
	s.Require().NoError(err)
	_, err = s.svc.UpsertSiteVersion(s.ctx, &open.ID, models.SiteVersionInput{
		Name: "Moved", URL: "https://new.example.net/", CourseCount: 1,
	}, day(5), models.PolicyReplace)
	s.Require().NoError(err)

	s.addLog("old.example.net", day(6), 10)

	found, err := s.svc.DiscoverUnknownDomains(s.ctx, nil, nil)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *DiscoverySuite) TestDateRangeRestrictsLogs() {
	s.addLog("evil.com", day(1), 30)
	s.addLog("evil.com", day(5), 12)

	start, end := day(4), day(6)
	found, err := s.svc.DiscoverUnknownDomains(s.ctx, &start, &end)
	s.Require().NoError(err)

	s.Require().Len(found, 1)
	s.Equal(int64(12), found[0].Count)
}

// mapCache is an in-process DiscoveryCache double.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (s *DiscoverySuite) TestFullRangeRunsAreCached() {
	cache := newMapCache()
	svc, err := service.New(s.store, s.store, service.WithDiscoveryCache(cache, time.Minute))
	s.Require().NoError(err)

	s.addLog("evil.com", day(1), 30)

	first, err := svc.DiscoverUnknownDomains(s.ctx, nil, nil)
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	s.Equal(1, cache.sets)

	// New rows arrive, but the cached result is served until it expires.
	s.addLog("another.example.net", day(2), 7)

	second, err := svc.DiscoverUnknownDomains(s.ctx, nil, nil)
	s.Require().NoError(err)
	s.Equal(first, second)
	s.Equal(1, cache.sets)

	// Date-ranged queries bypass the cache.
	start, end := day(1), day(3)
	ranged, err := svc.DiscoverUnknownDomains(s.ctx, &start, &end)
	s.Require().NoError(err)
	s.Len(ranged, 2)
	s.Equal(1, cache.sets)
}
