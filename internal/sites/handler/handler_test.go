package handler_test

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitestats/internal/sites/handler"
	"sitestats/internal/sites/models"
	"sitestats/internal/sites/service"
	"sitestats/internal/sites/store"
	"sitestats/pkg/testutil"
)

func newTestRouter(t *testing.T) (chi.Router, *service.Service) {
	t.Helper()

	st := store.NewMemory()
	svc, err := service.New(st, st)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	handler.New(svc, log).Register(r)
	return r, svc
}

func day(n int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func createSite(t *testing.T, r chi.Router, name, url string, courseCount int, at time.Time) models.SiteVersion {
	t.Helper()

	req := testutil.NewJSONRequest(t, http.MethodPost, "/sites", map[string]any{
		"name":              name,
		"url":               url,
		"course_count":      courseCount,
		"active_start_date": at,
	})
	rr := testutil.DoRequest(r, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var v models.SiteVersion
	testutil.DecodeJSON(t, rr, &v)
	return v
}

func TestCreateSite(t *testing.T) {
	r, _ := newTestRouter(t)

	v := createSite(t, r, "Alpha", "https://alpha.example.org/", 12, day(0))

	assert.Equal(t, "Alpha", v.Name)
	assert.True(t, v.IsOpen())
	assert.True(t, day(0).Equal(v.ActiveStartDate))
}

func TestCreateSiteDefaultsToRequestTime(t *testing.T) {
	r, _ := newTestRouter(t)

	now := day(7).Add(9 * time.Hour)
	req := testutil.NewJSONRequest(t, http.MethodPost, "/sites", map[string]any{
		"name": "Alpha", "url": "https://alpha.example.org/", "course_count": 1,
	})
	rr := testutil.DoRequest(r, testutil.WithRequestTime(req, now))
	require.Equal(t, http.StatusCreated, rr.Code)

	var v models.SiteVersion
	testutil.DecodeJSON(t, rr, &v)
	assert.True(t, now.Equal(v.ActiveStartDate))
}

func TestCreateSiteRejectsBadInput(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("malformed body", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodPost, "/sites")
		req.Body = io.NopCloser(strings.NewReader("{not json"))
		rr := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites", map[string]any{
			"url": "https://alpha.example.org/",
		})
		rr := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		var envelope map[string]string
		testutil.DecodeJSON(t, rr, &envelope)
		assert.Equal(t, "bad_request", envelope["error"])
	})
}

func TestSiteVersionLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	var v1, v2 models.SiteVersion

	testutil.Given(t, "a site with one open version", func(t *testing.T) {
		v1 = createSite(t, r, "Alpha", "https://alpha.example.org/", 5, day(0))
	})

	testutil.When(t, "the open version is updated", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites/"+v1.ID.String(), map[string]any{
			"name":              "Alpha",
			"url":               "https://alpha.example.org/",
			"course_count":      8,
			"active_start_date": day(10),
		})
		rr := testutil.DoRequest(r, req)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		testutil.DecodeJSON(t, rr, &v2)
	})

	testutil.Then(t, "the history shows both versions and the old one is closed", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/sites/"+v2.ID.String()+"/history"))
		require.Equal(t, http.StatusOK, rr.Code)

		var history []models.SiteVersion
		testutil.DecodeJSON(t, rr, &history)
		require.Len(t, history, 2)
		require.NotNil(t, history[0].ActiveEndDate)
		assert.True(t, day(10).Equal(*history[0].ActiveEndDate))
		assert.True(t, history[1].IsOpen())
	})

	testutil.Then(t, "editing the closed version is forbidden", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites/"+v1.ID.String(), map[string]any{
			"name": "Alpha", "url": "https://alpha.example.org/", "course_count": 9,
		})
		rr := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestGetSite(t *testing.T) {
	r, _ := newTestRouter(t)
	v := createSite(t, r, "Alpha", "https://alpha.example.org/", 5, day(0))

	t.Run("found", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/sites/"+v.ID.String()))
		require.Equal(t, http.StatusOK, rr.Code)

		var got models.SiteVersion
		testutil.DecodeJSON(t, rr, &got)
		assert.Equal(t, v.ID, got.ID)
	})

	t.Run("bad id", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/sites/not-a-uuid"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/sites/00000000-0000-0000-0000-000000000001"))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestListSites(t *testing.T) {
	r, _ := newTestRouter(t)
	createSite(t, r, "Alpha", "https://alpha.example.org/", 5, day(0))
	createSite(t, r, "Beta", "https://beta.example.org/", 3, day(0))

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/sites"))
	require.Equal(t, http.StatusOK, rr.Code)

	var sites []models.SiteVersion
	testutil.DecodeJSON(t, rr, &sites)
	require.Len(t, sites, 2)
	assert.Equal(t, "Alpha", sites[0].Name)
}

func TestBulkUpdate(t *testing.T) {
	r, _ := newTestRouter(t)
	createSite(t, r, "Alpha", "https://courses.example.edu/", 5, day(0))

	t.Run("applies and reports misses", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites/bulk_update", models.BulkUpdateRequest{
			Sites: map[string]models.BulkSiteUpdate{
				"courses.example.edu": {CourseCount: 42},
				"missing.example.com": {CourseCount: 2},
			},
		})
		rr := testutil.DoRequest(r, testutil.WithRequestTime(req, day(30)))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp models.BulkUpdateResponse
		testutil.DecodeJSON(t, rr, &resp)
		assert.Equal(t, []string{"courses.example.edu"}, resp.Updated)
		assert.Equal(t, []string{"missing.example.com"}, resp.NotFound)
	})

	t.Run("missing sites field", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites/bulk_update", map[string]any{})
		rr := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestDiscovery(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("empty body means full range", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodPost, "/sites/discovery"))
		require.Equal(t, http.StatusOK, rr.Code)

		var found []models.DiscoveredDomain
		testutil.DecodeJSON(t, rr, &found)
		assert.Empty(t, found)
	})

	t.Run("half a range is rejected", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites/discovery", map[string]any{
			"start_date": "2025-01-01",
		})
		rr := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("malformed date is rejected", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites/discovery", map[string]any{
			"start_date": "01/02/2025", "end_date": "2025-01-05",
		})
		rr := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("inverted range is rejected", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sites/discovery", map[string]any{
			"start_date": "2025-01-05", "end_date": "2025-01-01",
		})
		rr := testutil.DoRequest(r, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestChart(t *testing.T) {
	r, _ := newTestRouter(t)
	createSite(t, r, "Alpha", "https://alpha.example.org/", 5, day(0))

	req := testutil.NewRequest(t, http.MethodPost, "/sites/ot_chart")
	rr := testutil.DoRequest(r, testutil.WithRequestTime(req, day(3)))
	require.Equal(t, http.StatusOK, rr.Code)

	var series []models.SiteSummarySnapshot
	testutil.DecodeJSON(t, rr, &series)
	require.Len(t, series, 4)
	assert.Equal(t, 5, series[0].NumCourses)
}

func TestCSVExport(t *testing.T) {
	r, _ := newTestRouter(t)
	createSite(t, r, "Alpha", "https://alpha.example.org/", 5, day(0))

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/sites/csv"))
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "sites.csv")
	assert.True(t, strings.HasPrefix(rr.Body.String(), "name,url,course_count"))
	assert.Contains(t, rr.Body.String(), "Alpha")
}

func TestLookupEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("add and list languages", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/languages", map[string]string{"name": "English"}))
		require.Equal(t, http.StatusCreated, rr.Code)

		rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/languages"))
		require.Equal(t, http.StatusOK, rr.Code)

		var languages []models.Language
		testutil.DecodeJSON(t, rr, &languages)
		assert.Equal(t, []models.Language{{Name: "English"}}, languages)
	})

	t.Run("duplicate language conflicts", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/languages", map[string]string{"name": "English"}))
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("empty geo zone name is rejected", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/geozones", map[string]string{"name": "  "}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("add and list geo zones", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/geozones", map[string]string{"name": "Europe"}))
		require.Equal(t, http.StatusCreated, rr.Code)

		rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/geozones"))
		require.Equal(t, http.StatusOK, rr.Code)

		var zones []models.GeoZone
		testutil.DecodeJSON(t, rr, &zones)
		assert.Equal(t, []models.GeoZone{{Name: "Europe"}}, zones)
	})
}
