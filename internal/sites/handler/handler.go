// Package handler is the thin HTTP layer over the sites service. It decodes
// requests, delegates to the service, and maps domain errors onto the JSON
// error envelope; business rules live in the service package.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sitestats/internal/platform/middleware"
	"sitestats/internal/sites/models"
	"sitestats/internal/sites/service"
	"sitestats/internal/transport/http/shared"
	dErrors "sitestats/pkg/domain-errors"
	"sitestats/pkg/requestcontext"
)

const dateLayout = "2006-01-02"

// Handler handles the site registry endpoints.
type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

// New creates a new sites Handler.
func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register wires the registry routes onto the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sites", func(r chi.Router) {
		r.Get("/", h.handleListSites)
		r.Post("/", h.handleCreateSite)
		r.Post("/bulk_update", h.handleBulkUpdate)
		r.Post("/discovery", h.handleDiscovery)
		r.Post("/ot_chart", h.handleChart)
		r.Get("/csv", h.handleCSV)
		r.Get("/{id}", h.handleGetSite)
		r.Post("/{id}", h.handleUpdateSite)
		r.Get("/{id}/history", h.handleSiteHistory)
	})
	r.Post("/languages", h.handleAddLanguage)
	r.Get("/languages", h.handleListLanguages)
	r.Post("/geozones", h.handleAddGeoZone)
	r.Get("/geozones", h.handleListGeoZones)
}

// siteUpsertRequest is the create/update payload. active_start_date defaults
// to the request time; associations_policy defaults to replace, matching the
// interactive editing path.
type siteUpsertRequest struct {
	models.SiteVersionInput
	ActiveStartDate    *time.Time `json:"active_start_date,omitempty"`
	AssociationsPolicy string     `json:"associations_policy,omitempty"`
}

func (h *Handler) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	h.upsertSite(w, r, nil)
}

func (h *Handler) handleUpdateSite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "id: not a valid version id"))
		return
	}
	h.upsertSite(w, r, &id)
}

func (h *Handler) upsertSite(w http.ResponseWriter, r *http.Request, existingID *uuid.UUID) {
	ctx := r.Context()

	var req siteUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	effective := requestcontext.Now(ctx)
	if req.ActiveStartDate != nil {
		effective = *req.ActiveStartDate
	}
	policy := models.PolicyReplace
	if req.AssociationsPolicy != "" {
		policy = models.AssociationsPolicy(req.AssociationsPolicy)
	}

	version, err := h.svc.UpsertSiteVersion(ctx, existingID, req.SiteVersionInput, effective, policy)
	if err != nil {
		h.logger.WarnContext(ctx, "site upsert rejected",
			"request_id", middleware.GetRequestID(ctx),
			"url", req.URL,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, version)
}

func (h *Handler) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.svc.ListCurrentSites(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, sites)
}

func (h *Handler) handleGetSite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "id: not a valid version id"))
		return
	}
	version, err := h.svc.GetSiteVersion(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, version)
}

func (h *Handler) handleSiteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "id: not a valid version id"))
		return
	}
	history, err := h.svc.SiteHistory(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, history)
}

func (h *Handler) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.BulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Sites == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "sites: required"))
		return
	}

	resp, err := h.svc.BulkUpdate(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "bulk update failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.DiscoveryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	domains, err := h.svc.DiscoverUnknownDomains(ctx, start, end)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if domains == nil {
		domains = []models.DiscoveredDomain{}
	}
	shared.WriteJSON(w, http.StatusOK, domains)
}

func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	series, err := h.svc.ChartSeries(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, series)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	complete := r.URL.Query().Get("complete") != ""

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sites.csv"`)
	if err := h.svc.WriteSitesCSV(r.Context(), w, complete); err != nil {
		h.logger.ErrorContext(r.Context(), "csv export failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
	}
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleAddLanguage(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.svc.AddLanguage(r.Context(), req.Name); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, models.Language{Name: req.Name})
}

func (h *Handler) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	languages, err := h.svc.ListLanguages(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, languages)
}

func (h *Handler) handleAddGeoZone(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.svc.AddGeoZone(r.Context(), req.Name); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, models.GeoZone{Name: req.Name})
}

func (h *Handler) handleListGeoZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.svc.ListGeoZones(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, zones)
}

// parseDateRange validates the optional discovery date filter. Either both
// dates are set or neither is.
func parseDateRange(startRaw, endRaw string) (start, end *time.Time, err error) {
	if startRaw == "" && endRaw == "" {
		return nil, nil, nil
	}
	if startRaw == "" || endRaw == "" {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest,
			"start_date and end_date must be provided together")
	}
	s, perr := time.Parse(dateLayout, startRaw)
	if perr != nil {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "start_date: expected YYYY-MM-DD")
	}
	e, perr := time.Parse(dateLayout, endRaw)
	if perr != nil {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "end_date: expected YYYY-MM-DD")
	}
	if e.Before(s) {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "end_date: must not precede start_date")
	}
	return &s, &e, nil
}
