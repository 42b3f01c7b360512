package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"sitestats/internal/sites/models"
	"sitestats/internal/sites/store"
	dErrors "sitestats/pkg/domain-errors"
)

// AddLanguage registers a new language in the shared lookup table.
func (s *Service) AddLanguage(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name: must not be empty")
	}
	if err := s.store.CreateLanguage(ctx, name); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return dErrors.Newf(dErrors.CodeConflict, "name: language %q already exists", name)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "create language")
	}
	return nil
}

// ListLanguages returns all registered languages.
func (s *Service) ListLanguages(ctx context.Context) ([]models.Language, error) {
	out, err := s.store.ListLanguages(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list languages")
	}
	return out, nil
}

// AddGeoZone registers a new geographic zone in the shared lookup table.
func (s *Service) AddGeoZone(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name: must not be empty")
	}
	if err := s.store.CreateGeoZone(ctx, name); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return dErrors.Newf(dErrors.CodeConflict, "name: geo zone %q already exists", name)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "create geo zone")
	}
	return nil
}

// ListGeoZones returns all registered geographic zones.
func (s *Service) ListGeoZones(ctx context.Context) ([]models.GeoZone, error) {
	out, err := s.store.ListGeoZones(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list geo zones")
	}
	return out, nil
}

// ListCurrentSites returns every open site version.
func (s *Service) ListCurrentSites(ctx context.Context) ([]*models.SiteVersion, error) {
	out, err := s.store.ListOpenVersions(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list open site versions")
	}
	return out, nil
}

// GetSiteVersion returns one version with its associations.
func (s *Service) GetSiteVersion(ctx context.Context, id uuid.UUID) (*models.SiteVersion, error) {
	v, err := s.store.GetVersion(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "site version not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load site version")
	}
	return v, nil
}

// SiteHistory returns every version of the site the given version belongs
// to, ordered by start date.
func (s *Service) SiteHistory(ctx context.Context, id uuid.UUID) ([]*models.SiteVersion, error) {
	v, err := s.GetSiteVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListVersionsByURL(ctx, v.URL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load site history")
	}
	return history, nil
}
