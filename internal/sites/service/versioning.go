package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sitestats/internal/sites/models"
	"sitestats/internal/sites/store"
	dErrors "sitestats/pkg/domain-errors"
)

// UpsertSiteVersion applies one versioned update to a site.
//
// Three shapes, mirroring how the registry is edited:
//   - brand-new URL: a single open version starting at effective
//   - existingID set: the targeted version must be open; it closes at
//     effective and a new open version carries the submitted attributes
//   - URL with history, no target: the new version is slotted into the
//     timeline by effective timestamp, either before a later version (the
//     version covering effective shrinks to end there and the new one runs up
//     to the later version's start) or as the new current version (the open
//     one closes at effective)
//
// The close-then-open pair runs in one transaction so the per-URL timeline
// never gains a gap or an overlap.
func (s *Service) UpsertSiteVersion(
	ctx context.Context,
	existingID *uuid.UUID,
	in models.SiteVersionInput,
	effective time.Time,
	policy models.AssociationsPolicy,
) (*models.SiteVersion, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if !policy.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "associations_policy: unknown policy %q", policy)
	}

	unlock := s.urlLocks.lock(in.URL)
	defer unlock()

	newVersion := &models.SiteVersion{
		ID:                uuid.New(),
		Name:              in.Name,
		URL:               in.URL,
		Aliases:           in.Aliases,
		CourseCount:       in.CourseCount,
		IsPrivateInstance: in.IsPrivateInstance,
		IsGone:            in.IsGone,
		ActiveStartDate:   effective,
	}

	if existingID != nil {
		return s.replaceOpenVersion(ctx, *existingID, newVersion, in, effective, policy)
	}
	return s.insertByTimeline(ctx, newVersion, in, effective, policy)
}

// replaceOpenVersion handles the explicit-target path: close the targeted
// open version and open the successor at the same instant.
func (s *Service) replaceOpenVersion(
	ctx context.Context,
	targetID uuid.UUID,
	newVersion *models.SiteVersion,
	in models.SiteVersionInput,
	effective time.Time,
	policy models.AssociationsPolicy,
) (*models.SiteVersion, error) {
	old, err := s.store.GetVersion(ctx, targetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "site version not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load site version")
	}
	// Historical versions are immutable; only the open version may be
	// replaced.
	if !old.IsOpen() {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot edit a closed site version")
	}
	// Closing the target at or before its own start would invert its window.
	if !effective.After(old.ActiveStartDate) {
		return nil, dErrors.New(dErrors.CodeConflict,
			"active_start_date: must be after the open version's start")
	}

	// Moving the site to a different URL must not collide with that URL's
	// open version.
	if in.URL != old.URL {
		if _, err := s.store.FindOpenByURL(ctx, in.URL); err == nil {
			return nil, duplicateOpenVersionError(in.URL)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check open site version")
		}
	}

	languages, geoZones := s.pickAssociations(policy, in, old)

	err = s.tx.RunInTx(ctx, func(st store.SiteStore) error {
		if err := st.CloseVersion(ctx, old.ID, effective); err != nil {
			return err
		}
		if err := st.CreateVersion(ctx, newVersion); err != nil {
			return err
		}
		return st.ReplaceAssociations(ctx, newVersion.ID, languages, geoZones)
	})
	if err != nil {
		return nil, s.translateWriteError(err, in.URL)
	}

	newVersion.Languages = languages
	newVersion.GeoZones = geoZones
	s.metrics.IncrementVersionsCreated()
	s.logger.InfoContext(ctx, "site version replaced",
		"url", in.URL,
		"closed_version", old.ID,
		"new_version", newVersion.ID,
	)
	return newVersion, nil
}

// insertByTimeline handles inserts without an explicit target: new sites,
// and versions slotted into an existing timeline by their effective date.
func (s *Service) insertByTimeline(
	ctx context.Context,
	newVersion *models.SiteVersion,
	in models.SiteVersionInput,
	effective time.Time,
	policy models.AssociationsPolicy,
) (*models.SiteVersion, error) {
	history, err := s.store.ListVersionsByURL(ctx, in.URL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load site history")
	}

	var closing *models.SiteVersion
	if len(history) > 0 {
		// The earliest version starting strictly after the effective date,
		// if any, caps the new version: it is inserted into the past.
		var successor *models.SiteVersion
		for _, v := range history {
			if v.ActiveStartDate.After(effective) {
				successor = v
				break
			}
		}
		if successor != nil {
			end := successor.ActiveStartDate
			newVersion.ActiveEndDate = &end
			// The version whose window still covers the effective date
			// shrinks to end there, so the split leaves the timeline
			// contiguous and overlap-free.
			for _, v := range history {
				if v.ActiveStartDate.After(effective) {
					break
				}
				if v.ActiveEndDate == nil || v.ActiveEndDate.After(effective) {
					closing = v
				}
			}
		} else {
			latest := history[len(history)-1]
			if latest.IsOpen() {
				closing = latest
			} else if effective.Before(*latest.ActiveEndDate) {
				// A closed latest version means the site's timeline already
				// ended; starting inside it would overlap.
				return nil, dErrors.New(dErrors.CodeConflict,
					"active_start_date: overlaps an existing closed version")
			}
		}
	}

	prior := closing
	if prior == nil && len(history) > 0 {
		prior = history[len(history)-1]
	}
	languages, geoZones := s.pickAssociations(policy, in, prior)

	err = s.tx.RunInTx(ctx, func(st store.SiteStore) error {
		if closing != nil {
			if err := st.CloseVersion(ctx, closing.ID, effective); err != nil {
				return err
			}
		}
		if err := st.CreateVersion(ctx, newVersion); err != nil {
			return err
		}
		return st.ReplaceAssociations(ctx, newVersion.ID, languages, geoZones)
	})
	if err != nil {
		return nil, s.translateWriteError(err, in.URL)
	}

	newVersion.Languages = languages
	newVersion.GeoZones = geoZones
	s.metrics.IncrementVersionsCreated()
	s.logger.InfoContext(ctx, "site version created",
		"url", in.URL,
		"new_version", newVersion.ID,
		"open", newVersion.IsOpen(),
	)
	return newVersion, nil
}

// pickAssociations resolves the language/geo-zone set for a new version from
// the explicit policy. prior may be nil for brand-new sites.
func (s *Service) pickAssociations(
	policy models.AssociationsPolicy,
	in models.SiteVersionInput,
	prior *models.SiteVersion,
) (languages, geoZones []string) {
	if policy == models.PolicyCopyForward && prior != nil {
		return prior.Languages, prior.GeoZones
	}
	return in.Languages, in.GeoZones
}

func (s *Service) translateWriteError(err error, url string) error {
	switch {
	case errors.Is(err, store.ErrDuplicateVersion):
		return duplicateOpenVersionError(url)
	case errors.Is(err, store.ErrUnknownAssociation):
		return dErrors.New(dErrors.CodeBadRequest,
			"language/geography: unknown value, add it to the lookup tables first")
	case dErrors.Is(err, dErrors.CodeTimeout):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist site version")
	}
}

func duplicateOpenVersionError(url string) error {
	return dErrors.Newf(dErrors.CodeConflict,
		"url: an open version already exists for %s; close it before adding another", url)
}
