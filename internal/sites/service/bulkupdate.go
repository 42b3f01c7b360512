package service

import (
	"context"
	"errors"
	"sort"

	"sitestats/internal/sites/models"
	"sitestats/internal/sites/store"
	dErrors "sitestats/pkg/domain-errors"
	"sitestats/pkg/requestcontext"
)

// BulkUpdate applies a scraped batch of course counts to the registry. Each
// entry addresses the unique open version whose URL ends with the given
// suffix; entries with no match are collected as not-found instead of
// failing the batch. Every applied entry closes the current version "now"
// and opens a successor that copies the prior associations forward.
func (s *Service) BulkUpdate(ctx context.Context, req models.BulkUpdateRequest) (*models.BulkUpdateResponse, error) {
	now := requestcontext.Now(ctx)

	resp := &models.BulkUpdateResponse{
		Updated:  []string{},
		NotFound: []string{},
	}

	// Deterministic application order keeps logs and retries comparable.
	suffixes := make([]string, 0, len(req.Sites))
	for suffix := range req.Sites {
		suffixes = append(suffixes, suffix)
	}
	sort.Strings(suffixes)

	for _, suffix := range suffixes {
		update := req.Sites[suffix]

		current, err := s.store.FindOpenBySuffix(ctx, suffix)
		if errors.Is(err, store.ErrNotFound) {
			resp.NotFound = append(resp.NotFound, suffix)
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find site by suffix")
		}

		input := models.SiteVersionInput{
			Name:              current.Name,
			URL:               current.URL,
			Aliases:           current.Aliases,
			CourseCount:       update.CourseCount,
			IsPrivateInstance: current.IsPrivateInstance,
			IsGone:            update.IsGone,
		}
		if _, err := s.UpsertSiteVersion(ctx, &current.ID, input, now, models.PolicyCopyForward); err != nil {
			// Storage failures abort the batch; the items already applied
			// each committed in their own transaction.
			return nil, err
		}
		resp.Updated = append(resp.Updated, suffix)
	}

	if req.OverCount != nil {
		entry := models.OverCountEntry{Timestamp: now, CourseCount: *req.OverCount}
		if err := s.store.AppendOverCount(ctx, entry); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record over count")
		}
		resp.UpdatedOverCount = true
	}

	s.metrics.RecordBulkOutcome(len(resp.Updated), len(resp.NotFound))
	s.logger.InfoContext(ctx, "bulk update applied",
		"updated", len(resp.Updated),
		"not_found", len(resp.NotFound),
		"over_count", resp.UpdatedOverCount,
	)
	return resp, nil
}
