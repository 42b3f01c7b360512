package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "sitestats/pkg/domain-errors"
)

// SiteVersion is one immutable record of a site's attributes over a bounded
// validity window.
//
// Invariants:
//   - For a given URL at most one version is open (ActiveEndDate == nil)
//   - Versions of the same URL never have overlapping [start, end) intervals
//   - The attributes of an existing version are never modified; the only
//     permitted mutation is setting or shrinking ActiveEndDate when a
//     successor is opened or inserted into its window
//
// Languages and GeoZones are scoped to this exact version. They are NOT
// carried forward implicitly when a new version is opened; the caller picks
// an AssociationsPolicy instead.
type SiteVersion struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	URL               string     `json:"url"`
	Aliases           []string   `json:"aliases"`
	CourseCount       int        `json:"course_count"`
	IsPrivateInstance bool       `json:"is_private_instance"`
	IsGone            bool       `json:"is_gone"`
	ActiveStartDate   time.Time  `json:"active_start_date"`
	ActiveEndDate     *time.Time `json:"active_end_date,omitempty"`
	Languages         []string   `json:"languages"`
	GeoZones          []string   `json:"geo_zones"`
}

// IsOpen reports whether this is the site's current version.
func (v *SiteVersion) IsOpen() bool {
	return v.ActiveEndDate == nil
}

// ActiveOn reports whether the version's validity window covers d. The end
// bound is inclusive here: generated summary days are stamped one second
// before midnight, so a version ending exactly on a day boundary still counts
// for that day.
func (v *SiteVersion) ActiveOn(d time.Time) bool {
	if v.ActiveStartDate.After(d) {
		return false
	}
	return v.ActiveEndDate == nil || !v.ActiveEndDate.Before(d)
}

// CountsTowardSummary reports whether the version participates in daily
// summary statistics. Public sites need at least one course; private
// instances always count; decommissioned sites never do.
func (v *SiteVersion) CountsTowardSummary() bool {
	if v.IsGone {
		return false
	}
	return v.CourseCount > 0 || v.IsPrivateInstance
}

// SiteVersionInput carries the attributes for a new site version.
type SiteVersionInput struct {
	Name              string   `json:"name"`
	URL               string   `json:"url"`
	Aliases           []string `json:"aliases"`
	CourseCount       int      `json:"course_count"`
	IsPrivateInstance bool     `json:"is_private_instance"`
	IsGone            bool     `json:"is_gone"`
	Languages         []string `json:"languages"`
	GeoZones          []string `json:"geo_zones"`
}

// Validate rejects malformed input before any write happens.
func (in *SiteVersionInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name: must not be empty")
	}
	if strings.TrimSpace(in.URL) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "url: must not be empty")
	}
	if in.CourseCount < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "course_count: must not be negative")
	}
	return nil
}

// AssociationsPolicy selects how language/geo-zone associations move onto a
// freshly opened version. The interactive update path replaces them with the
// submitted set; the bulk path copies the prior version's set forward.
type AssociationsPolicy string

const (
	PolicyReplace     AssociationsPolicy = "replace"
	PolicyCopyForward AssociationsPolicy = "copy_forward"
)

// IsValid reports whether the policy is one of the two defined values.
func (p AssociationsPolicy) IsValid() bool {
	return p == PolicyReplace || p == PolicyCopyForward
}

// Language is a globally shared lookup value, keyed by name.
type Language struct {
	Name string `json:"name"`
}

// GeoZone is a globally shared lookup value, keyed by name.
type GeoZone struct {
	Name string `json:"name"`
}
