package models

// BulkSiteUpdate is the per-site payload of a bulk update: the refreshed
// course count and whether the site has been decommissioned.
type BulkSiteUpdate struct {
	CourseCount int  `json:"course_count"`
	IsGone      bool `json:"is_gone"`
}

// BulkUpdateRequest maps site URL suffixes to their updates. OverCount, when
// present, appends a new entry to the overcount ledger.
type BulkUpdateRequest struct {
	Sites     map[string]BulkSiteUpdate `json:"sites"`
	OverCount *int                      `json:"overcount,omitempty"`
}

// BulkUpdateResponse reports per-item outcomes. NotFound entries are
// non-fatal; the rest of the batch still applies.
type BulkUpdateResponse struct {
	Updated          []string `json:"updated"`
	NotFound         []string `json:"not_found"`
	UpdatedOverCount bool     `json:"updated_over_count"`
}

// DiscoveryRequest optionally restricts discovery to a date range. Dates use
// the 2006-01-02 layout; both must be set for the range to apply.
type DiscoveryRequest struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}
