package models

import (
	"time"

	"github.com/google/uuid"
)

// SiteSummarySnapshot is an immutable point-in-time aggregate of the site
// registry. Rows written before versioned tracking existed form an opaque
// prefix of the series and are served verbatim.
type SiteSummarySnapshot struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	NumSites   int       `json:"num_sites"`
	NumCourses int       `json:"num_courses"`
	Notes      string    `json:"notes"`
}

// OverCountEntry is one row of the append-only overcount ledger. Aggregation
// over past dates applies the correction that was current on each day, not
// the newest one.
type OverCountEntry struct {
	ID          uuid.UUID `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	CourseCount int       `json:"course_count"`
}

// AccessLogAggregate is one day's access count for one domain, produced by
// the external log pipeline. This service only reads it during discovery;
// the ingest consumer is the sole writer.
type AccessLogAggregate struct {
	Domain      string    `json:"domain"`
	AccessDate  time.Time `json:"access_date"`
	AccessCount int64     `json:"access_count"`
}

// DiscoveredDomain is one discovery result: a domain seen in traffic logs
// that is not registered as a known site.
type DiscoveredDomain struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}
