package service

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	dErrors "sitestats/pkg/domain-errors"
)

// WriteSitesCSV streams the current (open) site versions as CSV. By default
// decommissioned sites are skipped; complete includes them and adds the
// is_private_instance and is_gone columns.
func (s *Service) WriteSitesCSV(ctx context.Context, w io.Writer, complete bool) error {
	versions, err := s.store.ListOpenVersions(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load open site versions")
	}

	header := []string{"name", "url", "course_count"}
	if complete {
		header = append(header, "is_private_instance", "is_gone")
	}
	header = append(header, "languages", "geographies", "updated")

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "write csv header")
	}
	for _, v := range versions {
		if !complete && v.IsGone {
			continue
		}
		row := []string{v.Name, v.URL, strconv.Itoa(v.CourseCount)}
		if complete {
			row = append(row,
				strconv.FormatBool(v.IsPrivateInstance),
				strconv.FormatBool(v.IsGone))
		}
		row = append(row,
			strings.Join(v.Languages, ", "),
			strings.Join(v.GeoZones, ", "),
			v.ActiveStartDate.Truncate(time.Second).Format("2006-01-02 15:04:05"))
		if err := cw.Write(row); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "flush csv")
	}
	return nil
}
