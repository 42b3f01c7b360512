package service

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"sitestats/internal/sites/models"
	dErrors "sitestats/pkg/domain-errors"
)

// discoveryCacheKey caches only the unrestricted run; date-ranged queries are
// cheap enough to recompute.
const discoveryCacheKey = "sitestats:discovery:all"

var (
	ipv4Pattern = regexp.MustCompile(`^[0-9]+(?:\.[0-9]+){3}$`)
	portPattern = regexp.MustCompile(`:[0-9]+`)
)

// envPrefixLabels are deployment-environment labels stripped when computing a
// domain's short variant, so staging.example.org matches a known example.org.
var envPrefixLabels = []string{"www", "studio", "staging", "preview", "stage", "cms"}

// DiscoverUnknownDomains cross-references aggregated access-log domains
// against the registry and returns the ones not yet on record, with their
// summed access counts. start/end optionally restrict the log rows by access
// date; both must be set for the range to apply.
func (s *Service) DiscoverUnknownDomains(ctx context.Context, start, end *time.Time) ([]models.DiscoveredDomain, error) {
	cacheable := start == nil && end == nil
	if cacheable && s.cache != nil {
		if raw, err := s.cache.Get(ctx, discoveryCacheKey); err == nil && raw != nil {
			var cached []models.DiscoveredDomain
			if err := json.Unmarshal(raw, &cached); err == nil {
				s.metrics.RecordDiscoveryRun(true)
				return cached, nil
			}
		}
	}

	known, err := s.knownDomains(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := s.store.ListAccessLogs(ctx, start, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load access log aggregates")
	}

	counts := make(map[string]int64)
	for _, row := range logs {
		if excludedDomain(row.Domain) {
			continue
		}
		counts[row.Domain] += row.AccessCount
	}

	result := make([]models.DiscoveredDomain, 0, len(counts))
	for domain, count := range counts {
		host := netloc(domain)
		if _, ok := known[host]; ok {
			continue
		}
		if _, ok := known[shortHost(host)]; ok {
			continue
		}
		result = append(result, models.DiscoveredDomain{Domain: domain, Count: count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Domain < result[j].Domain })

	if cacheable && s.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			if err := s.cache.Set(ctx, discoveryCacheKey, raw, s.cacheTTL); err != nil {
				s.logger.WarnContext(ctx, "discovery cache write failed", "error", err.Error())
			}
		}
	}

	s.metrics.RecordDiscoveryRun(false)
	s.logger.InfoContext(ctx, "discovery run",
		"log_domains", len(counts),
		"unknown", len(result),
	)
	return result, nil
}

// knownDomains collects the normalized hosts of every version's URL and
// aliases. All versions count, not just open ones: a site that once existed
// is not a discovery.
func (s *Service) knownDomains(ctx context.Context) (map[string]struct{}, error) {
	versions, err := s.store.ListVersions(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load site versions")
	}
	known := make(map[string]struct{})
	for _, v := range versions {
		known[netloc(v.URL)] = struct{}{}
		for _, alias := range v.Aliases {
			known[netloc(alias)] = struct{}{}
		}
	}
	return known, nil
}

// excludedDomain filters log rows that can never be discoveries: cloud
// provider hosts, the organization's own domains, blanks, bare IPv4
// literals, and anything carrying an explicit port.
func excludedDomain(domain string) bool {
	switch {
	case domain == "":
		return true
	case strings.HasSuffix(domain, ".amazonaws.com"):
		return true
	case strings.HasSuffix(domain, ".edx.org"):
		return true
	case ipv4Pattern.MatchString(domain):
		return true
	case portPattern.MatchString(domain):
		return true
	}
	return false
}

// netloc returns the normalized domain portion of a URL. Bare domains
// without a scheme pass through as-is; a trailing dot is stripped.
func netloc(raw string) string {
	host := raw
	if strings.Contains(raw, "//") {
		if parsed, err := url.Parse(raw); err == nil {
			host = parsed.Host
		}
	}
	return strings.TrimSuffix(host, ".")
}

// shortHost drops environment-prefix labels from a domain's dot-separated
// segments, so e.g. staging.cms.example.org shortens to example.org.
func shortHost(host string) string {
	parts := strings.Split(host, ".")
	kept := parts[:0]
	for _, part := range parts {
		chaff := false
		for _, label := range envPrefixLabels {
			if part == label {
				chaff = true
				break
			}
		}
		if !chaff {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ".")
}
