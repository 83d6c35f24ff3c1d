// Package services provides the production implementations of the
// orchestrator's collaborator interfaces: session-driven job discovery and
// LLM-backed document generation.
package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"jobpilot/internal/orch"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/persistence"
	"jobpilot/pkg/session"
)

// ListingExtractor is an optional Driver capability. A production driver
// that can read listings off the current results page implements it; the
// search service degrades to zero results per platform without it.
type ListingExtractor interface {
	ExtractListings(ctx context.Context, platform string, maxResults int) ([]*persistence.JobListing, error)
}

// SearchService discovers listings by driving the shared browser session
// through each platform's search page. All page work runs inside the session
// manager's action queue, so searches never overlap form fills.
type SearchService struct {
	sessions *session.Manager
	logger   *logx.Logger
}

func NewSearchService(sessions *session.Manager) *SearchService {
	return &SearchService{
		sessions: sessions,
		logger:   logx.NewLogger("search"),
	}
}

// Search runs the request against every requested platform and merges the
// results, deduplicating on lowercased title+company.
func (s *SearchService) Search(ctx context.Context, req orch.SearchRequest) ([]*persistence.JobListing, error) {
	seen := make(map[string]bool)
	var merged []*persistence.JobListing

	for _, platform := range req.Platforms {
		listings, err := s.searchPlatform(ctx, platform, req)
		if err != nil {
			return nil, fmt.Errorf("search on %s: %w", platform, err)
		}
		for _, listing := range listings {
			key := strings.ToLower(listing.Title) + "\x00" + strings.ToLower(listing.Company)
			if seen[key] {
				continue
			}
			seen[key] = true
			listing.Platform = platform
			merged = append(merged, listing)
			if req.MaxResults > 0 && len(merged) >= req.MaxResults {
				s.logger.Info("search capped at %d results", req.MaxResults)
				return merged, nil
			}
		}
	}
	return merged, nil
}

func (s *SearchService) searchPlatform(ctx context.Context, platform string, req orch.SearchRequest) ([]*persistence.JobListing, error) {
	target, err := searchURL(platform, req)
	if err != nil {
		return nil, err
	}

	value, err := s.sessions.Perform(ctx, "search:"+platform, func(actionCtx context.Context, drv session.Driver) (any, error) {
		if err := drv.Navigate(actionCtx, target); err != nil {
			return nil, err
		}
		extractor, ok := drv.(ListingExtractor)
		if !ok {
			s.logger.Warn("driver cannot extract listings; %s search returned nothing", platform)
			return []*persistence.JobListing(nil), nil
		}
		return extractor.ExtractListings(actionCtx, platform, req.MaxResults)
	})
	if err != nil {
		return nil, err
	}

	listings, ok := value.([]*persistence.JobListing)
	if !ok {
		return nil, fmt.Errorf("search action for %s returned unexpected result type", platform)
	}
	return listings, nil
}

// searchURL builds the platform's results URL for the first title/location
// pair. Platforms paginate differently; extraction handles the rest.
func searchURL(platform string, req orch.SearchRequest) (string, error) {
	var title, location string
	if len(req.JobTitles) > 0 {
		title = req.JobTitles[0]
	}
	if len(req.Locations) > 0 {
		location = req.Locations[0]
	}

	switch platform {
	case "linkedin":
		q := url.Values{}
		q.Set("keywords", title)
		if location != "" {
			q.Set("location", location)
		}
		if req.RemotePreference == "remote" {
			q.Set("f_WT", "2")
		}
		return "https://www.linkedin.com/jobs/search/?" + q.Encode(), nil
	case "indeed":
		q := url.Values{}
		q.Set("q", title)
		if location != "" {
			q.Set("l", location)
		}
		if req.RemotePreference == "remote" {
			q.Set("sc", "0kf:attr(DSQF7);")
		}
		return "https://www.indeed.com/jobs?" + q.Encode(), nil
	default:
		return "", fmt.Errorf("unknown search platform %q", platform)
	}
}
