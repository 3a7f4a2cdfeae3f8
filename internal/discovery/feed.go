package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// commonFeedPaths are well-known feed locations probed on the source host.
var commonFeedPaths = []string{
	"/feed",
	"/rss",
	"/feed.xml",
	"/rss.xml",
	"/atom.xml",
	"/index.xml",
}

// FeedMethod discovers candidate links by probing RSS/Atom feeds on the
// source host. Conditional GET headers from source metadata avoid
// re-processing unchanged feeds.
type FeedMethod struct {
	fetcher HTTPFetcher
	parser  *gofeed.Parser
}

// NewFeedMethod creates the RSS discovery method.
func NewFeedMethod(fetcher HTTPFetcher) *FeedMethod {
	return &FeedMethod{
		fetcher: fetcher,
		parser:  gofeed.NewParser(),
	}
}

// Name returns the method identifier.
func (m *FeedMethod) Name() string { return domain.MethodRSSFeed }

// Discover probes the common feed paths on the source host in order. The
// first parseable feed wins; a 304 counts as success with no new links.
func (m *FeedMethod) Discover(ctx context.Context, source *domain.Source, meta domain.SourceMeta) ([]string, AttemptResult) {
	var lastResult AttemptResult

	for _, path := range commonFeedPaths {
		feedURL := "https://" + source.Host + path

		links, result := m.tryFeedURL(ctx, feedURL, meta)
		switch result.Status {
		case domain.DiscoveryStatusSuccess:
			return links, result
		case domain.DiscoveryStatusNoFeed:
			// Keep probing the remaining paths.
			lastResult = result
		default:
			// Network, server, or bot-protection failures abort the probe:
			// hammering more paths on a struggling host helps nobody.
			return nil, result
		}
	}

	if lastResult.Status == "" {
		lastResult = AttemptResult{Status: domain.DiscoveryStatusNoFeed, StatusCode: http.StatusNotFound}
	}

	return nil, lastResult
}

// tryFeedURL fetches and parses one candidate feed URL.
func (m *FeedMethod) tryFeedURL(
	ctx context.Context,
	feedURL string,
	meta domain.SourceMeta,
) ([]string, AttemptResult) {
	resp, fetchErr := m.fetcher.Fetch(ctx, feedURL, meta.FeedETag, meta.FeedLastModified)
	if fetchErr != nil {
		return nil, classifyFetchError(fetchErr)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, AttemptResult{
			Status:     domain.DiscoveryStatusSuccess,
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusOK:
		links, parseErr := m.parseFeed(resp.Body)
		if parseErr != nil {
			return nil, AttemptResult{
				Status:     domain.DiscoveryStatusParseError,
				StatusCode: resp.StatusCode,
			}
		}
		return links, AttemptResult{
			Status:       domain.DiscoveryStatusSuccess,
			StatusCode:   resp.StatusCode,
			ETag:         resp.ETag,
			LastModified: resp.LastModified,
		}
	default:
		return nil, classifyFeedStatus(resp.StatusCode)
	}
}

// parseFeed extracts item links from a feed body.
func (m *FeedMethod) parseFeed(body string) ([]string, error) {
	feed, err := m.parser.ParseString(body)
	if err != nil {
		return nil, err
	}

	links := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" && strings.HasPrefix(item.GUID, "http") {
			link = item.GUID
		}
		if link != "" {
			links = append(links, link)
		}
	}

	return links, nil
}

// classifyFeedStatus maps a non-200 feed response to an attempt result.
func classifyFeedStatus(statusCode int) AttemptResult {
	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return AttemptResult{Status: domain.DiscoveryStatusNoFeed, StatusCode: statusCode}
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusForbidden:
		return AttemptResult{Status: domain.DiscoveryStatusBlocked, StatusCode: statusCode}
	case statusCode >= 500:
		return AttemptResult{Status: domain.DiscoveryStatusServerError, StatusCode: statusCode}
	default:
		return AttemptResult{Status: domain.DiscoveryStatusNoFeed, StatusCode: statusCode}
	}
}

// classifyFetchError distinguishes timeouts from other network failures.
func classifyFetchError(err error) AttemptResult {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return AttemptResult{Status: domain.DiscoveryStatusTimeout}
	}
	return AttemptResult{Status: domain.DiscoveryStatusConnectionError}
}
