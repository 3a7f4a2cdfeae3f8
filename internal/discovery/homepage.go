package discovery

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// articleScoreThreshold is the minimum URL-shape score for an anchor to be
// predicted an article.
const articleScoreThreshold = 2

// datePathPattern matches /2024/05/17/ style date segments.
var datePathPattern = regexp.MustCompile(`/20\d{2}/\d{1,2}(/\d{1,2})?/`)

// slugPattern matches hyphenated word slugs of at least three words.
var slugPattern = regexp.MustCompile(`[a-z0-9]+(-[a-z0-9]+){2,}`)

// trailingIDPattern matches numeric article IDs at the end of a path.
var trailingIDPattern = regexp.MustCompile(`[-/_]\d{4,}/?$`)

// sectionPrefixes are path prefixes that usually lead to articles.
var sectionPrefixes = []string{
	"/news/", "/article/", "/articles/", "/story/", "/stories/",
	"/local/", "/politics/", "/business/", "/sports/", "/opinion/",
}

// nonArticlePrefixes are path prefixes that never lead to articles.
var nonArticlePrefixes = []string{
	"/tag/", "/tags/", "/category/", "/author/", "/about", "/contact",
	"/subscribe", "/login", "/signup", "/search", "/events/", "/obituaries",
	"/classifieds", "/jobs", "/weather", "/privacy", "/terms",
}

// URLShapeScorer predicts article-ness from the shape of a URL. It stands in
// for the trained classifier at this boundary; the scoring features mirror
// what that model keys on.
type URLShapeScorer struct{}

// NewURLShapeScorer creates a URL shape scorer.
func NewURLShapeScorer() *URLShapeScorer {
	return &URLShapeScorer{}
}

// IsArticle reports whether the URL's shape predicts an article on the
// given host.
func (s *URLShapeScorer) IsArticle(rawURL, host string) bool {
	return s.Score(rawURL, host) >= articleScoreThreshold
}

// Score returns the article-ness score for a URL. Negative scores mean the
// URL is confidently not an article.
func (s *URLShapeScorer) Score(rawURL, host string) int {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return -1
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname != host && hostname != "www."+host {
		return -1
	}

	path := strings.ToLower(parsed.EscapedPath())
	for _, prefix := range nonArticlePrefixes {
		if strings.HasPrefix(path, prefix) {
			return -1
		}
	}
	if path == "" || path == "/" {
		return -1
	}

	score := 0
	if datePathPattern.MatchString(path) {
		score += 2
	}
	if slugPattern.MatchString(path) {
		score++
	}
	if trailingIDPattern.MatchString(path) {
		score++
	}
	for _, prefix := range sectionPrefixes {
		if strings.HasPrefix(path, prefix) {
			score++
			break
		}
	}
	if strings.Count(strings.Trim(path, "/"), "/") >= 1 {
		score++
	}

	return score
}

// HomepageMethod discovers candidate links by fetching the source homepage
// and feeding every anchor through the URL-shape scorer.
type HomepageMethod struct {
	fetcher HTTPFetcher
	scorer  *URLShapeScorer
}

// NewHomepageMethod creates the homepage-classifier discovery method.
func NewHomepageMethod(fetcher HTTPFetcher) *HomepageMethod {
	return &HomepageMethod{
		fetcher: fetcher,
		scorer:  NewURLShapeScorer(),
	}
}

// Name returns the method identifier.
func (m *HomepageMethod) Name() string { return domain.MethodHomepageClassifier }

// Discover fetches the homepage and keeps anchors predicted to be articles.
func (m *HomepageMethod) Discover(ctx context.Context, source *domain.Source, _ domain.SourceMeta) ([]string, AttemptResult) {
	homepageURL := "https://" + source.Host + "/"

	resp, fetchErr := m.fetcher.Fetch(ctx, homepageURL, "", "")
	if fetchErr != nil {
		return nil, classifyFetchError(fetchErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return nil, AttemptResult{Status: domain.DiscoveryStatusBlocked, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, AttemptResult{Status: domain.DiscoveryStatusServerError, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, AttemptResult{Status: domain.DiscoveryStatusConnectionError, StatusCode: resp.StatusCode}
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if parseErr != nil {
		return nil, AttemptResult{Status: domain.DiscoveryStatusParseError, StatusCode: resp.StatusCode}
	}

	base, baseErr := url.Parse(homepageURL)
	if baseErr != nil {
		return nil, AttemptResult{Status: domain.DiscoveryStatusParseError, StatusCode: resp.StatusCode}
	}

	seen := map[string]struct{}{}
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}

		ref, refErr := url.Parse(strings.TrimSpace(href))
		if refErr != nil {
			return
		}
		absolute := base.ResolveReference(ref).String()

		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}

		if m.scorer.IsArticle(absolute, source.Host) {
			links = append(links, absolute)
		}
	})

	return links, AttemptResult{
		Status:     domain.DiscoveryStatusSuccess,
		StatusCode: resp.StatusCode,
	}
}
