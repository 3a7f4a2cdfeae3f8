package discovery

import (
	"context"
	"net/http"
	"time"

	colly "github.com/gocolly/colly/v2"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// templateMaxDepth keeps the index-page crawl on the listed pages only.
const templateMaxDepth = 1

// indexPagePaths are the section index pages probed by the template method.
var indexPagePaths = []string{
	"/",
	"/news",
	"/local-news",
	"/latest",
	"/stories",
}

// TemplateMethod discovers candidate links by crawling known index pages
// and collecting anchors whose URL shape matches article patterns.
type TemplateMethod struct {
	userAgent string
	timeout   time.Duration
	scorer    *URLShapeScorer
}

// NewTemplateMethod creates the template-parser discovery method.
func NewTemplateMethod(userAgent string, timeout time.Duration) *TemplateMethod {
	return &TemplateMethod{
		userAgent: userAgent,
		timeout:   timeout,
		scorer:    NewURLShapeScorer(),
	}
}

// Name returns the method identifier.
func (m *TemplateMethod) Name() string { return domain.MethodTemplateParser }

// Discover crawls the source's index pages and keeps anchors that match
// article URL patterns on the source host.
func (m *TemplateMethod) Discover(ctx context.Context, source *domain.Source, _ domain.SourceMeta) ([]string, AttemptResult) {
	collector := colly.NewCollector(
		colly.UserAgent(m.userAgent),
		colly.MaxDepth(templateMaxDepth),
		colly.AllowedDomains(source.Host, "www."+source.Host),
	)
	collector.SetRequestTimeout(m.timeout)

	var (
		links      []string
		seen       = map[string]struct{}{}
		lastStatus int
		lastErr    error
	)

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}

		if m.scorer.IsArticle(href, source.Host) {
			links = append(links, href)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		lastStatus = r.StatusCode
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			lastStatus = r.StatusCode
		}
		lastErr = err
	})

	for _, path := range indexPagePaths {
		select {
		case <-ctx.Done():
			return nil, AttemptResult{Status: domain.DiscoveryStatusTimeout}
		default:
		}
		// Visit errors surface through OnError; a failed section page does
		// not abort the remaining pages.
		_ = collector.Visit("https://" + source.Host + path)
	}
	collector.Wait()

	if len(links) > 0 {
		return links, AttemptResult{
			Status:     domain.DiscoveryStatusSuccess,
			StatusCode: http.StatusOK,
		}
	}

	return nil, m.classifyEmpty(lastStatus, lastErr)
}

// classifyEmpty maps an empty crawl to an attempt status.
func (m *TemplateMethod) classifyEmpty(lastStatus int, lastErr error) AttemptResult {
	switch {
	case lastStatus == http.StatusTooManyRequests || lastStatus == http.StatusForbidden:
		return AttemptResult{Status: domain.DiscoveryStatusBlocked, StatusCode: lastStatus}
	case lastStatus >= 500:
		return AttemptResult{Status: domain.DiscoveryStatusServerError, StatusCode: lastStatus}
	case lastErr != nil:
		return classifyFetchError(lastErr)
	default:
		return AttemptResult{Status: domain.DiscoveryStatusParseError, StatusCode: lastStatus}
	}
}
