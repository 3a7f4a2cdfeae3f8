package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/newspipe/internal/domain"
)

const (
	maxBodyBytes = 10 << 20

	// minArticleTextLength rejects parses that only found navigation chrome.
	minArticleTextLength = 200
)

// publishedAtFormats are tried in order when parsing date metadata.
var publishedAtFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// contentSelectors are checked in order for the article body container.
var contentSelectors = []string{
	"article",
	"[itemprop=articleBody]",
	".article-body",
	".story-body",
	".entry-content",
	".post-content",
	"main",
}

// stripSelectors are removed from the body container before text is pulled.
var stripSelectors = []string{
	"script", "style", "nav", "header", "footer", "aside",
	"figure", ".ad", ".advertisement", ".related", ".share", ".comments",
}

// ContentParser pulls title, body text, authors, and publish date out of an
// HTML document.
type ContentParser struct{}

// NewContentParser creates a content parser.
func NewContentParser() *ContentParser {
	return &ContentParser{}
}

// Parse extracts article content from an HTML document.
func (p *ContentParser) Parse(r io.Reader) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	result := &Result{
		Title:       p.title(doc),
		Text:        p.bodyText(doc),
		Authors:     p.authors(doc),
		PublishedAt: p.publishedAt(doc),
	}

	if len(result.Text) < minArticleTextLength {
		return nil, ErrNoContent
	}

	return result, nil
}

func (p *ContentParser) title(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		return strings.TrimSpace(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}

	return strings.TrimSpace(doc.Find("title").Text())
}

// bodyText finds the densest content container and joins its paragraphs.
func (p *ContentParser) bodyText(doc *goquery.Document) string {
	container := doc.Find("body")
	for _, selector := range contentSelectors {
		if found := doc.Find(selector).First(); found.Length() > 0 {
			container = found
			break
		}
	}

	container = container.Clone()
	for _, selector := range stripSelectors {
		container.Find(selector).Remove()
	}

	paragraphs := make([]string, 0)
	container.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	return strings.Join(paragraphs, "\n\n")
}

func (p *ContentParser) authors(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	authors := make([]string, 0)

	add := func(name string) {
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "By "))
		if name == "" {
			return
		}
		if _, ok := seen[strings.ToLower(name)]; ok {
			return
		}
		seen[strings.ToLower(name)] = struct{}{}
		authors = append(authors, name)
	}

	doc.Find(`meta[name="author"], meta[property="article:author"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			add(content)
		}
	})
	doc.Find(`[rel="author"], .byline, .author-name`).Each(func(_ int, s *goquery.Selection) {
		add(s.Text())
	})

	return authors
}

func (p *ContentParser) publishedAt(doc *goquery.Document) *time.Time {
	raw, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content")
	if !ok {
		raw, ok = doc.Find("time[datetime]").Attr("datetime")
	}
	if !ok || raw == "" {
		return nil
	}

	for _, format := range publishedAtFormats {
		if parsed, err := time.Parse(format, strings.TrimSpace(raw)); err == nil {
			return &parsed
		}
	}

	return nil
}

// ReadabilityMethod fetches the page over plain HTTP and parses it
// in-process. Successful fetches also populate the snapshot cache so later
// re-extraction is free.
type ReadabilityMethod struct {
	client    *http.Client
	parser    *ContentParser
	cache     *SnapshotCache
	userAgent string
}

// NewReadabilityMethod creates the readability extractor. The cache may be
// nil to skip snapshot writes.
func NewReadabilityMethod(
	client *http.Client,
	parser *ContentParser,
	cache *SnapshotCache,
	userAgent string,
) *ReadabilityMethod {
	return &ReadabilityMethod{client: client, parser: parser, cache: cache, userAgent: userAgent}
}

// Name returns the persisted extraction method name.
func (m *ReadabilityMethod) Name() string {
	return domain.ExtractionMethodReadability
}

// Extract fetches and parses the page. Rate-limit responses and CAPTCHA
// interstitials surface as ErrBotProtection.
func (m *ReadabilityMethod) Extract(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", m.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return nil, BotProtectionError(resp.StatusCode, "rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	html := string(body)

	if BodyLooksLikeCaptcha(html) {
		return nil, BotProtectionError(resp.StatusCode, "captcha interstitial")
	}

	result, err := m.parser.Parse(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	result.HTML = html

	if m.cache != nil {
		// Best effort; extraction already succeeded.
		_ = m.cache.Put(url, html)
	}

	return result, nil
}
