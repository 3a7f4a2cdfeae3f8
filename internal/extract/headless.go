package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/jonesrussell/newspipe/internal/domain"
)

const headlessNavigateTimeout = 45 * time.Second

// HeadlessMethod renders pages in a headless browser for sites that build
// their articles with JavaScript. The browser launches lazily on first use
// and is shared across extractions.
type HeadlessMethod struct {
	browser *rod.Browser
	parser  *ContentParser
	cache   *SnapshotCache
}

// NewHeadlessMethod creates the headless-browser extractor. The cache may
// be nil to skip snapshot writes.
func NewHeadlessMethod(parser *ContentParser, cache *SnapshotCache) *HeadlessMethod {
	return &HeadlessMethod{parser: parser, cache: cache}
}

// Name returns the persisted extraction method name.
func (m *HeadlessMethod) Name() string {
	return domain.ExtractionMethodHeadless
}

// Extract renders the page and parses the resulting DOM.
func (m *HeadlessMethod) Extract(ctx context.Context, url string) (*Result, error) {
	browser, err := m.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx).Timeout(headlessNavigateTimeout)
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load %s: %w", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read dom: %w", err)
	}

	if BodyLooksLikeCaptcha(html) {
		return nil, BotProtectionError(0, "captcha interstitial")
	}

	result, err := m.parser.Parse(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	result.HTML = html

	if m.cache != nil {
		_ = m.cache.Put(url, html)
	}

	return result, nil
}

// Close shuts the shared browser down.
func (m *HeadlessMethod) Close() error {
	if m.browser == nil {
		return nil
	}

	return m.browser.Close()
}

func (m *HeadlessMethod) connect() (*rod.Browser, error) {
	if m.browser != nil {
		return m.browser, nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	m.browser = browser

	return browser, nil
}
