// Package extract pulls article content out of candidate URLs, trying a
// cached snapshot first, then an in-process readability parse, then a
// headless browser for pages that need rendering.
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jonesrussell/newspipe/internal/logger"
)

// ErrBotProtection marks a domain-level signal (429, 503, or a CAPTCHA
// interstitial). The worker aborts the rest of the domain's batch items and
// reports the failure to the coordinator.
var ErrBotProtection = errors.New("bot protection triggered")

// ErrNoContent means the method ran but found no usable article body.
var ErrNoContent = errors.New("no article content found")

// captchaMarkers match the interstitial pages the crawl most often hits.
var captchaMarkers = regexp.MustCompile(
	`(?i)(g-recaptcha|h-captcha|cf-challenge|cf_chl_|px-captcha|are you a robot|unusual traffic)`,
)

// BodyLooksLikeCaptcha reports whether an HTML body is a CAPTCHA
// interstitial rather than real content.
func BodyLooksLikeCaptcha(body string) bool {
	return captchaMarkers.MatchString(body)
}

// BotProtectionError wraps a status code or CAPTCHA detection in
// ErrBotProtection.
func BotProtectionError(statusCode int, reason string) error {
	return fmt.Errorf("%s (status %d): %w", reason, statusCode, ErrBotProtection)
}

// Result is the extracted content of one article.
type Result struct {
	Title       string
	Text        string
	Authors     []string
	PublishedAt *time.Time
	HTML        string
}

// Extractor is one extraction method.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, url string) (*Result, error)
}

// Chain runs extractors in order and returns the first success together
// with the method name that produced it.
type Chain struct {
	extractors []Extractor
	log        logger.Interface
}

// NewChain creates an extraction chain. Pass extractors in attempt order.
func NewChain(log logger.Interface, extractors ...Extractor) *Chain {
	return &Chain{extractors: extractors, log: log}
}

// Extract tries each method in order. A bot-protection signal from any
// method aborts the chain immediately so the worker can back off the whole
// domain; other failures fall through to the next method.
func (c *Chain) Extract(ctx context.Context, url string) (*Result, string, error) {
	var lastErr error

	for _, extractor := range c.extractors {
		result, err := extractor.Extract(ctx, url)
		if err == nil {
			return result, extractor.Name(), nil
		}
		if errors.Is(err, ErrBotProtection) {
			return nil, extractor.Name(), err
		}

		c.log.Debug("extraction method failed",
			"method", extractor.Name(),
			"url", url,
			"error", err.Error(),
		)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrNoContent
	}

	return nil, "", fmt.Errorf("all extraction methods failed: %w", lastErr)
}
