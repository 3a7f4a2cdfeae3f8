package domain

import (
	"time"

	"github.com/lib/pq"
)

// Article status constants.
const (
	ArticleStatusExtracted = "extracted"
	ArticleStatusCleaned   = "cleaned"
	ArticleStatusLocal     = "local"
	ArticleStatusWire      = "wire"
	ArticleStatusLabeled   = "labeled"
	ArticleStatusPaused    = "paused"
)

// Proxy status values recorded on extraction.
const (
	ProxyStatusSuccess  = "success"
	ProxyStatusFailed   = "failed"
	ProxyStatusBypassed = "bypassed"
	ProxyStatusDisabled = "disabled"
)

// Extraction method names, in attempt order.
const (
	ExtractionMethodSnapshot    = "cached_snapshot"
	ExtractionMethodReadability = "readability"
	ExtractionMethodHeadless    = "headless_browser"
)

// Article represents an extracted article record. The URL is unique; a row
// exists only for candidates that reached article status.
type Article struct {
	ID               string         `db:"id"                json:"id"`
	CandidateLinkID  string         `db:"candidate_link_id" json:"candidate_link_id"`
	URL              string         `db:"url"               json:"url"`
	Title            string         `db:"title"             json:"title"`
	Text             *string        `db:"text"              json:"text,omitempty"`
	Authors          pq.StringArray `db:"authors"           json:"authors"`
	PublishedAt      *time.Time     `db:"published_at"      json:"published_at,omitempty"`
	Status           string         `db:"status"            json:"status"`
	StatusReason     *string        `db:"status_reason"     json:"status_reason,omitempty"`
	ExtractedAt      time.Time      `db:"extracted_at"      json:"extracted_at"`
	ExtractionMethod string         `db:"extraction_method" json:"extraction_method"`
	ProxyStatus      *string        `db:"proxy_status"      json:"proxy_status,omitempty"`
	CreatedAt        time.Time      `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"        json:"updated_at"`
}
