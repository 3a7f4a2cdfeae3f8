// Package domain contains the core entities of the crawl pipeline and the
// canonical status transition rules enforced at every write.
package domain

import (
	"time"
)

// Source metadata keys. The sources.metadata JSONB column carries scheduling
// hints and RSS failure bookkeeping under these keys.
const (
	MetaRSSMissing             = "rss_missing"
	MetaRSSConsecutiveFailures = "rss_consecutive_failures"
	MetaRSSTransientFailures   = "rss_transient_failures"
	MetaRSSLastFailed          = "rss_last_failed"
	MetaLastSuccessfulMethod   = "last_successful_method"
	MetaLastDiscoveredAt       = "last_discovered_at"
	MetaCadenceHours           = "cadence_hours"
	MetaAttemptCount           = "attempt_count"
	MetaFeedETag               = "feed_etag"
	MetaFeedLastModified       = "feed_last_modified"
)

// Source represents a configured news source.
type Source struct {
	ID            string    `db:"id"             json:"id"`
	Host          string    `db:"host"           json:"host"`
	CanonicalName string    `db:"canonical_name" json:"canonical_name"`
	Dataset       string    `db:"dataset"        json:"dataset"`
	Metadata      JSONBMap  `db:"metadata"       json:"metadata"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// TransientFailure is one entry in the rss_transient_failures metadata list.
type TransientFailure struct {
	Timestamp time.Time `json:"timestamp"  mapstructure:"timestamp"`
	Code      int       `json:"code"       mapstructure:"code"`
}

// SourceMeta is the typed view of the scheduling-relevant metadata keys.
// Decoded from Source.Metadata with mapstructure; unknown keys are preserved
// in the raw map and never dropped by a metadata patch.
type SourceMeta struct {
	RSSMissing             *time.Time         `mapstructure:"rss_missing"`
	RSSConsecutiveFailures int                `mapstructure:"rss_consecutive_failures"`
	RSSTransientFailures   []TransientFailure `mapstructure:"rss_transient_failures"`
	RSSLastFailed          *time.Time         `mapstructure:"rss_last_failed"`
	LastSuccessfulMethod   string             `mapstructure:"last_successful_method"`
	LastDiscoveredAt       *time.Time         `mapstructure:"last_discovered_at"`
	CadenceHours           float64            `mapstructure:"cadence_hours"`
	AttemptCount           int                `mapstructure:"attempt_count"`
	FeedETag               string             `mapstructure:"feed_etag"`
	FeedLastModified       string             `mapstructure:"feed_last_modified"`
}
