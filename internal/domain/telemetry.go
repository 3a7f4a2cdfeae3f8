package domain

import "time"

// Discovery method names, in attempt priority order.
const (
	MethodRSSFeed            = "rss_feed"
	MethodTemplateParser     = "template_parser"
	MethodHomepageClassifier = "homepage_classifier"
)

// Discovery attempt status values.
const (
	DiscoveryStatusSuccess         = "success"
	DiscoveryStatusNoFeed          = "no_feed"
	DiscoveryStatusTimeout         = "timeout"
	DiscoveryStatusConnectionError = "connection_error"
	DiscoveryStatusParseError      = "parse_error"
	DiscoveryStatusBlocked         = "blocked"
	DiscoveryStatusServerError     = "server_error"
	DiscoveryStatusSkipped         = "skipped"
)

// DiscoveryMethods lists the methods in attempt priority order.
func DiscoveryMethods() []string {
	return []string{MethodRSSFeed, MethodTemplateParser, MethodHomepageClassifier}
}

// MethodAttempt is one discovery method attempt, recorded for
// effectiveness tracking.
type MethodAttempt struct {
	SourceID      string
	Method        string
	Status        string
	ArticlesFound int
	ResponseMs    int64
	StatusCode    *int
}

// MethodEffectiveness is one telemetry row per (source, method) attempt.
// SuccessRate is a rolling rate maintained by the telemetry repository.
type MethodEffectiveness struct {
	ID              string    `db:"id"                json:"id"`
	SourceID        string    `db:"source_id"         json:"source_id"`
	Method          string    `db:"method"            json:"method"`
	Status          string    `db:"status"            json:"status"`
	ArticlesFound   int       `db:"articles_found"    json:"articles_found"`
	SuccessRate     float64   `db:"success_rate"      json:"success_rate"`
	AttemptCount    int       `db:"attempt_count"     json:"attempt_count"`
	AvgResponseMs   float64   `db:"avg_response_ms"   json:"avg_response_ms"`
	LastStatusCode  *int      `db:"last_status_code"  json:"last_status_code,omitempty"`
	LastAttemptedAt time.Time `db:"last_attempted_at" json:"last_attempted_at"`
	CreatedAt       time.Time `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"        json:"updated_at"`
}

// HTTPStatusRecord tracks one observed HTTP response for a source.
type HTTPStatusRecord struct {
	ID         string    `db:"id"          json:"id"`
	SourceID   string    `db:"source_id"   json:"source_id"`
	URL        string    `db:"url"         json:"url"`
	StatusCode int       `db:"status_code" json:"status_code"`
	Method     string    `db:"method"      json:"method"`
	ResponseMs int64     `db:"response_ms" json:"response_ms"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
}

// DiscoveryOutcome records the final result of one discovery pass over a source.
type DiscoveryOutcome struct {
	ID            string    `db:"id"             json:"id"`
	SourceID      string    `db:"source_id"      json:"source_id"`
	Method        string    `db:"method"         json:"method"`
	Status        string    `db:"status"         json:"status"`
	LinksFound    int       `db:"links_found"    json:"links_found"`
	LinksInserted int       `db:"links_inserted" json:"links_inserted"`
	ElapsedMs     int64     `db:"elapsed_ms"     json:"elapsed_ms"`
	RanAt         time.Time `db:"ran_at"         json:"ran_at"`
}
