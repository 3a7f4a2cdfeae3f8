package domain

import "time"

// CandidateLink status constants.
const (
	CandidateStatusDiscovered   = "discovered"
	CandidateStatusVerified     = "verified"
	CandidateStatusArticle      = "article"
	CandidateStatusClaimed      = "claimed"
	CandidateStatusExtracted    = "extracted"
	CandidateStatusNotArticle   = "not_article"
	CandidateStatusVerifyFailed = "verify_failed"
	CandidateStatusPaused       = "paused"
)

// CandidateLink represents a discovered URL that has not yet been confirmed
// as an article. The normalized URL is the natural key.
type CandidateLink struct {
	ID           string     `db:"id"            json:"id"`
	SourceID     string     `db:"source_id"     json:"source_id"`
	URL          string     `db:"url"           json:"url"`
	Host         string     `db:"host"          json:"host"`
	Status       string     `db:"status"        json:"status"`
	DiscoveredAt time.Time  `db:"discovered_at" json:"discovered_at"`
	VerifiedAt   *time.Time `db:"verified_at"   json:"verified_at,omitempty"`
	ClaimedAt    *time.Time `db:"claimed_at"    json:"claimed_at,omitempty"`
	ErrorCount   int        `db:"error_count"   json:"error_count"`
	LastError    *string    `db:"last_error"    json:"last_error,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// HostCount is the number of pending extractable candidates on one host.
type HostCount struct {
	Host  string `db:"host"  json:"host"`
	Count int    `db:"count" json:"count"`
}
