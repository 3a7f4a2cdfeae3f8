// Package config loads pipeline configuration from the environment.
// Values are layered: built-in defaults, then .env (godotenv), then the
// process environment via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default values for every environment key. All durations are expressed in
// the unit named by the key.
const (
	DefaultDomainCooldownSeconds   = 60
	DefaultMaxDomainFailures       = 3
	DefaultDomainPauseSeconds      = 1800
	DefaultWorkerTimeoutSeconds    = 600
	DefaultMinDomainsPerWorker     = 3
	DefaultMaxDomainsPerWorker     = 5
	DefaultBatchSleepSeconds       = 30
	DefaultSingleDomainBatchSleep  = 300
	DefaultInterRequestMinSeconds  = 10
	DefaultInterRequestMaxSeconds  = 30
	DefaultSingleDomainInterMin    = 90
	DefaultSingleDomainInterMax    = 180
	DefaultCaptchaBackoffBase      = 1800
	DefaultCaptchaBackoffCap       = 7200
	DefaultCandidateExpirationDays = 7
	DefaultRSSMissingThreshold     = 3
	DefaultRSSTransientThreshold   = 5
	DefaultRSSTransientWindowDays  = 7
	DefaultRSSRetryWindowDays      = 30
	DefaultCadenceHours            = 6
	DefaultSingleDomainCadence     = 24
	DefaultFetchTimeoutSeconds     = 30
	DefaultStuckStageHours         = 24
	DefaultCoordinatorAddr         = ":8170"
	DefaultCoordinatorURL          = "http://localhost:8170"
	DefaultUserAgent               = "newspipe/1.0"
	DefaultBatchSize               = 10
	DefaultMaxPerDomain            = 3
)

// Config holds the full pipeline configuration.
type Config struct {
	// Store
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Work queue coordinator
	DomainCooldownSeconds int    `mapstructure:"DOMAIN_COOLDOWN_SECONDS"`
	MaxDomainFailures     int    `mapstructure:"MAX_DOMAIN_FAILURES"`
	DomainPauseSeconds    int    `mapstructure:"DOMAIN_PAUSE_SECONDS"`
	WorkerTimeoutSeconds  int    `mapstructure:"WORKER_TIMEOUT_SECONDS"`
	MinDomainsPerWorker   int    `mapstructure:"MIN_DOMAINS_PER_WORKER"`
	MaxDomainsPerWorker   int    `mapstructure:"MAX_DOMAINS_PER_WORKER"`
	CoordinatorAddr       string `mapstructure:"COORDINATOR_ADDR"`
	CoordinatorURL        string `mapstructure:"COORDINATOR_URL"`

	// Extraction worker pacing
	BatchSleepSeconds      int `mapstructure:"BATCH_SLEEP_SECONDS"`
	InterRequestMinSeconds int `mapstructure:"INTER_REQUEST_MIN"`
	InterRequestMaxSeconds int `mapstructure:"INTER_REQUEST_MAX"`
	CaptchaBackoffBase     int `mapstructure:"CAPTCHA_BACKOFF_BASE"`
	BatchSize              int `mapstructure:"WORKER_BATCH_SIZE"`
	MaxPerDomain           int `mapstructure:"WORKER_MAX_PER_DOMAIN"`

	// Housekeeping
	CandidateExpirationDays int `mapstructure:"CANDIDATE_EXPIRATION_DAYS"`
	StuckStageHours         int `mapstructure:"STUCK_STAGE_HOURS"`

	// RSS failure gating
	RSSMissingThreshold   int `mapstructure:"RSS_MISSING_THRESHOLD"`
	RSSTransientThreshold int `mapstructure:"RSS_TRANSIENT_THRESHOLD"`
	RSSTransientWindow    int `mapstructure:"RSS_TRANSIENT_WINDOW_DAYS"`
	RSSRetryWindowDays    int `mapstructure:"RSS_RETRY_WINDOW_DAYS"`

	// Discovery
	CadenceHours        int    `mapstructure:"DISCOVERY_CADENCE_HOURS"`
	FetchTimeoutSeconds int    `mapstructure:"FETCH_TIMEOUT_SECONDS"`
	UserAgent           string `mapstructure:"CRAWLER_USER_AGENT"`

	// Optional search indexing of extracted articles
	ElasticsearchURL string `mapstructure:"ELASTICSEARCH_URL"`

	// Logging
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogJSON  bool   `mapstructure:"LOG_JSON"`
}

// envKeys lists every key bound from the environment.
var envKeys = []string{
	"DATABASE_URL",
	"DOMAIN_COOLDOWN_SECONDS",
	"MAX_DOMAIN_FAILURES",
	"DOMAIN_PAUSE_SECONDS",
	"WORKER_TIMEOUT_SECONDS",
	"MIN_DOMAINS_PER_WORKER",
	"MAX_DOMAINS_PER_WORKER",
	"COORDINATOR_ADDR",
	"COORDINATOR_URL",
	"BATCH_SLEEP_SECONDS",
	"INTER_REQUEST_MIN",
	"INTER_REQUEST_MAX",
	"CAPTCHA_BACKOFF_BASE",
	"WORKER_BATCH_SIZE",
	"WORKER_MAX_PER_DOMAIN",
	"CANDIDATE_EXPIRATION_DAYS",
	"STUCK_STAGE_HOURS",
	"RSS_MISSING_THRESHOLD",
	"RSS_TRANSIENT_THRESHOLD",
	"RSS_TRANSIENT_WINDOW_DAYS",
	"RSS_RETRY_WINDOW_DAYS",
	"DISCOVERY_CADENCE_HOURS",
	"FETCH_TIMEOUT_SECONDS",
	"CRAWLER_USER_AGENT",
	"ELASTICSEARCH_URL",
	"LOG_LEVEL",
	"LOG_JSON",
}

// Load reads configuration from the environment with defaults applied.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("DOMAIN_COOLDOWN_SECONDS", DefaultDomainCooldownSeconds)
	v.SetDefault("MAX_DOMAIN_FAILURES", DefaultMaxDomainFailures)
	v.SetDefault("DOMAIN_PAUSE_SECONDS", DefaultDomainPauseSeconds)
	v.SetDefault("WORKER_TIMEOUT_SECONDS", DefaultWorkerTimeoutSeconds)
	v.SetDefault("MIN_DOMAINS_PER_WORKER", DefaultMinDomainsPerWorker)
	v.SetDefault("MAX_DOMAINS_PER_WORKER", DefaultMaxDomainsPerWorker)
	v.SetDefault("COORDINATOR_ADDR", DefaultCoordinatorAddr)
	v.SetDefault("COORDINATOR_URL", DefaultCoordinatorURL)
	v.SetDefault("BATCH_SLEEP_SECONDS", DefaultBatchSleepSeconds)
	v.SetDefault("INTER_REQUEST_MIN", DefaultInterRequestMinSeconds)
	v.SetDefault("INTER_REQUEST_MAX", DefaultInterRequestMaxSeconds)
	v.SetDefault("CAPTCHA_BACKOFF_BASE", DefaultCaptchaBackoffBase)
	v.SetDefault("WORKER_BATCH_SIZE", DefaultBatchSize)
	v.SetDefault("WORKER_MAX_PER_DOMAIN", DefaultMaxPerDomain)
	v.SetDefault("CANDIDATE_EXPIRATION_DAYS", DefaultCandidateExpirationDays)
	v.SetDefault("STUCK_STAGE_HOURS", DefaultStuckStageHours)
	v.SetDefault("RSS_MISSING_THRESHOLD", DefaultRSSMissingThreshold)
	v.SetDefault("RSS_TRANSIENT_THRESHOLD", DefaultRSSTransientThreshold)
	v.SetDefault("RSS_TRANSIENT_WINDOW_DAYS", DefaultRSSTransientWindowDays)
	v.SetDefault("RSS_RETRY_WINDOW_DAYS", DefaultRSSRetryWindowDays)
	v.SetDefault("DISCOVERY_CADENCE_HOURS", DefaultCadenceHours)
	v.SetDefault("FETCH_TIMEOUT_SECONDS", DefaultFetchTimeoutSeconds)
	v.SetDefault("CRAWLER_USER_AGENT", DefaultUserAgent)
	v.SetDefault("ELASTICSEARCH_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
	v.SetDefault("DATABASE_URL", "")

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects configurations that would break coordinator invariants.
func (c *Config) validate() error {
	if c.MinDomainsPerWorker <= 0 || c.MaxDomainsPerWorker < c.MinDomainsPerWorker {
		return fmt.Errorf(
			"invalid domain lease bounds: min=%d max=%d",
			c.MinDomainsPerWorker, c.MaxDomainsPerWorker,
		)
	}
	if c.DomainCooldownSeconds <= 0 {
		return fmt.Errorf("DOMAIN_COOLDOWN_SECONDS must be positive, got %d", c.DomainCooldownSeconds)
	}
	if c.WorkerTimeoutSeconds <= 0 {
		return fmt.Errorf("WORKER_TIMEOUT_SECONDS must be positive, got %d", c.WorkerTimeoutSeconds)
	}
	return nil
}

// DomainCooldown returns the fleet-wide per-domain pacing interval.
func (c *Config) DomainCooldown() time.Duration {
	return time.Duration(c.DomainCooldownSeconds) * time.Second
}

// DomainPause returns the pause length applied after the failure threshold.
func (c *Config) DomainPause() time.Duration {
	return time.Duration(c.DomainPauseSeconds) * time.Second
}

// WorkerTimeout returns the inactivity window after which a worker's
// leases are reclaimed.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-fetch deadline.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// CaptchaBackoff returns the initial CAPTCHA cooldown.
func (c *Config) CaptchaBackoff() time.Duration {
	return time.Duration(c.CaptchaBackoffBase) * time.Second
}

// RSSTransientWindowDuration returns the rolling window for transient
// RSS failure counting.
func (c *Config) RSSTransientWindowDuration() time.Duration {
	return time.Duration(c.RSSTransientWindow) * 24 * time.Hour
}

// RSSRetryWindow returns how long a source's RSS method stays disabled
// after being marked missing.
func (c *Config) RSSRetryWindow() time.Duration {
	return time.Duration(c.RSSRetryWindowDays) * 24 * time.Hour
}

// CandidateExpiration returns the age at which unclaimed article candidates
// are expired by the housekeeper.
func (c *Config) CandidateExpiration() time.Duration {
	return time.Duration(c.CandidateExpirationDays) * 24 * time.Hour
}

// StuckStageThreshold returns the age past which in-flight rows trigger
// housekeeper warnings.
func (c *Config) StuckStageThreshold() time.Duration {
	return time.Duration(c.StuckStageHours) * time.Hour
}
