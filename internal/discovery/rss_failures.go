package discovery

import (
	"time"

	"github.com/jonesrussell/newspipe/internal/domain"
)

// RSS failure thresholds.
const (
	// DefaultMissingThreshold is the number of consecutive non-network
	// failures before RSS is marked missing.
	DefaultMissingThreshold = 3
	// DefaultTransientThreshold is the number of transient failures inside
	// the rolling window before RSS is marked missing.
	DefaultTransientThreshold = 5
	// DefaultTransientWindow is the rolling window for transient counting.
	DefaultTransientWindow = 7 * 24 * time.Hour
)

// FailureKind partitions RSS failures for bookkeeping purposes.
type FailureKind int

const (
	// FailureNone means the attempt succeeded.
	FailureNone FailureKind = iota
	// FailureNonNetwork covers 404 and parse errors: the feed endpoint is
	// reachable but not serving a feed.
	FailureNonNetwork
	// FailureTransient covers 429, 403 and 5xx: the feed may come back.
	FailureTransient
	// FailureNetwork covers timeouts and connection errors: says nothing
	// about whether the feed exists.
	FailureNetwork
)

// ClassifyRSSFailure maps a discovery attempt status to a failure kind.
func ClassifyRSSFailure(status string) FailureKind {
	switch status {
	case domain.DiscoveryStatusSuccess:
		return FailureNone
	case domain.DiscoveryStatusTimeout, domain.DiscoveryStatusConnectionError:
		return FailureNetwork
	case domain.DiscoveryStatusParseError, domain.DiscoveryStatusNoFeed:
		return FailureNonNetwork
	case domain.DiscoveryStatusBlocked, domain.DiscoveryStatusServerError:
		return FailureTransient
	default:
		return FailureNonNetwork
	}
}

// RSSBookkeeper maintains the four RSS failure fields in source metadata.
type RSSBookkeeper struct {
	MissingThreshold   int
	TransientThreshold int
	TransientWindow    time.Duration
}

// NewRSSBookkeeper creates a bookkeeper with the default thresholds.
func NewRSSBookkeeper() *RSSBookkeeper {
	return &RSSBookkeeper{
		MissingThreshold:   DefaultMissingThreshold,
		TransientThreshold: DefaultTransientThreshold,
		TransientWindow:    DefaultTransientWindow,
	}
}

// OnSuccess returns the metadata patch for a successful RSS attempt: all
// four failure fields reset and last_successful_method recorded.
func (b *RSSBookkeeper) OnSuccess() domain.MetaPatch {
	return domain.MetaPatch{
		domain.MetaRSSMissing:             nil,
		domain.MetaRSSConsecutiveFailures: 0,
		domain.MetaRSSTransientFailures:   []any{},
		domain.MetaRSSLastFailed:          nil,
		domain.MetaLastSuccessfulMethod:   domain.MethodRSSFeed,
	}
}

// OnFailure returns the metadata patch for a failed RSS attempt, applying
// the consecutive and transient threshold rules. The consecutive rule is
// checked first; whichever rule fires sets rss_missing.
func (b *RSSBookkeeper) OnFailure(
	meta domain.SourceMeta,
	kind FailureKind,
	statusCode int,
	now time.Time,
) domain.MetaPatch {
	switch kind {
	case FailureNetwork:
		// Pure network failures say nothing about the feed itself.
		return domain.MetaPatch{
			domain.MetaRSSLastFailed: domain.MetaTime(now),
		}

	case FailureNonNetwork:
		consecutive := meta.RSSConsecutiveFailures + 1
		patch := domain.MetaPatch{
			domain.MetaRSSConsecutiveFailures: consecutive,
		}
		if consecutive >= b.MissingThreshold {
			patch[domain.MetaRSSMissing] = domain.MetaTime(now)
		}
		return patch

	case FailureTransient:
		recent := b.pruneWindow(meta.RSSTransientFailures, now)
		recent = append(recent, domain.TransientFailure{Timestamp: now, Code: statusCode})

		patch := domain.MetaPatch{
			domain.MetaRSSTransientFailures: domain.TransientFailuresToMeta(recent),
		}
		if len(recent) >= b.TransientThreshold {
			patch[domain.MetaRSSMissing] = domain.MetaTime(now)
		}
		return patch

	default:
		return domain.MetaPatch{}
	}
}

// pruneWindow drops transient failure entries older than the rolling window.
func (b *RSSBookkeeper) pruneWindow(
	failures []domain.TransientFailure,
	now time.Time,
) []domain.TransientFailure {
	cutoff := now.Add(-b.TransientWindow)
	kept := make([]domain.TransientFailure, 0, len(failures))
	for _, f := range failures {
		if f.Timestamp.After(cutoff) {
			kept = append(kept, f)
		}
	}
	return kept
}
