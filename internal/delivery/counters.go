package delivery

import "github.com/millpond/tailrace/internal/metrics"

// Counters are the four monotonically increasing delivery outcome stats.
// They are injected into an engine at construction so independent engines
// (and tests) can account separately while sharing an aggregator.
type Counters struct {
	// Success counts payloads acknowledged by the transport.
	Success metrics.StatCounter

	// Retry counts resubmissions of payloads that failed with a recognized
	// transient error.
	Retry metrics.StatCounter

	// Failure counts payloads dropped after a non-transient error.
	Failure metrics.StatCounter

	// RetryLost counts payloads whose failure was classified transient but
	// whose original bytes were not recoverable from the failure signal.
	RetryLost metrics.StatCounter
}

// NewCounters registers the four outcome counters under a path prefix.
func NewCounters(prefix string, stats metrics.Type) *Counters {
	return &Counters{
		Success:   stats.GetCounter(prefix + ".publish.success"),
		Retry:     stats.GetCounter(prefix + ".publish.retry"),
		Failure:   stats.GetCounter(prefix + ".publish.failure"),
		RetryLost: stats.GetCounter(prefix + ".publish.retry.lost"),
	}
}
