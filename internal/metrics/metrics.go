// Package metrics provides the aggregator abstraction used for tailrace's
// observable counters. Implementations are expected to be cheap enough that
// hot delivery paths can increment stats per payload.
package metrics

import "net/http"

// StatCounter is a single counter metric. Interactions are thread safe.
type StatCounter interface {
	// Incr increments a counter by an amount.
	Incr(count int64)
}

// StatGauge is a single gauge metric. Interactions are thread safe.
type StatGauge interface {
	// Set sets the value of the gauge.
	Set(value int64)

	// Incr increments the gauge by an amount.
	Incr(count int64)

	// Decr decrements the gauge by an amount.
	Decr(count int64)
}

// Type is an interface for metrics aggregation.
type Type interface {
	// GetCounter returns an editable counter stat for a given path.
	GetCounter(path string) StatCounter

	// GetGauge returns an editable gauge stat for a given path.
	GetGauge(path string) StatGauge

	// Close stops aggregating stats and cleans up resources.
	Close() error
}

// WithHandlerFunc is implemented by aggregators able to expose their metrics
// through an HTTP endpoint.
type WithHandlerFunc interface {
	HandlerFunc() http.HandlerFunc
}
