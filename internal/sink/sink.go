// Package sink defines the delivery contract implemented by every
// configured backend, the event stream consumed by each backend's dispatch
// loop, and the fan-out broker that feeds those streams.
package sink

import (
	"time"

	"github.com/millpond/tailrace/internal/metric"
)

// Valve is the advisory backpressure signal a sink reports about its own
// saturation. Upstream flow control consults it; only the sink itself
// decides its state.
type Valve int

// Valve states.
const (
	ValveOpen Valve = iota
	ValveClosed
)

// String returns a human readable valve state.
func (v Valve) String() string {
	if v == ValveClosed {
		return "closed"
	}
	return "open"
}

//------------------------------------------------------------------------------

// EventKind discriminates the variants of an Event.
type EventKind int

// Event variants.
const (
	// EventFlushTick instructs the sink to drain its buffered state.
	EventFlushTick EventKind = iota

	// EventBatch carries an ordered batch of measurements from one source.
	EventBatch
)

// Event is one unit of work delivered to a sink's dispatch loop.
type Event struct {
	Kind    EventKind
	Source  string
	Metrics []*metric.Metric
}

// NewFlushTickEvent creates a flush signal event.
func NewFlushTickEvent() Event {
	return Event{Kind: EventFlushTick}
}

// NewBatchEvent creates a measurement batch event from a named source.
func NewBatchEvent(source string, metrics []*metric.Metric) Event {
	return Event{Kind: EventBatch, Source: source, Metrics: metrics}
}

//------------------------------------------------------------------------------

// Type is the contract implemented by every delivery backend. Deliver,
// DeliverRaw, Flush and Shutdown are called sequentially from the sink's
// own dispatch goroutine; ValveState and FlushInterval may be called from
// any goroutine.
type Type interface {
	// Deliver accepts one measurement for buffering or transmission. It
	// must not block beyond bounded backend-internal work.
	Deliver(m *metric.Metric)

	// DeliverRaw accepts a pre-encoded payload along with an ordering key
	// used for partition and dedup identity downstream.
	DeliverRaw(orderKey uint64, enc metric.Encoding, payload []byte)

	// Flush drains buffered and in-flight state. On return every payload
	// accepted so far has been handed off or accounted as failed. Blocking
	// is expected.
	Flush()

	// ValveState reports the sink's backpressure signal. It must be cheap
	// enough to consult on every dispatch cycle.
	ValveState() Valve

	// Shutdown flushes and releases the sink's resources.
	Shutdown()

	// FlushInterval returns the cadence for periodic flush events, or zero
	// if only externally triggered flushes should occur.
	FlushInterval() time.Duration
}
