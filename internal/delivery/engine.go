// Package delivery implements the asynchronous batched delivery engine used
// by broker-backed sinks. Payloads are submitted to a transport without
// blocking, tracked as in-flight handles, and settled during flush: every
// handle is awaited, its outcome classified, and recognized transient
// failures are resubmitted with their original bytes until none remain.
package delivery

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/millpond/tailrace/internal/log"
)

// Transport submits one payload asynchronously. Submit must not block for
// delivery; the returned handle is resolved by the transport once the
// outcome is known.
type Transport interface {
	Submit(key, payload []byte) *Pending
}

// EngineConfig holds configuration for a delivery engine.
type EngineConfig struct {
	// MaxInFlightBytes is the saturation ceiling. Once the total bytes of
	// in-flight payloads meets or exceeds it the engine reports saturated
	// until the next flush completes. A value of zero or below disables
	// saturation reporting.
	MaxInFlightBytes int64 `yaml:"max_in_flight_bytes"`

	// MaxFlushPasses bounds the flush convergence loop. When a pass budget
	// is set and exhausted, payloads still classified retryable are counted
	// as failures and dropped so that flush terminates. Zero keeps retrying
	// until every payload reaches a terminal state.
	MaxFlushPasses int `yaml:"max_flush_passes"`

	// RetryBackoffInterval is the initial delay between flush passes that
	// performed resubmissions, growing exponentially. Zero disables the
	// delay.
	RetryBackoffInterval time.Duration `yaml:"retry_backoff_interval"`
}

// NewEngineConfig returns an engine config with default values.
func NewEngineConfig() EngineConfig {
	return EngineConfig{
		MaxInFlightBytes:     10 * (1 << 20),
		MaxFlushPasses:       0,
		RetryBackoffInterval: 0,
	}
}

//------------------------------------------------------------------------------

// Engine tracks in-flight asynchronous deliveries for a single sink. All
// methods except Saturated must be called from the sink's own goroutine;
// Saturated may be called from anywhere.
type Engine struct {
	conf      EngineConfig
	transport Transport
	retryable func(error) bool
	counters  *Counters
	log       log.Modular

	pending      []*Pending
	pendingBytes atomic.Int64
}

// NewEngine creates a delivery engine around a transport. The retryable
// classifier reports whether an error is a recognized transient condition;
// a nil classifier treats every error as fatal.
func NewEngine(
	conf EngineConfig,
	transport Transport,
	retryable func(error) bool,
	counters *Counters,
	logger log.Modular,
) *Engine {
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Engine{
		conf:      conf,
		transport: transport,
		retryable: retryable,
		counters:  counters,
		log:       logger,
	}
}

// Submit hands a payload to the transport and tracks the resulting handle.
func (e *Engine) Submit(key, payload []byte) {
	p := e.transport.Submit(key, payload)
	e.pending = append(e.pending, p)
	e.pendingBytes.Add(int64(len(payload)))
}

// InFlight returns the number of in-flight handles.
func (e *Engine) InFlight() int {
	return len(e.pending)
}

// InFlightBytes returns the total byte length of in-flight payloads.
func (e *Engine) InFlightBytes() int64 {
	return e.pendingBytes.Load()
}

// Saturated reports whether in-flight bytes meet or exceed the configured
// ceiling. Safe to call from other goroutines.
func (e *Engine) Saturated() bool {
	if e.conf.MaxInFlightBytes <= 0 {
		return false
	}
	return e.pendingBytes.Load() >= e.conf.MaxInFlightBytes
}

// Flush settles every in-flight delivery. Handles are awaited in submission
// order and classified; payloads that failed with a recognized transient
// error and whose original bytes were returned are resubmitted, and the
// loop repeats over the new handles. On return no deliveries remain
// outstanding and the byte accounting is reset.
func (e *Engine) Flush() {
	var boff backoff.BackOff
	passes := 0

	for len(e.pending) > 0 {
		passes++
		retries := e.awaitPending()
		if len(retries) == 0 {
			e.pending = nil
			break
		}

		if e.conf.MaxFlushPasses > 0 && passes >= e.conf.MaxFlushPasses {
			e.log.Errorf("Dropping %v undeliverable payloads after %v flush passes.", len(retries), passes)
			for range retries {
				e.counters.Failure.Incr(1)
			}
			e.pending = nil
			break
		}

		if e.conf.RetryBackoffInterval > 0 {
			if boff == nil {
				eb := backoff.NewExponentialBackOff()
				eb.InitialInterval = e.conf.RetryBackoffInterval
				eb.MaxElapsedTime = 0
				boff = eb
			}
			time.Sleep(boff.NextBackOff())
		}

		next := make([]*Pending, 0, len(retries))
		for _, res := range retries {
			next = append(next, e.transport.Submit(res.Key, res.Payload))
			e.counters.Retry.Incr(1)
		}
		e.pending = next
	}

	e.pendingBytes.Store(0)
}

// awaitPending waits on every in-flight handle and returns the results that
// should be resubmitted. Terminal outcomes are counted here.
func (e *Engine) awaitPending() []Result {
	var retries []Result
	for _, p := range e.pending {
		res := p.Wait()
		switch {
		case res.Err == nil:
			e.counters.Success.Incr(1)

		case e.retryable(res.Err):
			if res.Key != nil && res.Payload != nil {
				retries = append(retries, res)
			} else {
				e.log.Errorf("Unable to retry payload, the failure signal did not return the original bytes: %v", res.Err)
				e.counters.RetryLost.Incr(1)
			}

		default:
			e.log.Errorf("Transport returned an unrecoverable error: %v", res.Err)
			e.counters.Failure.Incr(1)
		}
	}
	return retries
}
