package metrics

import (
	"sync"
	"sync/atomic"
)

// LocalStat is a representation of a single metric stat. Interactions with
// this stat are thread safe.
type LocalStat struct {
	value *int64
}

// Incr increments the stat by an amount.
func (l *LocalStat) Incr(count int64) {
	atomic.AddInt64(l.value, count)
}

// Decr decrements the stat by an amount.
func (l *LocalStat) Decr(count int64) {
	atomic.AddInt64(l.value, -count)
}

// Set sets the stat to a value.
func (l *LocalStat) Set(value int64) {
	atomic.StoreInt64(l.value, value)
}

//------------------------------------------------------------------------------

// Local is a metrics aggregator that stores metrics in memory, used for
// tests and for snapshotting counters at runtime.
type Local struct {
	flatCounters map[string]*LocalStat
	flatGauges   map[string]*LocalStat

	mut sync.Mutex
}

// NewLocal creates and returns a new Local aggregator.
func NewLocal() *Local {
	return &Local{
		flatCounters: make(map[string]*LocalStat),
		flatGauges:   make(map[string]*LocalStat),
	}
}

// GetCounters returns a map of metric paths to counter values.
func (l *Local) GetCounters() map[string]int64 {
	l.mut.Lock()
	counters := make(map[string]int64, len(l.flatCounters))
	for k, v := range l.flatCounters {
		counters[k] = atomic.LoadInt64(v.value)
	}
	l.mut.Unlock()
	return counters
}

// GetCounter returns a stat counter object for a path.
func (l *Local) GetCounter(path string) StatCounter {
	l.mut.Lock()
	st, exists := l.flatCounters[path]
	if !exists {
		var i int64
		st = &LocalStat{value: &i}
		l.flatCounters[path] = st
	}
	l.mut.Unlock()
	return st
}

// GetGauge returns a stat gauge object for a path.
func (l *Local) GetGauge(path string) StatGauge {
	l.mut.Lock()
	st, exists := l.flatGauges[path]
	if !exists {
		var i int64
		st = &LocalStat{value: &i}
		l.flatGauges[path] = st
	}
	l.mut.Unlock()
	return st
}

// Close stops the Local object from aggregating metrics.
func (l *Local) Close() error {
	return nil
}
