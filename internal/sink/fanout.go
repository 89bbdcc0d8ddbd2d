package sink

import (
	"sync"
	"time"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metrics"
)

// valvePollInterval is how often a closed valve is re-checked before
// pushing to a saturated sink.
const valvePollInterval = time.Millisecond * 10

// FanOut broadcasts each event to every configured sink. Each sink owns a
// buffered channel and a dispatch goroutine, so a slow or blocked sink
// backs up only its own channel.
type FanOut struct {
	logger log.Modular
	stats  metrics.Type

	sinks      []Type
	eventChans []chan Event

	mEventsRcvd metrics.StatCounter
	mEventsSent metrics.StatCounter

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewFanOut creates a fan-out over the provided sinks and starts a dispatch
// loop for each. chanDepth bounds how many events can queue per sink before
// Send blocks on that sink.
func NewFanOut(sinks []Type, chanDepth int, logger log.Modular, stats metrics.Type) *FanOut {
	if chanDepth < 1 {
		chanDepth = 1
	}

	f := &FanOut{
		logger:      logger,
		stats:       stats,
		sinks:       sinks,
		mEventsRcvd: stats.GetCounter("fanout.events.received"),
		mEventsSent: stats.GetCounter("fanout.events.sent"),
	}

	f.eventChans = make([]chan Event, len(sinks))
	for i := range sinks {
		f.eventChans[i] = make(chan Event, chanDepth)
		f.wg.Add(1)
		go func(s Type, events <-chan Event) {
			defer f.wg.Done()
			Run(s, events)
		}(sinks[i], f.eventChans[i])
	}
	return f
}

// Send broadcasts an event to every sink, sharing measurement references
// rather than copying values. The valve of each sink is consulted first:
// a closed valve pauses fan-out to that sink only, until its next flush
// reopens it.
func (f *FanOut) Send(ev Event) {
	f.mEventsRcvd.Incr(1)
	for i, s := range f.sinks {
		for s.ValveState() == ValveClosed {
			f.logger.Tracef("Valve closed for sink %v, pausing fan-out.", i)
			time.Sleep(valvePollInterval)
		}
		f.eventChans[i] <- ev
		f.mEventsSent.Incr(1)
	}
}

// Close closes every sink's event channel and blocks until each dispatch
// loop has shut its sink down.
func (f *FanOut) Close() {
	f.closeOnce.Do(func() {
		for _, c := range f.eventChans {
			close(c)
		}
	})
	f.wg.Wait()
}
