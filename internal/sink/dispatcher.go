package sink

import "time"

// Run consumes events for a single sink until its channel is closed, at
// which point the sink is shut down. Each configured sink gets its own Run
// goroutine so a slow backend never delays delivery to another.
//
// Measurements within a batch are delivered in their original order. When
// the sink reports a flush interval the loop owns a ticker injecting
// periodic flushes into the stream.
func Run(s Type, events <-chan Event) {
	var tickChan <-chan time.Time
	if interval := s.FlushInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tickChan = ticker.C
	}

	for {
		select {
		case ev, open := <-events:
			if !open {
				s.Shutdown()
				return
			}
			switch ev.Kind {
			case EventFlushTick:
				s.Flush()
			case EventBatch:
				for _, m := range ev.Metrics {
					s.Deliver(m)
				}
			}
		case <-tickChan:
			s.Flush()
		}
	}
}
