package sink

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
)

// ConsoleConfig holds configuration for the console sink.
type ConsoleConfig struct {
	FlushInterval     time.Duration `yaml:"flush_interval"`
	MaxBufferedValues int           `yaml:"max_buffered_values"`
}

// NewConsoleConfig returns a console sink config with default values.
func NewConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		FlushInterval:     time.Second * 10,
		MaxBufferedValues: 100000,
	}
}

//------------------------------------------------------------------------------

// Console aggregates measurements over each flush window and prints the
// aggregates: counters are summed, gauges keep their last value, timers
// report min/mean/max.
type Console struct {
	conf   ConsoleConfig
	w      io.Writer
	logger log.Modular

	counters map[string]float64
	gauges   map[string]float64
	timers   map[string][]float64

	buffered atomic.Int64
}

// NewConsole creates a console sink writing to w.
func NewConsole(conf ConsoleConfig, w io.Writer, logger log.Modular) *Console {
	return &Console{
		conf:     conf,
		w:        w,
		logger:   logger,
		counters: map[string]float64{},
		gauges:   map[string]float64{},
		timers:   map[string][]float64{},
	}
}

func seriesKey(m *metric.Metric) string {
	if len(m.Tags) == 0 {
		return m.Name
	}
	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%v=%v", k, m.Tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Deliver buffers one measurement into the current window's aggregates.
func (c *Console) Deliver(m *metric.Metric) {
	key := seriesKey(m)
	switch m.Kind {
	case metric.Counter:
		c.counters[key] += m.Value
	case metric.Timer:
		c.timers[key] = append(c.timers[key], m.Value)
	default:
		c.gauges[key] = m.Value
	}
	c.buffered.Add(1)
}

// DeliverRaw discards pre-encoded payloads: the console sink only renders
// structured measurements.
func (c *Console) DeliverRaw(orderKey uint64, enc metric.Encoding, payload []byte) {
	c.logger.Tracef("Discarding raw payload of %v bytes.", len(payload))
}

// Flush prints the window's aggregates and resets them.
func (c *Console) Flush() {
	if c.buffered.Load() == 0 {
		return
	}
	now := time.Now().Unix()

	lines := make([]string, 0, len(c.counters)+len(c.gauges)+len(c.timers))
	for k, v := range c.counters {
		lines = append(lines, fmt.Sprintf("  counter %v %v", k, v))
	}
	for k, v := range c.gauges {
		lines = append(lines, fmt.Sprintf("  gauge %v %v", k, v))
	}
	for k, samples := range c.timers {
		min, max, sum := samples[0], samples[0], 0.0
		for _, s := range samples {
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
			sum += s
		}
		mean := sum / float64(len(samples))
		lines = append(lines, fmt.Sprintf("  timer %v min=%v mean=%v max=%v", k, min, mean, max))
	}
	sort.Strings(lines)

	fmt.Fprintf(c.w, "flush %v\n", now)
	for _, l := range lines {
		fmt.Fprintln(c.w, l)
	}

	c.counters = map[string]float64{}
	c.gauges = map[string]float64{}
	c.timers = map[string][]float64{}
	c.buffered.Store(0)
}

// ValveState closes once the buffered value count reaches the ceiling.
func (c *Console) ValveState() Valve {
	if c.conf.MaxBufferedValues > 0 && c.buffered.Load() >= int64(c.conf.MaxBufferedValues) {
		return ValveClosed
	}
	return ValveOpen
}

// Shutdown flushes any remaining window.
func (c *Console) Shutdown() {
	c.Flush()
}

// FlushInterval returns the periodic flush cadence.
func (c *Console) FlushInterval() time.Duration {
	return c.conf.FlushInterval
}
