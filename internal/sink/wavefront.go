package sink

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
	"github.com/millpond/tailrace/internal/metrics"
)

// WavefrontConfig holds configuration for the wavefront line-protocol sink.
type WavefrontConfig struct {
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	Tags             map[string]string `yaml:"tags"`
	FlushInterval    time.Duration     `yaml:"flush_interval"`
	MaxBufferedBytes string            `yaml:"max_buffered_bytes"`
	ConnectTimeout   time.Duration     `yaml:"connect_timeout"`
	RetryElapsedTime time.Duration     `yaml:"retry_elapsed_time"`
}

// NewWavefrontConfig returns a wavefront sink config with default values.
func NewWavefrontConfig() WavefrontConfig {
	return WavefrontConfig{
		Host:             "",
		Port:             2878,
		FlushInterval:    time.Second * 10,
		MaxBufferedBytes: "10MB",
		ConnectTimeout:   time.Second * 5,
		RetryElapsedTime: time.Second * 15,
	}
}

//------------------------------------------------------------------------------

// Wavefront buffers measurements as line-protocol points and writes them
// over TCP on flush, reconnecting with exponential backoff.
type Wavefront struct {
	conf WavefrontConfig
	addr string

	globalTags string

	lines    []string
	bufBytes atomic.Int64
	maxBytes int64

	conn net.Conn

	logger      log.Modular
	mPointsSent metrics.StatCounter
	mFlushErr   metrics.StatCounter
}

// NewWavefront creates a wavefront sink. A missing host is a fatal
// configuration error.
func NewWavefront(conf WavefrontConfig, logger log.Modular, stats metrics.Type) (*Wavefront, error) {
	if conf.Host == "" {
		return nil, errors.New("wavefront sink requires a host")
	}

	maxBytes, err := humanize.ParseBytes(conf.MaxBufferedBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid max_buffered_bytes: %w", err)
	}

	return &Wavefront{
		conf:        conf,
		addr:        fmt.Sprintf("%v:%v", conf.Host, conf.Port),
		globalTags:  formatTags(conf.Tags),
		maxBytes:    int64(maxBytes),
		logger:      logger.WithFields(map[string]string{"sink": "wavefront"}),
		mPointsSent: stats.GetCounter("output.wavefront.points.sent"),
		mFlushErr:   stats.GetCounter("output.wavefront.flush.error"),
	}, nil
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %v=%q", k, tags[k])
	}
	return b.String()
}

// Deliver buffers one measurement as a line-protocol point.
func (w *Wavefront) Deliver(m *metric.Metric) {
	line := fmt.Sprintf("%v %v %v%v%v", m.Name, m.Value, m.Time.Unix(), w.globalTags, formatTags(m.Tags))
	w.lines = append(w.lines, line)
	w.bufBytes.Add(int64(len(line) + 1))
}

// DeliverRaw discards pre-encoded payloads: the line protocol is built from
// structured measurements only.
func (w *Wavefront) DeliverRaw(orderKey uint64, enc metric.Encoding, payload []byte) {
	w.logger.Tracef("Discarding raw payload of %v bytes.", len(payload))
}

// Flush writes all buffered points over the connection, dialing or
// redialing as needed. Points that cannot be written before the retry
// budget elapses are dropped and counted.
func (w *Wavefront) Flush() {
	if len(w.lines) == 0 {
		return
	}
	payload := []byte(strings.Join(w.lines, "\n") + "\n")

	write := func() error {
		if w.conn == nil {
			conn, err := net.DialTimeout("tcp", w.addr, w.conf.ConnectTimeout)
			if err != nil {
				return err
			}
			w.conn = conn
		}
		if _, err := w.conn.Write(payload); err != nil {
			w.conn.Close()
			w.conn = nil
			return err
		}
		return nil
	}

	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = w.conf.RetryElapsedTime

	if err := backoff.Retry(write, boff); err != nil {
		w.logger.Errorf("Failed to write %v points to %v: %v", len(w.lines), w.addr, err)
		w.mFlushErr.Incr(1)
	} else {
		w.mPointsSent.Incr(int64(len(w.lines)))
	}

	w.lines = nil
	w.bufBytes.Store(0)
}

// ValveState closes once buffered bytes reach the ceiling.
func (w *Wavefront) ValveState() Valve {
	if w.maxBytes > 0 && w.bufBytes.Load() >= w.maxBytes {
		return ValveClosed
	}
	return ValveOpen
}

// Shutdown flushes remaining points and closes the connection.
func (w *Wavefront) Shutdown() {
	w.Flush()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// FlushInterval returns the periodic flush cadence.
func (w *Wavefront) FlushInterval() time.Duration {
	return w.conf.FlushInterval
}
