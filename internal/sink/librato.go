package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
	"github.com/millpond/tailrace/internal/metrics"
)

// LibratoConfig holds configuration for the librato HTTP batch sink.
type LibratoConfig struct {
	Username          string        `yaml:"username"`
	Token             string        `yaml:"token"`
	Source            string        `yaml:"source"`
	Host              string        `yaml:"host"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	MaxBufferedValues int           `yaml:"max_buffered_values"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// NewLibratoConfig returns a librato sink config with default values.
func NewLibratoConfig() LibratoConfig {
	return LibratoConfig{
		Source:            "tailrace",
		Host:              "https://metrics-api.librato.com/v1/metrics",
		FlushInterval:     time.Second * 10,
		MaxBufferedValues: 100000,
		RequestTimeout:    time.Second * 10,
	}
}

//------------------------------------------------------------------------------

type libratoEntry struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	MeasureTime int64   `json:"measure_time"`
	Source      string  `json:"source,omitempty"`
}

type libratoBody struct {
	Gauges   []libratoEntry `json:"gauges,omitempty"`
	Counters []libratoEntry `json:"counters,omitempty"`
}

// Librato buffers measurements and POSTs them as a JSON batch on flush.
// Librato has no arbitrary tag support, only a source, so tags beyond the
// configured source are not forwarded.
type Librato struct {
	conf   LibratoConfig
	client *http.Client

	body     libratoBody
	buffered atomic.Int64

	logger      log.Modular
	mValuesSent metrics.StatCounter
	mSendErr    metrics.StatCounter
}

// NewLibrato creates a librato sink. Missing credentials are a fatal
// configuration error.
func NewLibrato(conf LibratoConfig, logger log.Modular, stats metrics.Type) (*Librato, error) {
	if conf.Username == "" {
		return nil, errors.New("librato sink requires a username")
	}
	if conf.Token == "" {
		return nil, errors.New("librato sink requires a token")
	}

	return &Librato{
		conf:        conf,
		client:      &http.Client{Timeout: conf.RequestTimeout},
		logger:      logger.WithFields(map[string]string{"sink": "librato"}),
		mValuesSent: stats.GetCounter("output.librato.values.sent"),
		mSendErr:    stats.GetCounter("output.librato.send.error"),
	}, nil
}

// Deliver buffers one measurement into the pending batch.
func (l *Librato) Deliver(m *metric.Metric) {
	entry := libratoEntry{
		Name:        m.Name,
		Value:       m.Value,
		MeasureTime: m.Time.Unix(),
		Source:      l.conf.Source,
	}
	if m.Kind == metric.Counter {
		l.body.Counters = append(l.body.Counters, entry)
	} else {
		l.body.Gauges = append(l.body.Gauges, entry)
	}
	l.buffered.Add(1)
}

// DeliverRaw discards pre-encoded payloads: the API body is built from
// structured measurements only.
func (l *Librato) DeliverRaw(orderKey uint64, enc metric.Encoding, payload []byte) {
	l.logger.Tracef("Discarding raw payload of %v bytes.", len(payload))
}

// Flush POSTs the pending batch. A failed request drops the batch, counted
// and logged rather than silent.
func (l *Librato) Flush() {
	count := l.buffered.Load()
	if count == 0 {
		return
	}

	body, err := json.Marshal(l.body)
	l.body = libratoBody{}
	l.buffered.Store(0)
	if err != nil {
		l.logger.Errorf("Failed to encode batch: %v", err)
		l.mSendErr.Incr(1)
		return
	}

	req, err := http.NewRequest(http.MethodPost, l.conf.Host, bytes.NewReader(body))
	if err != nil {
		l.logger.Errorf("Failed to build request: %v", err)
		l.mSendErr.Incr(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(l.conf.Username, l.conf.Token)

	res, err := l.client.Do(req)
	if err != nil {
		l.logger.Errorf("Failed to send %v values: %v", count, err)
		l.mSendErr.Incr(1)
		return
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		l.logger.Errorf("Batch of %v values rejected with status %v: %v", count, res.StatusCode, string(detail))
		l.mSendErr.Incr(1)
		return
	}
	l.mValuesSent.Incr(count)
}

// ValveState closes once the buffered value count reaches the ceiling.
func (l *Librato) ValveState() Valve {
	if l.conf.MaxBufferedValues > 0 && l.buffered.Load() >= int64(l.conf.MaxBufferedValues) {
		return ValveClosed
	}
	return ValveOpen
}

// Shutdown flushes any pending batch.
func (l *Librato) Shutdown() {
	l.Flush()
}

// FlushInterval returns the periodic flush cadence.
func (l *Librato) FlushInterval() time.Duration {
	return l.conf.FlushInterval
}
