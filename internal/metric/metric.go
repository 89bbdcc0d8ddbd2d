// Package metric defines the measurement value shared across sinks. A
// Metric is created by an ingestion source and is read-only from then on;
// fan-out hands the same pointer to every sink.
package metric

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"time"
)

// Kind discriminates how a measurement's value should be aggregated.
type Kind int

// Measurement kinds.
const (
	Counter Kind = iota
	Gauge
	Timer
	Raw
)

// String returns a human readable kind name.
func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Timer:
		return "timer"
	case Raw:
		return "raw"
	}
	return "unknown"
}

// Encoding identifies the wire encoding of a raw payload handed to a sink.
type Encoding int

// Raw payload encodings.
const (
	EncodingJSON Encoding = iota
	EncodingText
)

//------------------------------------------------------------------------------

// Metric is one observed measurement. Fields must not be mutated once the
// metric has been handed to the fan-out.
type Metric struct {
	Name  string            `json:"name"`
	Value float64           `json:"value"`
	Kind  Kind              `json:"kind"`
	Tags  map[string]string `json:"tags,omitempty"`
	Time  time.Time         `json:"time"`
}

// New creates a measurement stamped with the current time.
func New(name string, value float64, kind Kind) *Metric {
	return &Metric{
		Name:  name,
		Value: value,
		Kind:  kind,
		Time:  time.Now(),
	}
}

// WithTags returns the metric with its tag set assigned. Intended for use
// during construction only.
func (m *Metric) WithTags(tags map[string]string) *Metric {
	m.Tags = tags
	return m
}

// WithTime returns the metric with an explicit observation time. Intended
// for use during construction only.
func (m *Metric) WithTime(t time.Time) *Metric {
	m.Time = t
	return m
}

// OrderKey returns a stable identity for the metric's series (name plus
// tags), used as the dispatch key for partitioned transports.
func (m *Metric) OrderKey() uint64 {
	h := fnv.New64a()
	h.Write([]byte(m.Name))

	if len(m.Tags) > 0 {
		keys := make([]string, 0, len(m.Tags))
		for k := range m.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte{0})
			h.Write([]byte(k))
			h.Write([]byte{'='})
			h.Write([]byte(m.Tags[k]))
		}
	}
	return h.Sum64()
}

// EncodeJSON returns the canonical JSON encoding of the metric.
func (m *Metric) EncodeJSON() ([]byte, error) {
	return json.Marshal(m)
}
