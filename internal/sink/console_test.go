package sink

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
)

func TestConsoleAggregation(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(NewConsoleConfig(), &buf, log.Noop())

	ts := time.Unix(1500000000, 0)
	c.Deliver(metric.New("requests", 2, metric.Counter).WithTime(ts))
	c.Deliver(metric.New("requests", 3, metric.Counter).WithTime(ts))
	c.Deliver(metric.New("temperature", 21.5, metric.Gauge).WithTime(ts))
	c.Deliver(metric.New("latency", 10, metric.Timer).WithTime(ts))
	c.Deliver(metric.New("latency", 30, metric.Timer).WithTime(ts))

	c.Flush()

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "flush "), out)
	assert.Contains(t, out, "  counter requests 5\n")
	assert.Contains(t, out, "  gauge temperature 21.5\n")
	assert.Contains(t, out, "  timer latency min=10 mean=20 max=30\n")

	// The window resets: a second flush with nothing buffered is silent.
	buf.Reset()
	c.Flush()
	assert.Empty(t, buf.String())
}

func TestConsoleSeriesKeyTags(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(NewConsoleConfig(), &buf, log.Noop())

	c.Deliver(metric.New("cpu", 1, metric.Gauge).WithTags(map[string]string{
		"host": "web01", "dc": "ams1",
	}))
	c.Flush()

	assert.Contains(t, buf.String(), "  gauge cpu{dc=ams1,host=web01} 1\n")
}

func TestConsoleValve(t *testing.T) {
	conf := NewConsoleConfig()
	conf.MaxBufferedValues = 2

	c := NewConsole(conf, &bytes.Buffer{}, log.Noop())
	assert.Equal(t, ValveOpen, c.ValveState())

	c.Deliver(metric.New("a", 1, metric.Counter))
	assert.Equal(t, ValveOpen, c.ValveState())

	c.Deliver(metric.New("b", 1, metric.Counter))
	assert.Equal(t, ValveClosed, c.ValveState())

	c.Flush()
	assert.Equal(t, ValveOpen, c.ValveState())
}

func TestConsoleRawDiscarded(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(NewConsoleConfig(), &buf, log.Noop())

	c.DeliverRaw(1, metric.EncodingJSON, []byte("{}"))
	c.Flush()

	assert.Empty(t, buf.String())
}
