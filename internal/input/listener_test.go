package input

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
	"github.com/millpond/tailrace/internal/metrics"
	"github.com/millpond/tailrace/internal/sink"
)

// captureSink records deliveries for assertions.
type captureSink struct {
	mu        sync.Mutex
	delivered []*metric.Metric
	shutdowns int
}

func (c *captureSink) Deliver(m *metric.Metric) {
	c.mu.Lock()
	c.delivered = append(c.delivered, m)
	c.mu.Unlock()
}

func (c *captureSink) DeliverRaw(orderKey uint64, enc metric.Encoding, payload []byte) {}
func (c *captureSink) Flush()                                                          {}
func (c *captureSink) ValveState() sink.Valve                                          { return sink.ValveOpen }
func (c *captureSink) FlushInterval() time.Duration                                    { return 0 }

func (c *captureSink) Shutdown() {
	c.mu.Lock()
	c.shutdowns++
	c.mu.Unlock()
}

func (c *captureSink) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.delivered))
	for _, m := range c.delivered {
		names = append(names, m.Name)
	}
	return names
}

//------------------------------------------------------------------------------

func TestStatsdListener(t *testing.T) {
	capture := &captureSink{}
	fanout := sink.NewFanOut([]sink.Type{capture}, 16, log.Noop(), metrics.NewLocal())

	conf := NewStatsdConfig()
	conf.Address = "127.0.0.1:0"

	stats := metrics.NewLocal()
	s, err := NewStatsd(conf, fanout, log.Noop(), stats)
	require.NoError(t, err)

	conn, err := net.Dial("udp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("requests:5|c\ntemperature:21.5|g\nbogus line\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(capture.names()) == 2
	}, time.Second*5, time.Millisecond*10)

	assert.Equal(t, []string{"requests", "temperature"}, capture.names())
	assert.Equal(t, int64(1), stats.GetCounters()["input.statsd.parse.error"])

	s.Stop()
	fanout.Close()
}

func TestGraphiteListener(t *testing.T) {
	capture := &captureSink{}
	fanout := sink.NewFanOut([]sink.Type{capture}, 16, log.Noop(), metrics.NewLocal())

	conf := NewGraphiteConfig()
	conf.Address = "127.0.0.1:0"

	stats := metrics.NewLocal()
	g, err := NewGraphite(conf, fanout, log.Noop(), stats)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", g.Addr().String())
	require.NoError(t, err)

	_, err = conn.Write([]byte("servers.web01.cpu 0.5 1500000000\nservers.web01.mem 1024\n"))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return len(capture.names()) == 2
	}, time.Second*5, time.Millisecond*10)

	assert.Equal(t, []string{"servers.web01.cpu", "servers.web01.mem"}, capture.names())

	g.Stop()
	fanout.Close()
}
