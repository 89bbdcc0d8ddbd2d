package sink

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
	"github.com/millpond/tailrace/internal/metrics"
)

func TestLibratoRequiresCredentials(t *testing.T) {
	conf := NewLibratoConfig()
	_, err := NewLibrato(conf, log.Noop(), metrics.NewLocal())
	require.Error(t, err)

	conf.Username = "ops@example.com"
	_, err = NewLibrato(conf, log.Noop(), metrics.NewLocal())
	require.Error(t, err)

	conf.Token = "s3cret"
	_, err = NewLibrato(conf, log.Noop(), metrics.NewLocal())
	require.NoError(t, err)
}

func TestLibratoFlushPostsBatch(t *testing.T) {
	type received struct {
		user, pass string
		body       libratoBody
	}
	recChan := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		data, _ := io.ReadAll(r.Body)
		var body libratoBody
		_ = json.Unmarshal(data, &body)
		recChan <- received{user: user, pass: pass, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	conf := NewLibratoConfig()
	conf.Username = "ops@example.com"
	conf.Token = "s3cret"
	conf.Host = srv.URL

	stats := metrics.NewLocal()
	l, err := NewLibrato(conf, log.Noop(), stats)
	require.NoError(t, err)

	ts := time.Unix(1500000000, 0)
	l.Deliver(metric.New("requests", 5, metric.Counter).WithTime(ts))
	l.Deliver(metric.New("temperature", 21.5, metric.Gauge).WithTime(ts))
	l.Flush()

	rec := <-recChan
	assert.Equal(t, "ops@example.com", rec.user)
	assert.Equal(t, "s3cret", rec.pass)
	require.Len(t, rec.body.Counters, 1)
	require.Len(t, rec.body.Gauges, 1)
	assert.Equal(t, "requests", rec.body.Counters[0].Name)
	assert.Equal(t, float64(5), rec.body.Counters[0].Value)
	assert.Equal(t, int64(1500000000), rec.body.Counters[0].MeasureTime)
	assert.Equal(t, "tailrace", rec.body.Counters[0].Source)
	assert.Equal(t, "temperature", rec.body.Gauges[0].Name)

	assert.Equal(t, int64(2), stats.GetCounters()["output.librato.values.sent"])
}

func TestLibratoRejectedBatchCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	conf := NewLibratoConfig()
	conf.Username = "ops@example.com"
	conf.Token = "s3cret"
	conf.Host = srv.URL

	stats := metrics.NewLocal()
	l, err := NewLibrato(conf, log.Noop(), stats)
	require.NoError(t, err)

	l.Deliver(metric.New("requests", 5, metric.Counter))
	l.Flush()

	counters := stats.GetCounters()
	assert.Equal(t, int64(1), counters["output.librato.send.error"])
	assert.Equal(t, int64(0), counters["output.librato.values.sent"])
	assert.Equal(t, ValveOpen, l.ValveState())
}

func TestLibratoValve(t *testing.T) {
	conf := NewLibratoConfig()
	conf.Username = "ops@example.com"
	conf.Token = "s3cret"
	conf.MaxBufferedValues = 1

	l, err := NewLibrato(conf, log.Noop(), metrics.NewLocal())
	require.NoError(t, err)

	assert.Equal(t, ValveOpen, l.ValveState())
	l.Deliver(metric.New("requests", 5, metric.Counter))
	assert.Equal(t, ValveClosed, l.ValveState())
}
