package delivery_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millpond/tailrace/internal/delivery"
	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metrics"
)

var errTransient = errors.New("leader not available")

type submission struct {
	key     string
	payload string
}

// stubTransport resolves each submission synchronously from a scripted
// queue of results per payload. Payloads without a script succeed.
type stubTransport struct {
	scripted    map[string][]delivery.Result
	submissions []submission
}

func newStubTransport() *stubTransport {
	return &stubTransport{scripted: map[string][]delivery.Result{}}
}

func (s *stubTransport) scriptResult(payload string, res delivery.Result) {
	s.scripted[payload] = append(s.scripted[payload], res)
}

func (s *stubTransport) Submit(key, payload []byte) *delivery.Pending {
	s.submissions = append(s.submissions, submission{key: string(key), payload: string(payload)})

	res := delivery.Result{Key: key, Payload: payload}
	if q := s.scripted[string(payload)]; len(q) > 0 {
		res = q[0]
		s.scripted[string(payload)] = q[1:]
	}

	p := delivery.NewPending(len(payload))
	p.Resolve(res)
	return p
}

func newTestEngine(t *testing.T, conf delivery.EngineConfig, tr delivery.Transport) (*delivery.Engine, *metrics.Local) {
	t.Helper()
	stats := metrics.NewLocal()
	e := delivery.NewEngine(
		conf, tr,
		func(err error) bool { return errors.Is(err, errTransient) },
		delivery.NewCounters("output.test", stats),
		log.Noop(),
	)
	return e, stats
}

func counterSnapshot(stats *metrics.Local) map[string]int64 {
	all := stats.GetCounters()
	return map[string]int64{
		"success":    all["output.test.publish.success"],
		"retry":      all["output.test.publish.retry"],
		"failure":    all["output.test.publish.failure"],
		"retry_lost": all["output.test.publish.retry.lost"],
	}
}

//------------------------------------------------------------------------------

func TestEngineFlushEmptiesInFlight(t *testing.T) {
	tr := newStubTransport()
	e, stats := newTestEngine(t, delivery.NewEngineConfig(), tr)

	for i := 0; i < 5; i++ {
		e.Submit([]byte(fmt.Sprintf("k%v", i)), []byte(fmt.Sprintf("payload-%v", i)))
	}
	assert.Equal(t, 5, e.InFlight())
	assert.Equal(t, int64(5*len("payload-0")), e.InFlightBytes())

	e.Flush()

	assert.Equal(t, 0, e.InFlight())
	assert.Equal(t, int64(0), e.InFlightBytes())
	assert.Equal(t, map[string]int64{
		"success": 5, "retry": 0, "failure": 0, "retry_lost": 0,
	}, counterSnapshot(stats))
}

func TestEngineFlushOnEmpty(t *testing.T) {
	tr := newStubTransport()
	e, stats := newTestEngine(t, delivery.NewEngineConfig(), tr)

	e.Flush()

	assert.Equal(t, 0, e.InFlight())
	assert.Empty(t, tr.submissions)
	assert.Equal(t, map[string]int64{
		"success": 0, "retry": 0, "failure": 0, "retry_lost": 0,
	}, counterSnapshot(stats))
}

func TestEngineSaturation(t *testing.T) {
	conf := delivery.NewEngineConfig()
	conf.MaxInFlightBytes = 10 * (1 << 20)

	tr := newStubTransport()
	e, _ := newTestEngine(t, conf, tr)

	payload := make([]byte, 4*(1<<20))

	e.Submit([]byte("a"), payload)
	assert.False(t, e.Saturated())

	e.Submit([]byte("b"), payload)
	assert.False(t, e.Saturated())
	assert.Equal(t, int64(8*(1<<20)), e.InFlightBytes())

	e.Submit([]byte("c"), payload)
	assert.True(t, e.Saturated())
	assert.Equal(t, int64(12*(1<<20)), e.InFlightBytes())

	e.Flush()
	assert.False(t, e.Saturated())
	assert.Equal(t, int64(0), e.InFlightBytes())
}

func TestEngineTransientRetryThenSuccess(t *testing.T) {
	tr := newStubTransport()
	tr.scriptResult("payload", delivery.Result{
		Err: errTransient, Key: []byte("k"), Payload: []byte("payload"),
	})

	e, stats := newTestEngine(t, delivery.NewEngineConfig(), tr)

	e.Submit([]byte("k"), []byte("payload"))
	e.Flush()

	require.Len(t, tr.submissions, 2)
	assert.Equal(t, tr.submissions[0], tr.submissions[1], "retry must resubmit identical key and bytes")
	assert.Equal(t, map[string]int64{
		"success": 1, "retry": 1, "failure": 0, "retry_lost": 0,
	}, counterSnapshot(stats))
	assert.Equal(t, 0, e.InFlight())
}

func TestEngineFatalError(t *testing.T) {
	tr := newStubTransport()
	tr.scriptResult("payload", delivery.Result{
		Err: errors.New("message too large"), Key: []byte("k"), Payload: []byte("payload"),
	})

	e, stats := newTestEngine(t, delivery.NewEngineConfig(), tr)

	e.Submit([]byte("k"), []byte("payload"))
	e.Flush()

	assert.Len(t, tr.submissions, 1, "fatal payloads must not be resubmitted")
	assert.Equal(t, map[string]int64{
		"success": 0, "retry": 0, "failure": 1, "retry_lost": 0,
	}, counterSnapshot(stats))
}

func TestEngineRetryLost(t *testing.T) {
	tr := newStubTransport()
	tr.scriptResult("payload", delivery.Result{Err: errTransient})

	e, stats := newTestEngine(t, delivery.NewEngineConfig(), tr)

	e.Submit([]byte("k"), []byte("payload"))
	e.Flush()

	assert.Len(t, tr.submissions, 1, "lost payloads cannot be resubmitted")
	assert.Equal(t, map[string]int64{
		"success": 0, "retry": 0, "failure": 0, "retry_lost": 1,
	}, counterSnapshot(stats))
	assert.Equal(t, 0, e.InFlight())
	assert.Equal(t, int64(0), e.InFlightBytes())
}

func TestEngineMixedOutcomes(t *testing.T) {
	tr := newStubTransport()
	tr.scriptResult("retryable", delivery.Result{
		Err: errTransient, Key: []byte("r"), Payload: []byte("retryable"),
	})
	tr.scriptResult("fatal", delivery.Result{
		Err: errors.New("unknown code"), Key: []byte("f"), Payload: []byte("fatal"),
	})
	tr.scriptResult("lost", delivery.Result{Err: errTransient})

	e, stats := newTestEngine(t, delivery.NewEngineConfig(), tr)

	e.Submit([]byte("ok"), []byte("delivered"))
	e.Submit([]byte("r"), []byte("retryable"))
	e.Submit([]byte("f"), []byte("fatal"))
	e.Submit([]byte("l"), []byte("lost"))
	e.Flush()

	assert.Equal(t, map[string]int64{
		"success": 2, "retry": 1, "failure": 1, "retry_lost": 1,
	}, counterSnapshot(stats))
	assert.Equal(t, 0, e.InFlight())
}

func TestEngineBoundedFlushPasses(t *testing.T) {
	tr := newStubTransport()
	for i := 0; i < 10; i++ {
		tr.scriptResult("stuck", delivery.Result{
			Err: errTransient, Key: []byte("k"), Payload: []byte("stuck"),
		})
	}

	conf := delivery.NewEngineConfig()
	conf.MaxFlushPasses = 3

	e, stats := newTestEngine(t, conf, tr)

	e.Submit([]byte("k"), []byte("stuck"))
	e.Flush()

	// Two resubmissions, then the pass budget is exhausted and the payload
	// is dropped as a failure.
	assert.Len(t, tr.submissions, 3)
	assert.Equal(t, map[string]int64{
		"success": 0, "retry": 2, "failure": 1, "retry_lost": 0,
	}, counterSnapshot(stats))
	assert.Equal(t, 0, e.InFlight())
	assert.Equal(t, int64(0), e.InFlightBytes())
}
