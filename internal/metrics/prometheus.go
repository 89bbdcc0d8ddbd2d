package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//------------------------------------------------------------------------------

// PromCounter wraps a prometheus counter.
type PromCounter struct {
	ctr prometheus.Counter
}

// Incr increments the counter by an amount.
func (p *PromCounter) Incr(count int64) {
	p.ctr.Add(float64(count))
}

// PromGauge wraps a prometheus gauge.
type PromGauge struct {
	ctr prometheus.Gauge
}

// Set sets the value of the gauge.
func (p *PromGauge) Set(value int64) {
	p.ctr.Set(float64(value))
}

// Incr increments the gauge by an amount.
func (p *PromGauge) Incr(count int64) {
	p.ctr.Add(float64(count))
}

// Decr decrements the gauge by an amount.
func (p *PromGauge) Decr(count int64) {
	p.ctr.Add(float64(-count))
}

//------------------------------------------------------------------------------

// Prometheus is a metrics aggregator exposing stats for a prometheus scrape
// endpoint.
type Prometheus struct {
	prefix string
	reg    *prometheus.Registry

	counters map[string]*PromCounter
	gauges   map[string]*PromGauge

	mut sync.Mutex
}

// NewPrometheus creates and returns a new Prometheus aggregator. All metric
// paths are prefixed and have path separators converted to underscores.
func NewPrometheus(prefix string) *Prometheus {
	return &Prometheus{
		prefix:   prefix,
		reg:      prometheus.NewRegistry(),
		counters: map[string]*PromCounter{},
		gauges:   map[string]*PromGauge{},
	}
}

func (p *Prometheus) toPromName(path string) string {
	name := strings.ReplaceAll(path, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	if p.prefix != "" {
		name = p.prefix + "_" + name
	}
	return name
}

// GetCounter returns a stat counter object for a path.
func (p *Prometheus) GetCounter(path string) StatCounter {
	name := p.toPromName(path)

	p.mut.Lock()
	defer p.mut.Unlock()

	if ctr, exists := p.counters[name]; exists {
		return ctr
	}

	ctr := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: "Tailrace counter metric",
	})
	p.reg.MustRegister(ctr)

	wrapped := &PromCounter{ctr: ctr}
	p.counters[name] = wrapped
	return wrapped
}

// GetGauge returns a stat gauge object for a path.
func (p *Prometheus) GetGauge(path string) StatGauge {
	name := p.toPromName(path)

	p.mut.Lock()
	defer p.mut.Unlock()

	if gge, exists := p.gauges[name]; exists {
		return gge
	}

	gge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: "Tailrace gauge metric",
	})
	p.reg.MustRegister(gge)

	wrapped := &PromGauge{ctr: gge}
	p.gauges[name] = wrapped
	return wrapped
}

// HandlerFunc returns an HTTP handler for scraping the registered metrics.
func (p *Prometheus) HandlerFunc() http.HandlerFunc {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}).ServeHTTP
}

// Close stops the aggregator.
func (p *Prometheus) Close() error {
	return nil
}
