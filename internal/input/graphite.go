package input

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jeffail/shutdown"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
	"github.com/millpond/tailrace/internal/metrics"
	"github.com/millpond/tailrace/internal/sink"
)

// GraphiteConfig holds configuration for the graphite TCP listener.
type GraphiteConfig struct {
	Address string `yaml:"address"`
}

// NewGraphiteConfig returns a graphite listener config with default values.
func NewGraphiteConfig() GraphiteConfig {
	return GraphiteConfig{
		Address: "127.0.0.1:2003",
	}
}

//------------------------------------------------------------------------------

// Graphite accepts plaintext-protocol connections and fans each line out as
// a single-measurement batch, preserving arrival order per connection.
type Graphite struct {
	fanout *sink.FanOut
	logger log.Modular

	mPoints   metrics.StatCounter
	mParseErr metrics.StatCounter

	ln      net.Listener
	connWG  sync.WaitGroup
	shutSig *shutdown.Signaller
}

// NewGraphite binds the listener and starts its accept loop.
func NewGraphite(conf GraphiteConfig, fanout *sink.FanOut, logger log.Modular, stats metrics.Type) (*Graphite, error) {
	ln, err := net.Listen("tcp", conf.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind graphite listener: %w", err)
	}

	g := &Graphite{
		fanout:    fanout,
		logger:    logger.WithFields(map[string]string{"input": "graphite"}),
		mPoints:   stats.GetCounter("input.graphite.points"),
		mParseErr: stats.GetCounter("input.graphite.parse.error"),
		ln:        ln,
		shutSig:   shutdown.NewSignaller(),
	}
	g.logger.Infof("Receiving graphite plaintext on %v.", conf.Address)

	go g.acceptLoop()
	return g, nil
}

func (g *Graphite) acceptLoop() {
	defer g.shutSig.TriggerHasStopped()

	for {
		conn, err := g.ln.Accept()
		if err != nil {
			select {
			case <-g.shutSig.SoftStopChan():
				g.connWG.Wait()
				return
			default:
			}
			g.logger.Errorf("Accept failed: %v", err)
			continue
		}

		g.connWG.Add(1)
		go func(conn net.Conn) {
			defer g.connWG.Done()
			defer conn.Close()
			g.readConn(conn)
		}(conn)
	}
}

func (g *Graphite) readConn(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m, err := parseGraphiteLine(line)
		if err != nil {
			g.logger.Debugf("Dropping line %q: %v", line, err)
			g.mParseErr.Incr(1)
			continue
		}
		g.fanout.Send(sink.NewBatchEvent("graphite", []*metric.Metric{m}))
		g.mPoints.Incr(1)
	}
}

// parseGraphiteLine parses "name value [timestamp]".
func parseGraphiteLine(line string) (*metric.Metric, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return nil, fmt.Errorf("expected 2 or 3 fields, got %v", len(fields))
	}

	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", fields[1])
	}

	m := metric.New(fields[0], value, metric.Raw)
	if len(fields) == 3 {
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", fields[2])
		}
		m = m.WithTime(time.Unix(ts, 0))
	}
	return m, nil
}

// Addr returns the bound listen address.
func (g *Graphite) Addr() net.Addr {
	return g.ln.Addr()
}

// Stop closes the listener, waits for open connections to finish, and
// returns once the accept loop has exited.
func (g *Graphite) Stop() {
	g.shutSig.TriggerSoftStop()
	g.ln.Close()
	<-g.shutSig.HasStoppedChan()
}
