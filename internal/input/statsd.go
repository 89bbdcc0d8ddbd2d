// Package input implements the protocol listeners that feed measurement
// batches into the sink fan-out. Parsers are deliberately boundary-level:
// one packet or line becomes one batch event.
package input

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Jeffail/shutdown"

	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
	"github.com/millpond/tailrace/internal/metrics"
	"github.com/millpond/tailrace/internal/sink"
)

// StatsdConfig holds configuration for the statsd UDP listener.
type StatsdConfig struct {
	Address string `yaml:"address"`
}

// NewStatsdConfig returns a statsd listener config with default values.
func NewStatsdConfig() StatsdConfig {
	return StatsdConfig{
		Address: "127.0.0.1:8125",
	}
}

//------------------------------------------------------------------------------

// Statsd reads statsd datagrams and fans each packet out as one batch.
type Statsd struct {
	fanout *sink.FanOut
	logger log.Modular

	mBatches  metrics.StatCounter
	mParseErr metrics.StatCounter

	pc      net.PacketConn
	shutSig *shutdown.Signaller
}

// NewStatsd binds the listener and starts its read loop.
func NewStatsd(conf StatsdConfig, fanout *sink.FanOut, logger log.Modular, stats metrics.Type) (*Statsd, error) {
	pc, err := net.ListenPacket("udp", conf.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind statsd listener: %w", err)
	}

	s := &Statsd{
		fanout:    fanout,
		logger:    logger.WithFields(map[string]string{"input": "statsd"}),
		mBatches:  stats.GetCounter("input.statsd.batches"),
		mParseErr: stats.GetCounter("input.statsd.parse.error"),
		pc:        pc,
		shutSig:   shutdown.NewSignaller(),
	}
	s.logger.Infof("Receiving statsd datagrams on %v.", conf.Address)

	go s.loop()
	return s, nil
}

func (s *Statsd) loop() {
	defer s.shutSig.TriggerHasStopped()

	buf := make([]byte, 65536)
	for {
		n, _, err := s.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.shutSig.SoftStopChan():
				return
			default:
			}
			s.logger.Errorf("Read failed: %v", err)
			continue
		}

		batch := s.parsePacket(string(buf[:n]))
		if len(batch) > 0 {
			s.fanout.Send(sink.NewBatchEvent("statsd", batch))
			s.mBatches.Incr(1)
		}
	}
}

func (s *Statsd) parsePacket(packet string) []*metric.Metric {
	var batch []*metric.Metric
	for _, line := range strings.Split(packet, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m, err := parseStatsdLine(line)
		if err != nil {
			s.logger.Debugf("Dropping line %q: %v", line, err)
			s.mParseErr.Incr(1)
			continue
		}
		batch = append(batch, m)
	}
	return batch
}

// parseStatsdLine parses "name:value|type[|@rate]".
func parseStatsdLine(line string) (*metric.Metric, error) {
	nameEnd := strings.IndexByte(line, ':')
	if nameEnd <= 0 {
		return nil, fmt.Errorf("missing name separator")
	}
	name := line[:nameEnd]

	parts := strings.Split(line[nameEnd+1:], "|")
	if len(parts) < 2 {
		return nil, fmt.Errorf("missing type field")
	}

	value, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", parts[0])
	}

	var kind metric.Kind
	switch parts[1] {
	case "c":
		kind = metric.Counter
	case "g":
		kind = metric.Gauge
	case "ms", "h":
		kind = metric.Timer
	default:
		return nil, fmt.Errorf("unrecognized type %q", parts[1])
	}

	if len(parts) > 2 && strings.HasPrefix(parts[2], "@") && kind == metric.Counter {
		rate, err := strconv.ParseFloat(parts[2][1:], 64)
		if err != nil || rate <= 0 || rate > 1 {
			return nil, fmt.Errorf("invalid sample rate %q", parts[2])
		}
		value /= rate
	}

	return metric.New(name, value, kind), nil
}

// Addr returns the bound listen address.
func (s *Statsd) Addr() net.Addr {
	return s.pc.LocalAddr()
}

// Stop closes the listener and waits for the read loop to exit.
func (s *Statsd) Stop() {
	s.shutSig.TriggerSoftStop()
	s.pc.Close()
	<-s.shutSig.HasStoppedChan()
}
