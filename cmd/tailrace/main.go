package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/millpond/tailrace/internal/config"
	"github.com/millpond/tailrace/internal/input"
	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metrics"
	"github.com/millpond/tailrace/internal/sink"
)

// Version is set by the build system.
var Version = "0.0.0"

func main() {
	app := &cli.App{
		Name:    "tailrace",
		Usage:   "Receive telemetry streams and deliver them to configured sinks",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/tailrace/tailrace.yaml",
				Usage:   "a path to a configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.String("config"))
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the daemon against a configuration file",
				Action: func(c *cli.Context) error {
					return run(c.String("config"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

//------------------------------------------------------------------------------

func run(confPath string) error {
	conf, err := config.Read(confPath)
	if err != nil {
		return err
	}

	logger, err := log.New(os.Stdout, conf.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	var stats metrics.Type = metrics.NewLocal()
	if conf.Metrics.Prometheus.Enabled {
		prom := metrics.NewPrometheus("tailrace")
		stats = prom

		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", prom.HandlerFunc())
		go func() {
			if herr := http.ListenAndServe(conf.Metrics.Prometheus.Address, mux); herr != nil {
				logger.Errorf("Metrics server stopped: %v", herr)
			}
		}()
		logger.Infof("Serving prometheus metrics at http://%v/metrics", conf.Metrics.Prometheus.Address)
	}
	defer stats.Close()

	sinks, err := buildSinks(conf, logger, stats)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		return fmt.Errorf("no sinks enabled")
	}

	fanout := sink.NewFanOut(sinks, conf.EventChannelDepth, logger, stats)

	inputs, err := buildInputs(conf, fanout, logger, stats)
	if err != nil {
		fanout.Close()
		return err
	}
	if len(inputs) == 0 {
		fanout.Close()
		return fmt.Errorf("no inputs enabled")
	}

	logger.Infof("Launching tailrace %v, use CTRL+C to close.", Version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("Received %v, the service is closing.", sig)

	// Inputs stop first so no new events race the fan-out teardown, then the
	// fan-out drains and shuts each sink down.
	for _, stop := range inputs {
		stop()
	}
	fanout.Close()
	return nil
}

func buildSinks(conf config.Config, logger log.Modular, stats metrics.Type) ([]sink.Type, error) {
	var sinks []sink.Type

	if conf.Sinks.Console.Enabled {
		sinks = append(sinks, sink.NewConsole(conf.Sinks.Console.SinkConfig(), os.Stdout, logger))
	}
	if conf.Sinks.Wavefront.Enabled {
		s, err := sink.NewWavefront(conf.Sinks.Wavefront.SinkConfig(), logger, stats)
		if err != nil {
			return nil, fmt.Errorf("failed to create wavefront sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if conf.Sinks.Librato.Enabled {
		s, err := sink.NewLibrato(conf.Sinks.Librato.SinkConfig(), logger, stats)
		if err != nil {
			return nil, fmt.Errorf("failed to create librato sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if conf.Sinks.Kafka.Enabled {
		s, err := sink.NewKafka(conf.Sinks.Kafka.SinkConfig(), logger, stats)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func buildInputs(conf config.Config, fanout *sink.FanOut, logger log.Modular, stats metrics.Type) ([]func(), error) {
	var stops []func()

	if conf.Inputs.Statsd.Enabled {
		statsdConf := input.NewStatsdConfig()
		statsdConf.Address = conf.Inputs.Statsd.Address
		s, err := input.NewStatsd(statsdConf, fanout, logger, stats)
		if err != nil {
			return nil, err
		}
		stops = append(stops, s.Stop)
	}
	if conf.Inputs.Graphite.Enabled {
		graphiteConf := input.NewGraphiteConfig()
		graphiteConf.Address = conf.Inputs.Graphite.Address
		g, err := input.NewGraphite(graphiteConf, fanout, logger, stats)
		if err != nil {
			return nil, err
		}
		stops = append(stops, g.Stop)
	}
	return stops, nil
}
