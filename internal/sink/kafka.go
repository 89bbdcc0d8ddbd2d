package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/millpond/tailrace/internal/delivery"
	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/metric"
	"github.com/millpond/tailrace/internal/metrics"
)

// KafkaConfig holds configuration for the kafka sink.
type KafkaConfig struct {
	// Topic to publish to. Required.
	Topic string `yaml:"topic"`

	// Brokers is a list of seed addresses; items containing commas are
	// expanded into multiple addresses. Required.
	Brokers []string `yaml:"brokers"`

	// MaxInFlightBytes is the saturation ceiling for the valve, as a
	// humanized byte size.
	MaxInFlightBytes string `yaml:"max_in_flight_bytes"`

	// FlushInterval is how often in-flight deliveries are settled.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// MaxFlushPasses optionally bounds the flush retry loop; zero retries
	// until every payload reaches a terminal state.
	MaxFlushPasses int `yaml:"max_flush_passes"`

	// RetryBackoffInterval optionally delays between flush retry passes.
	RetryBackoffInterval time.Duration `yaml:"retry_backoff_interval"`

	// ClientOptions are transport options applied to the client. Recognized
	// keys: client_id, compression (none|gzip|snappy|lz4|zstd), acks
	// (all|one|none). Unknown keys fail construction.
	ClientOptions map[string]string `yaml:"client_options"`
}

// NewKafkaConfig returns a kafka sink config with default values.
func NewKafkaConfig() KafkaConfig {
	return KafkaConfig{
		MaxInFlightBytes: "10MB",
		FlushInterval:    time.Second,
	}
}

//------------------------------------------------------------------------------

// transientProduceCodes are the broker error codes treated as transient:
// well-understood states expected to resolve on resubmission. Anything else
// is terminal.
var transientProduceCodes = map[int16]struct{}{
	kerr.CorruptMessage.Code:               {},
	kerr.UnknownTopicOrPartition.Code:      {},
	kerr.LeaderNotAvailable.Code:           {},
	kerr.NotLeaderForPartition.Code:        {},
	kerr.RequestTimedOut.Code:              {},
	kerr.NetworkException.Code:             {},
	kerr.CoordinatorLoadInProgress.Code:    {},
	kerr.CoordinatorNotAvailable.Code:      {},
	kerr.NotCoordinator.Code:               {},
	kerr.NotEnoughReplicas.Code:            {},
	kerr.NotEnoughReplicasAfterAppend.Code: {},
	kerr.NotController.Code:                {},
}

func retryableProduceErr(err error) bool {
	var ke *kerr.Error
	if errors.As(err, &ke) {
		_, ok := transientProduceCodes[ke.Code]
		return ok
	}
	return false
}

//------------------------------------------------------------------------------

// kafkaTransport adapts the franz-go async producer to the delivery
// transport contract: the produce promise resolves the pending handle,
// handing back the original record so retries reuse its exact bytes.
type kafkaTransport struct {
	client *kgo.Client
	topic  string
}

func (t *kafkaTransport) Submit(key, payload []byte) *delivery.Pending {
	p := delivery.NewPending(len(payload))
	record := &kgo.Record{Topic: t.topic, Key: key, Value: payload}
	t.client.Produce(context.Background(), record, func(r *kgo.Record, err error) {
		res := delivery.Result{Err: err}
		if r != nil {
			res.Key = r.Key
			res.Payload = r.Value
		}
		p.Resolve(res)
	})
	return p
}

//------------------------------------------------------------------------------

// Kafka publishes measurements to a broker topic through the asynchronous
// delivery engine. Measurements are encoded as JSON with the series order
// key as the record key; no partition is pinned.
type Kafka struct {
	conf   KafkaConfig
	client *kgo.Client
	engine *delivery.Engine
	logger log.Modular
}

// NewKafka creates a kafka sink. A missing topic or broker list is a fatal
// configuration error.
func NewKafka(conf KafkaConfig, logger log.Modular, stats metrics.Type) (*Kafka, error) {
	if conf.Topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	if len(conf.Brokers) == 0 {
		return nil, errors.New("kafka sink requires a broker list")
	}

	maxBytes, err := humanize.ParseBytes(conf.MaxInFlightBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid max_in_flight_bytes: %w", err)
	}

	var seeds []string
	for _, b := range conf.Brokers {
		seeds = append(seeds, strings.Split(b, ",")...)
	}

	clientOpts := []kgo.Opt{
		kgo.SeedBrokers(seeds...),
		kgo.AllowAutoTopicCreation(),
	}
	extraOpts, err := parseClientOptions(conf.ClientOptions)
	if err != nil {
		return nil, err
	}
	clientOpts = append(clientOpts, extraOpts...)

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, err
	}

	engineConf := delivery.NewEngineConfig()
	engineConf.MaxInFlightBytes = int64(maxBytes)
	engineConf.MaxFlushPasses = conf.MaxFlushPasses
	engineConf.RetryBackoffInterval = conf.RetryBackoffInterval

	sinkLog := logger.WithFields(map[string]string{"sink": "kafka"})
	k := &Kafka{
		conf:   conf,
		client: client,
		logger: sinkLog,
		engine: delivery.NewEngine(
			engineConf,
			&kafkaTransport{client: client, topic: conf.Topic},
			retryableProduceErr,
			delivery.NewCounters("output.kafka", stats),
			sinkLog,
		),
	}
	sinkLog.Infof("Publishing to topic %v via %v.", conf.Topic, strings.Join(seeds, ","))
	return k, nil
}

func parseClientOptions(options map[string]string) ([]kgo.Opt, error) {
	var opts []kgo.Opt
	for key, value := range options {
		switch key {
		case "client_id":
			opts = append(opts, kgo.ClientID(value))
		case "compression":
			var codec kgo.CompressionCodec
			switch value {
			case "none":
				codec = kgo.NoCompression()
			case "gzip":
				codec = kgo.GzipCompression()
			case "snappy":
				codec = kgo.SnappyCompression()
			case "lz4":
				codec = kgo.Lz4Compression()
			case "zstd":
				codec = kgo.ZstdCompression()
			default:
				return nil, fmt.Errorf("unrecognized compression '%v'", value)
			}
			opts = append(opts, kgo.ProducerBatchCompression(codec))
		case "acks":
			switch value {
			case "all":
				opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
			case "one":
				opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
			case "none":
				opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
			default:
				return nil, fmt.Errorf("unrecognized acks '%v'", value)
			}
		default:
			return nil, fmt.Errorf("unrecognized client option '%v'", key)
		}
	}
	return opts, nil
}

//------------------------------------------------------------------------------

// Deliver encodes one measurement and submits it through the raw path.
func (k *Kafka) Deliver(m *metric.Metric) {
	payload, err := m.EncodeJSON()
	if err != nil {
		k.logger.Errorf("Failed to encode measurement %v: %v", m.Name, err)
		return
	}
	k.DeliverRaw(m.OrderKey(), metric.EncodingJSON, payload)
}

// DeliverRaw submits a pre-encoded payload asynchronously. The broker's
// client handles buffering and batching internally; delivery truth is
// settled at the next flush.
func (k *Kafka) DeliverRaw(orderKey uint64, enc metric.Encoding, payload []byte) {
	key := []byte(fmt.Sprintf("%X", orderKey))
	k.engine.Submit(key, payload)
}

// Flush settles every in-flight delivery, resubmitting recognized transient
// failures until none remain.
func (k *Kafka) Flush() {
	k.engine.Flush()
}

// ValveState closes while in-flight bytes meet or exceed the ceiling.
func (k *Kafka) ValveState() Valve {
	if k.engine.Saturated() {
		return ValveClosed
	}
	return ValveOpen
}

// Shutdown flushes outstanding deliveries and closes the client.
func (k *Kafka) Shutdown() {
	k.Flush()
	k.client.Close()
}

// FlushInterval returns the periodic flush cadence.
func (k *Kafka) FlushInterval() time.Duration {
	return k.conf.FlushInterval
}
