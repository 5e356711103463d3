package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/V4T54L/logpipe/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the adapter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type dialFunc func(ctx context.Context, network, address string) (*kafkago.Conn, error)

// WriterConfig configures a Writer.
type WriterConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks string // none | leader | all
	BatchTimeout time.Duration
}

// ParseRequiredAcks maps the configured acknowledgment level to kafka-go's value.
func ParseRequiredAcks(s string) (kafkago.RequiredAcks, error) {
	switch s {
	case "none":
		return kafkago.RequireNone, nil
	case "leader", "one":
		return kafkago.RequireOne, nil
	case "all", "":
		return kafkago.RequireAll, nil
	default:
		return 0, fmt.Errorf("unknown required acks %q", s)
	}
}

// Writer implements domain.BrokerWriter on top of a kafka-go Writer.
// Retries are left to the caller, so the underlying writer makes a single attempt.
type Writer struct {
	w       messageWriter
	brokers []string
	topic   string
	dial    dialFunc
	logger  *slog.Logger
}

// NewWriter creates a Writer publishing to cfg.Topic. Messages are keyed, and the
// hash balancer keeps events with the same key on the same partition.
func NewWriter(cfg WriterConfig, logger *slog.Logger) (*Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	acks, err := ParseRequiredAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	logger = logger.With("component", "kafka_writer", "topic", cfg.Topic)
	kw := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           acks,
		MaxAttempts:            1,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
	}

	return newWriter(kw, cfg.Brokers, cfg.Topic, kafkago.DialContext, logger), nil
}

func newWriter(w messageWriter, brokers []string, topic string, dial dialFunc, logger *slog.Logger) *Writer {
	return &Writer{w: w, brokers: brokers, topic: topic, dial: dial, logger: logger}
}

func (w *Writer) Write(ctx context.Context, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafkago.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toKafkaMessage(msg))
	}
	if err := w.w.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("kafka write to %s: %w", w.topic, classifyError(err))
	}
	return nil
}

// Ping dials the bootstrap brokers until one answers.
func (w *Writer) Ping(ctx context.Context) error {
	return ping(ctx, w.dial, w.brokers)
}

func (w *Writer) Close() error {
	return w.w.Close()
}

func ping(ctx context.Context, dial dialFunc, brokers []string) error {
	var errs []error
	for _, addr := range brokers {
		conn, err := dial(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("%w: no kafka broker reachable: %w", domain.ErrConnection, errors.Join(errs...))
}

// toKafkaMessage leaves Topic empty: kafka-go rejects per-message topics on a
// writer that already has one.
func toKafkaMessage(msg domain.Message) kafkago.Message {
	km := kafkago.Message{Key: msg.Key, Value: msg.Value, Time: msg.Time}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return km
}

func fromKafkaMessage(km kafkago.Message) domain.Message {
	msg := domain.Message{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Time:      km.Time,
	}
	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
