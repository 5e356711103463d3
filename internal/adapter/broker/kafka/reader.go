package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/V4T54L/logpipe/internal/domain"
)

// messageReader is the subset of *kafkago.Reader the adapter uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ReaderConfig configures readers produced by NewReaderFactory.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// Reader implements domain.BrokerReader for one consumer group member.
// Offsets are committed explicitly, one message at a time.
type Reader struct {
	r      messageReader
	logger *slog.Logger
}

// NewReaderFactory returns a factory that checks broker reachability and then joins
// the consumer group. A group without committed offsets starts from the earliest
// retained record.
func NewReaderFactory(cfg ReaderConfig, logger *slog.Logger) domain.ReaderFactory {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	logger = logger.With("component", "kafka_reader", "topic", cfg.Topic, "group", cfg.GroupID)

	return func(ctx context.Context) (domain.BrokerReader, error) {
		if err := ping(ctx, kafkago.DialContext, cfg.Brokers); err != nil {
			return nil, err
		}
		kr := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          cfg.Topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        cfg.MaxWait,
			StartOffset:    kafkago.FirstOffset,
			CommitInterval: 0,
			ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Debug(fmt.Sprintf(msg, args...))
			}),
		})
		logger.Info("joined consumer group")
		return newReader(kr, logger), nil
	}
}

func newReader(r messageReader, logger *slog.Logger) *Reader {
	return &Reader{r: r, logger: logger}
}

func (r *Reader) Fetch(ctx context.Context) (domain.Message, error) {
	km, err := r.r.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Message{}, ctx.Err()
		}
		return domain.Message{}, fmt.Errorf("kafka fetch: %w", classifyError(err))
	}
	return fromKafkaMessage(km), nil
}

// Commit needs only the topic, partition and offset of the message.
func (r *Reader) Commit(ctx context.Context, msg domain.Message) error {
	km := kafkago.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
	if err := r.r.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka commit %s: %w", msg.Position(), classifyError(err))
	}
	return nil
}

func (r *Reader) Close() error {
	return r.r.Close()
}
