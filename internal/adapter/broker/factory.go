package broker

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/V4T54L/logpipe/internal/adapter/broker/kafka"
	"github.com/V4T54L/logpipe/internal/adapter/broker/redis"
	"github.com/V4T54L/logpipe/internal/domain"
	"github.com/V4T54L/logpipe/internal/pkg/config"
)

// DeadLetterWriter is a domain.DeadLetterWriter that owns a broker connection.
type DeadLetterWriter interface {
	domain.DeadLetterWriter
	io.Closer
}

// NewWriter builds the writer for the configured driver, bound to topic.
func NewWriter(cfg *config.Config, topic string, logger *slog.Logger) (domain.BrokerWriter, error) {
	switch cfg.BrokerDriver {
	case config.BrokerKafka:
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        topic,
			RequiredAcks: cfg.KafkaRequiredAcks,
		}, logger)
	case config.BrokerRedis:
		client, err := redis.NewClient(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return redis.NewWriter(client, topic, 0), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.BrokerDriver)
	}
}

// NewReaderFactory builds the reader factory for one consumer group.
func NewReaderFactory(cfg *config.Config, group, consumer string, logger *slog.Logger) (domain.ReaderFactory, error) {
	switch cfg.BrokerDriver {
	case config.BrokerKafka:
		return kafka.NewReaderFactory(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.Topic,
			GroupID: group,
		}, logger), nil
	case config.BrokerRedis:
		return redis.NewReaderFactory(cfg.RedisAddr, redis.ReaderConfig{
			Stream:   cfg.Topic,
			Group:    group,
			Consumer: consumer,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.BrokerDriver)
	}
}

// NewDeadLetterWriter builds the dead-letter destination for the configured driver.
func NewDeadLetterWriter(cfg *config.Config, logger *slog.Logger) (DeadLetterWriter, error) {
	switch cfg.BrokerDriver {
	case config.BrokerKafka:
		w, err := NewWriter(cfg, cfg.DeadLetterTopic, logger)
		if err != nil {
			return nil, err
		}
		return kafka.NewDeadLetterWriter(w), nil
	case config.BrokerRedis:
		client, err := redis.NewClient(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return redis.NewDeadLetterWriter(client, cfg.DeadLetterTopic), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.BrokerDriver)
	}
}
