package broker

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/logpipe/internal/adapter/broker/kafka"
	"github.com/V4T54L/logpipe/internal/adapter/broker/redis"
	"github.com/V4T54L/logpipe/internal/pkg/config"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewWriter_SelectsDriver(t *testing.T) {
	cfg := &config.Config{BrokerDriver: config.BrokerKafka, KafkaBrokers: []string{"localhost:9092"}, KafkaRequiredAcks: "all"}
	w, err := NewWriter(cfg, "logs", testLogger)
	require.NoError(t, err)
	assert.IsType(t, &kafka.Writer{}, w)
	require.NoError(t, w.Close())

	cfg = &config.Config{BrokerDriver: config.BrokerRedis, RedisAddr: "redis://localhost:6379/0"}
	w, err = NewWriter(cfg, "logs", testLogger)
	require.NoError(t, err)
	assert.IsType(t, &redis.Writer{}, w)
	require.NoError(t, w.Close())
}

func TestNewWriter_RejectsBadConfig(t *testing.T) {
	_, err := NewWriter(&config.Config{BrokerDriver: "nats"}, "logs", testLogger)
	assert.Error(t, err)

	_, err = NewWriter(&config.Config{BrokerDriver: config.BrokerKafka, KafkaBrokers: []string{"localhost:9092"}, KafkaRequiredAcks: "some"}, "logs", testLogger)
	assert.Error(t, err)

	_, err = NewWriter(&config.Config{BrokerDriver: config.BrokerRedis, RedisAddr: "::not a url"}, "logs", testLogger)
	assert.Error(t, err)
}

func TestNewReaderFactory(t *testing.T) {
	for _, driver := range []string{config.BrokerKafka, config.BrokerRedis} {
		cfg := &config.Config{BrokerDriver: driver, KafkaBrokers: []string{"localhost:9092"}, RedisAddr: "redis://localhost:6379/0", Topic: "logs"}
		f, err := NewReaderFactory(cfg, "log-group", "consumer-1", testLogger)
		require.NoError(t, err, driver)
		assert.NotNil(t, f, driver)
	}

	_, err := NewReaderFactory(&config.Config{BrokerDriver: "nats"}, "g", "c", testLogger)
	assert.Error(t, err)
}

func TestNewDeadLetterWriter(t *testing.T) {
	cfg := &config.Config{BrokerDriver: config.BrokerKafka, KafkaBrokers: []string{"localhost:9092"}, KafkaRequiredAcks: "all", DeadLetterTopic: "logs.dlq"}
	d, err := NewDeadLetterWriter(cfg, testLogger)
	require.NoError(t, err)
	assert.IsType(t, &kafka.DeadLetterWriter{}, d)
	require.NoError(t, d.Close())
}
