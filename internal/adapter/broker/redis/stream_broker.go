package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/logpipe/internal/domain"
)

const (
	payloadField = "payload"
	keyField     = "key"

	defaultBlock        = 2 * time.Second
	defaultClaimMinIdle = time.Minute
	defaultBatchSize    = 16
)

// NewClient parses a redis:// URL and returns a client for it.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Writer implements domain.BrokerWriter using a Redis Stream as the topic.
type Writer struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewWriter creates a Writer appending to stream. When maxLen is positive the stream
// is trimmed approximately to that length on every write.
func NewWriter(client *redis.Client, stream string, maxLen int64) *Writer {
	return &Writer{client: client, stream: stream, maxLen: maxLen}
}

func (w *Writer) Write(ctx context.Context, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for _, msg := range msgs {
		pipe.XAdd(ctx, w.addArgs(msg))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to XADD to redis stream %s: %w", w.stream, classifyError(err))
	}
	return nil
}

func (w *Writer) addArgs(msg domain.Message) *redis.XAddArgs {
	values := map[string]interface{}{payloadField: msg.Value}
	if len(msg.Key) > 0 {
		values[keyField] = msg.Key
	}
	for k, v := range msg.Headers {
		values[k] = v
	}
	args := &redis.XAddArgs{Stream: w.stream, Values: values}
	if w.maxLen > 0 {
		args.MaxLen = w.maxLen
		args.Approx = true
	}
	return args
}

func (w *Writer) Ping(ctx context.Context) error {
	if err := w.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %w", domain.ErrConnection, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.client.Close()
}

// ReaderConfig configures readers produced by NewReaderFactory.
type ReaderConfig struct {
	Stream       string
	Group        string
	Consumer     string
	Block        time.Duration
	ClaimMinIdle time.Duration
	BatchSize    int64
}

// Reader implements domain.BrokerReader with XREADGROUP. On start it first drains
// entries already delivered to this consumer but never acknowledged, then claims
// entries left pending by consumers that went away, then reads new entries.
type Reader struct {
	client *redis.Client
	cfg    ReaderConfig
	logger *slog.Logger

	buf         []domain.Message
	pendingDone bool
	lastClaim   time.Time
}

// NewReaderFactory returns a factory that creates the consumer group if needed and
// opens a reader on its own connection pool.
func NewReaderFactory(url string, cfg ReaderConfig, logger *slog.Logger) domain.ReaderFactory {
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	logger = logger.With("component", "redis_reader", "stream", cfg.Stream, "group", cfg.Group)

	return func(ctx context.Context) (domain.BrokerReader, error) {
		client, err := NewClient(url)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: redis ping: %w", domain.ErrConnection, err)
		}
		if err := setupConsumerGroup(ctx, client, cfg.Stream, cfg.Group); err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("joined consumer group", "consumer", cfg.Consumer)
		return &Reader{client: client, cfg: cfg, logger: logger}, nil
	}
}

func setupConsumerGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", classifyError(err))
	}
	return nil
}

func (r *Reader) Fetch(ctx context.Context) (domain.Message, error) {
	for len(r.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return domain.Message{}, err
		}
		if err := r.fill(ctx); err != nil {
			if ctx.Err() != nil {
				return domain.Message{}, ctx.Err()
			}
			return domain.Message{}, err
		}
	}
	msg := r.buf[0]
	r.buf = r.buf[1:]
	return msg, nil
}

func (r *Reader) fill(ctx context.Context) error {
	if !r.pendingDone {
		msgs, err := r.read(ctx, "0", -1)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			r.pendingDone = true
		}
		r.buf = msgs
		return nil
	}

	if time.Since(r.lastClaim) >= r.cfg.ClaimMinIdle {
		r.lastClaim = time.Now()
		claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.cfg.ClaimMinIdle,
			Start:    "0-0",
			Count:    r.cfg.BatchSize,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to XAUTOCLAIM: %w", classifyError(err))
		}
		if len(claimed) > 0 {
			r.logger.Warn("claimed stale pending entries", "count", len(claimed))
			r.buf = r.toMessages(claimed)
			return nil
		}
	}

	msgs, err := r.read(ctx, ">", r.cfg.Block)
	if err != nil {
		return err
	}
	r.buf = msgs
	return nil
}

// read issues XREADGROUP. A negative block returns immediately.
func (r *Reader) read(ctx context.Context, id string, block time.Duration) ([]domain.Message, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		Streams:  []string{r.cfg.Stream, id},
		Count:    r.cfg.BatchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", classifyError(err))
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return r.toMessages(streams[0].Messages), nil
}

func (r *Reader) toMessages(entries []redis.XMessage) []domain.Message {
	out := make([]domain.Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toMessage(r.cfg.Stream, entry))
	}
	return out
}

// toMessage converts a stream entry. An entry without a payload yields an empty
// value, which the worker treats as undecodable.
func toMessage(stream string, entry redis.XMessage) domain.Message {
	msg := domain.Message{Topic: stream, ID: entry.ID}
	for field, raw := range entry.Values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		switch field {
		case payloadField:
			msg.Value = []byte(s)
		case keyField:
			msg.Key = []byte(s)
		default:
			if msg.Headers == nil {
				msg.Headers = make(map[string]string)
			}
			msg.Headers[field] = s
		}
	}
	msg.Time = entryTime(entry.ID)
	return msg
}

// entryTime extracts the millisecond timestamp prefix of a stream entry id.
func entryTime(id string) time.Time {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func (r *Reader) Commit(ctx context.Context, msg domain.Message) error {
	if err := r.client.XAck(ctx, r.cfg.Stream, r.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("failed to XACK %s: %w", msg.ID, classifyError(err))
	}
	return nil
}

func (r *Reader) Close() error {
	return r.client.Close()
}

// DeadLetterWriter moves skipped entries to a separate stream.
type DeadLetterWriter struct {
	client *redis.Client
	stream string
}

// NewDeadLetterWriter creates a DeadLetterWriter appending to stream.
func NewDeadLetterWriter(client *redis.Client, stream string) *DeadLetterWriter {
	return &DeadLetterWriter{client: client, stream: stream}
}

func (d *DeadLetterWriter) DeadLetter(ctx context.Context, msg domain.Message, reason error) error {
	if err := d.client.XAdd(ctx, deadLetterArgs(d.stream, msg, reason, time.Now().UTC())).Err(); err != nil {
		return fmt.Errorf("failed to XADD to DLQ stream %s: %w", d.stream, classifyError(err))
	}
	return nil
}

func (d *DeadLetterWriter) Close() error {
	return d.client.Close()
}

func deadLetterArgs(stream string, msg domain.Message, reason error, failedAt time.Time) *redis.XAddArgs {
	values := map[string]interface{}{
		payloadField:      msg.Value,
		"original_stream": msg.Topic,
		"original_msg_id": msg.ID,
		"failed_at":       failedAt.Format(time.RFC3339),
	}
	if reason != nil {
		values["reason"] = reason.Error()
	}
	return &redis.XAddArgs{Stream: stream, Values: values}
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// classifyError maps go-redis failures onto domain error classes.
func classifyError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "OOM") || strings.HasPrefix(msg, "LOADING") || strings.HasPrefix(msg, "BUSY ") || strings.HasPrefix(msg, "TRYAGAIN") {
		return fmt.Errorf("%w: %w", domain.ErrBrokerFull, err)
	}
	return err
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
