package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/V4T54L/logpipe/internal/adapter/codec"
	"github.com/V4T54L/logpipe/internal/adapter/metrics"
	"github.com/V4T54L/logpipe/internal/domain"
)

// PublisherConfig configures a PublishLogUseCase.
type PublisherConfig struct {
	Topic                string
	SendTimeout          time.Duration
	MaxAttempts          uint
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	FailurePolicy        domain.FailurePolicy
}

// PublishLogUseCase builds log events, encodes them and hands them to the broker.
// It returns only once the broker acknowledged the write, the event was buffered,
// or the failure policy decided otherwise.
type PublishLogUseCase struct {
	writer  domain.BrokerWriter
	wal     domain.WALRepository
	cfg     PublisherConfig
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics

	// stateMu orders the availability check and WAL write of a publish against the
	// switch back to direct sends. It is never held across a broker call.
	stateMu   sync.RWMutex
	available atomic.Bool
}

// NewPublishLogUseCase creates a new PublishLogUseCase. wal may be nil unless the
// failure policy is domain.PolicyBuffer.
func NewPublishLogUseCase(writer domain.BrokerWriter, wal domain.WALRepository, cfg PublisherConfig, logger *slog.Logger, m *metrics.PipelineMetrics) *PublishLogUseCase {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 100 * time.Millisecond
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		cfg.RetryMaxInterval = cfg.RetryInitialInterval
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = domain.PolicyFail
	}

	uc := &PublishLogUseCase{
		writer:  writer,
		wal:     wal,
		cfg:     cfg,
		logger:  logger.With("component", "log_publisher", "topic", cfg.Topic),
		metrics: m,
	}
	uc.available.Store(true)
	return uc
}

// Publish implements domain.LogPublisher. The event is stamped with the current
// UTC time.
func (uc *PublishLogUseCase) Publish(ctx context.Context, endpoint, method string, status int, details *string) error {
	return uc.PublishEvent(ctx, domain.NewLogEvent(endpoint, method, status, details))
}

// PublishEvent encodes event and sends it, keyed by endpoint.
// Encoding failures are returned as domain.ErrEncoding and never retried.
func (uc *PublishLogUseCase) PublishEvent(ctx context.Context, event domain.LogEvent) error {
	payload, err := codec.Encode(event)
	if err != nil {
		uc.metrics.PublishedTotal.WithLabelValues("error_encoding").Inc()
		uc.logger.Warn("refusing to publish invalid log event", "endpoint", event.Endpoint, "error", err)
		return err
	}

	msg := domain.Message{
		Topic:   uc.cfg.Topic,
		Key:     []byte(event.Endpoint),
		Value:   payload,
		Headers: map[string]string{"content-type": codec.ContentType},
	}

	if uc.cfg.FailurePolicy == domain.PolicyBuffer {
		buffered, err := uc.bufferIfUnavailable(ctx, msg)
		if buffered || err != nil {
			return err
		}
	}

	start := time.Now()
	err = uc.send(ctx, msg)
	uc.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		uc.metrics.PublishedTotal.WithLabelValues("acked").Inc()
		uc.logger.Debug("Logged the request", "endpoint", event.Endpoint, "method", event.Method, "status", event.Status)
		return nil
	}
	return uc.handleSendFailure(ctx, msg, err)
}

// bufferIfUnavailable writes msg to the WAL while the broker is known to be down.
func (uc *PublishLogUseCase) bufferIfUnavailable(ctx context.Context, msg domain.Message) (bool, error) {
	uc.stateMu.RLock()
	defer uc.stateMu.RUnlock()
	if uc.available.Load() {
		return false, nil
	}
	return true, uc.writeWAL(ctx, msg, nil)
}

func (uc *PublishLogUseCase) send(ctx context.Context, msg domain.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, uc.cfg.SendTimeout)
	defer cancel()

	var lastErr error
	_, err := backoff.Retry(sendCtx, func() (struct{}, error) {
		err := uc.writer.Write(sendCtx, msg)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		uc.logger.Debug("broker write failed, retrying", "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(uc.newBackOff()), backoff.WithMaxTries(uc.cfg.MaxAttempts))
	if err == nil {
		return nil
	}

	// A timeout mid-backoff hides the broker error that caused the retries.
	if errors.Is(err, context.DeadlineExceeded) && lastErr != nil && !errors.Is(lastErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w (last error: %w)", err, lastErr)
	}
	return err
}

func (uc *PublishLogUseCase) handleSendFailure(ctx context.Context, msg domain.Message, sendErr error) error {
	if !domain.IsRetryable(sendErr) {
		uc.metrics.PublishedTotal.WithLabelValues("error_broker").Inc()
		uc.logger.Error("broker rejected log event", "key", string(msg.Key), "error", sendErr)
		return sendErr
	}

	switch uc.cfg.FailurePolicy {
	case domain.PolicyBuffer:
		uc.stateMu.RLock()
		defer uc.stateMu.RUnlock()
		uc.markUnavailable(sendErr)
		return uc.writeWAL(ctx, msg, sendErr)
	case domain.PolicyDrop:
		uc.metrics.PublishedTotal.WithLabelValues("dropped").Inc()
		uc.logger.Warn("dropping log event, broker unavailable", "key", string(msg.Key), "error", sendErr)
		return nil
	default:
		uc.metrics.PublishedTotal.WithLabelValues("error_broker").Inc()
		uc.logger.Error("failed to publish log event", "key", string(msg.Key), "error", sendErr)
		return sendErr
	}
}

func (uc *PublishLogUseCase) writeWAL(ctx context.Context, msg domain.Message, sendErr error) error {
	if uc.wal == nil {
		uc.metrics.PublishedTotal.WithLabelValues("error_broker").Inc()
		if sendErr == nil {
			sendErr = fmt.Errorf("%w: broker unavailable", domain.ErrConnection)
		}
		return fmt.Errorf("WAL is not configured: %w", sendErr)
	}
	if err := uc.wal.Write(ctx, msg); err != nil {
		uc.metrics.PublishedTotal.WithLabelValues("error_broker").Inc()
		uc.logger.Error("failed to buffer log event to WAL", "error", err)
		if sendErr != nil {
			return errors.Join(sendErr, err)
		}
		return err
	}
	uc.metrics.PublishedTotal.WithLabelValues("buffered").Inc()
	return nil
}

// Available reports whether events currently go straight to the broker.
func (uc *PublishLogUseCase) Available() bool {
	return uc.available.Load()
}

// StartRecovery pings the broker every interval while events are being buffered
// and replays the WAL once it answers. It blocks until ctx is done.
func (uc *PublishLogUseCase) StartRecovery(ctx context.Context, interval time.Duration) {
	if uc.wal == nil || uc.cfg.FailurePolicy != domain.PolicyBuffer {
		uc.logger.Info("WAL is not configured, skipping broker recovery loop")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uc.logger.Info("Starting broker health check and WAL replayer")

	// Events left over from a previous run.
	if err := uc.recover(ctx); err != nil {
		uc.logger.Warn("initial WAL replay failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("Stopping broker health check")
			return
		case <-ticker.C:
			if uc.available.Load() {
				continue
			}
			if err := uc.recover(ctx); err != nil {
				uc.logger.Warn("broker still unavailable", "error", err)
			}
		}
	}
}

// recover pings the broker, drains the WAL and switches back to direct sends.
// Publishes keep going to the WAL during the drain, so the switch happens under the
// write lock and a final pass sends what was buffered meanwhile. If that pass fails
// the publisher goes back to buffering.
func (uc *PublishLogUseCase) recover(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, uc.cfg.SendTimeout)
	err := uc.writer.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := uc.ReplayWAL(ctx); err != nil {
		return err
	}

	uc.stateMu.Lock()
	switched := uc.available.CompareAndSwap(false, true)
	uc.stateMu.Unlock()

	if err := uc.ReplayWAL(ctx); err != nil {
		uc.markUnavailable(err)
		return err
	}
	if switched {
		uc.logger.Info("broker connection recovered")
	}
	uc.metrics.WALActive.Set(0)
	return nil
}

func (uc *PublishLogUseCase) markUnavailable(cause error) {
	if uc.available.CompareAndSwap(true, false) {
		uc.metrics.WALActive.Set(1)
		uc.logger.Error("broker unavailable, buffering to WAL", "error", cause)
	}
}

// ReplayWAL sends buffered events in write order and truncates the WAL on success.
// It stops at the first failed send so nothing is lost.
func (uc *PublishLogUseCase) ReplayWAL(ctx context.Context) error {
	if uc.wal == nil {
		return nil
	}
	replayed := 0
	err := uc.wal.Replay(ctx, func(msg domain.Message) error {
		msg.Topic = uc.cfg.Topic
		if err := uc.send(ctx, msg); err != nil {
			return err
		}
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("WAL replay failed: %w", err)
	}

	if err := uc.wal.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate WAL after successful replay: %w", err)
	}
	if replayed > 0 {
		uc.metrics.PublishedTotal.WithLabelValues("acked").Add(float64(replayed))
		uc.logger.Info("WAL replay to broker completed successfully", "events", replayed)
	}
	return nil
}

// Close releases the broker writer.
func (uc *PublishLogUseCase) Close() error {
	return uc.writer.Close()
}

func (uc *PublishLogUseCase) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = uc.cfg.RetryInitialInterval
	b.MaxInterval = uc.cfg.RetryMaxInterval
	return b
}
