package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/V4T54L/logpipe/internal/adapter/codec"
	"github.com/V4T54L/logpipe/internal/adapter/metrics"
	"github.com/V4T54L/logpipe/internal/domain"
)

// WorkerState is the lifecycle position of a ConsumerGroupWorker.
type WorkerState int32

const (
	StateDisconnected WorkerState = iota
	StateConnecting
	StateSubscribed
	StatePolling
	StateHandling
	StateShuttingDown
)

func (s WorkerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StatePolling:
		return "polling"
	case StateHandling:
		return "handling"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

var (
	// errShutdown unwinds the poll loop when the worker is asked to stop.
	errShutdown = errors.New("worker shutting down")
	// errSinkUnavailable ends Run when the sink stayed unreachable for
	// MaxSinkOutageAttempts consecutive attempts.
	errSinkUnavailable = errors.New("sink unavailable")
)

// WorkerConfig configures a ConsumerGroupWorker.
type WorkerConfig struct {
	Topic string
	Group string

	// MaxDeliveries bounds attempts for sink errors that are neither connection
	// nor constraint failures.
	MaxDeliveries int
	// MaxConnectAttempts bounds consecutive connect or fetch failures before Run
	// gives up.
	MaxConnectAttempts int
	// MaxSinkOutageAttempts bounds consecutive sink connection failures on one
	// message. Defaults to MaxConnectAttempts.
	MaxSinkOutageAttempts int

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	HandleTimeout        time.Duration
}

// ConsumerGroupWorker reads one consumer group's share of the log topic and feeds
// every event to a sink. An offset is committed only after the sink handled the
// event, or after the event was dead-lettered.
type ConsumerGroupWorker struct {
	cfg         WorkerConfig
	connect     domain.ReaderFactory
	sink        domain.LogSink
	deadLetters domain.DeadLetterWriter
	alerter     domain.Alerter
	logger      *slog.Logger
	metrics     *metrics.PipelineMetrics

	state atomic.Int32
}

// NewConsumerGroupWorker creates a worker. Nothing happens until Run is called.
func NewConsumerGroupWorker(
	cfg WorkerConfig,
	connect domain.ReaderFactory,
	sink domain.LogSink,
	deadLetters domain.DeadLetterWriter,
	alerter domain.Alerter,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
) *ConsumerGroupWorker {
	if cfg.MaxDeliveries < 1 {
		cfg.MaxDeliveries = 1
	}
	if cfg.MaxConnectAttempts < 1 {
		cfg.MaxConnectAttempts = 1
	}
	if cfg.MaxSinkOutageAttempts < 1 {
		cfg.MaxSinkOutageAttempts = cfg.MaxConnectAttempts
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 200 * time.Millisecond
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		cfg.RetryMaxInterval = cfg.RetryInitialInterval
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 10 * time.Second
	}

	return &ConsumerGroupWorker{
		cfg:         cfg,
		connect:     connect,
		sink:        sink,
		deadLetters: deadLetters,
		alerter:     alerter,
		logger:      logger.With("component", "consumer_worker", "group", cfg.Group, "topic", cfg.Topic),
		metrics:     m,
	}
}

// State returns the worker's current lifecycle state.
func (w *ConsumerGroupWorker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *ConsumerGroupWorker) setState(s WorkerState) {
	if prev := WorkerState(w.state.Swap(int32(s))); prev != s {
		w.logger.Debug("worker state changed", "from", prev.String(), "to", s.String())
	}
}

// Run connects, subscribes and processes messages until ctx is cancelled, which
// returns nil. A message being handled when ctx is cancelled is finished and
// committed first. A failed fetch closes the reader and reconnects. Run returns an
// error wrapping domain.ErrConnection when connecting or fetching fails
// MaxConnectAttempts consecutive times, or when the sink reports a connection
// failure MaxSinkOutageAttempts times in a row. The message is then left
// uncommitted.
func (w *ConsumerGroupWorker) Run(ctx context.Context) error {
	defer w.setState(StateDisconnected)
	w.logger.Info("starting consumer worker")

	failures := 0
	b := w.newBackOff()
	for {
		reader, err := w.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("consumer worker stopped before connecting")
				return nil
			}
			w.logger.Error("giving up on broker connection", "error", err)
			return err
		}

		handled, err := w.poll(ctx, reader)

		shutdown := errors.Is(err, errShutdown) || ctx.Err() != nil
		if shutdown {
			w.setState(StateShuttingDown)
		}
		if cerr := reader.Close(); cerr != nil {
			w.logger.Warn("failed to close broker reader", "error", cerr)
		}
		if shutdown {
			w.logger.Info("consumer worker stopped")
			return nil
		}
		if errors.Is(err, errSinkUnavailable) {
			w.logger.Error("giving up on unreachable sink", "error", err)
			return err
		}

		// Fetch failed: reconnect, unless the broker keeps failing.
		if handled > 0 {
			failures = 0
			b.Reset()
		}
		failures++
		w.logger.Warn("failed to fetch message, reconnecting", "attempt", failures, "error", err)
		if failures >= w.cfg.MaxConnectAttempts {
			w.logger.Error("giving up on broker after repeated fetch failures", "error", err)
			if errors.Is(err, domain.ErrConnection) {
				return fmt.Errorf("fetch failed %d times: %w", failures, err)
			}
			return fmt.Errorf("%w: fetch failed %d times: %w", domain.ErrConnection, failures, err)
		}
		if !sleepCtx(ctx, b.NextBackOff()) {
			return nil
		}
	}
}

func (w *ConsumerGroupWorker) connectWithRetry(ctx context.Context) (domain.BrokerReader, error) {
	w.setState(StateConnecting)

	attempt := 0
	reader, err := backoff.Retry(ctx, func() (domain.BrokerReader, error) {
		attempt++
		r, err := w.connect(ctx)
		if err != nil {
			w.logger.Warn("failed to connect to broker", "attempt", attempt, "error", err)
			return nil, err
		}
		return r, nil
	}, backoff.WithBackOff(w.newBackOff()), backoff.WithMaxTries(uint(w.cfg.MaxConnectAttempts)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, domain.ErrConnection) {
			return nil, fmt.Errorf("connect after %d attempts: %w", attempt, err)
		}
		return nil, fmt.Errorf("%w: connect after %d attempts: %w", domain.ErrConnection, attempt, err)
	}

	w.setState(StateSubscribed)
	w.logger.Info("subscribed to topic")
	return reader, nil
}

// poll fetches and processes messages until shutdown or a fetch failure. It
// returns the number of messages processed on this reader.
func (w *ConsumerGroupWorker) poll(ctx context.Context, reader domain.BrokerReader) (int, error) {
	processed := 0
	for {
		w.setState(StatePolling)
		msg, err := reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return processed, errShutdown
			}
			return processed, err
		}

		w.setState(StateHandling)
		if err := w.process(ctx, reader, msg); err != nil {
			return processed, err
		}
		processed++
	}
}

// process drives one message to a terminal outcome: handled, dead-lettered, or left
// uncommitted because the worker is shutting down.
func (w *ConsumerGroupWorker) process(ctx context.Context, reader domain.BrokerReader, msg domain.Message) error {
	log := w.logger.With("position", msg.Position())

	event, err := codec.Decode(msg.Value)
	if err != nil {
		w.metrics.ConsumedTotal.WithLabelValues(w.cfg.Group, "decode_error").Inc()
		log.Warn("skipping malformed message", "error", err)
		w.skip(ctx, msg, "decode failure", err)
		w.commit(ctx, reader, msg)
		return nil
	}

	attempts, outages := 0, 0
	b := w.newBackOff()
	for {
		err := w.handle(ctx, event)
		if err == nil {
			w.metrics.ConsumedTotal.WithLabelValues(w.cfg.Group, "handled").Inc()
			w.commit(ctx, reader, msg)
			return nil
		}
		w.metrics.ConsumedTotal.WithLabelValues(w.cfg.Group, "sink_error").Inc()

		switch {
		case errors.Is(err, domain.ErrConstraint):
			log.Error("sink rejected event permanently", "error", err)
			w.skip(ctx, msg, "constraint violation", err)
			w.commit(ctx, reader, msg)
			return nil
		case errors.Is(err, domain.ErrConnection):
			// The store is down: every later message would fail too, so hold this
			// one until the store is back or the outage budget is spent.
			outages++
			if outages >= w.cfg.MaxSinkOutageAttempts {
				log.Error("sink still unavailable, leaving message uncommitted", "attempts", outages, "error", err)
				return fmt.Errorf("%w after %d attempts: %w", errSinkUnavailable, outages, err)
			}
			log.Warn("sink unavailable, retrying message", "attempt", outages, "error", err)
		default:
			attempts++
			if attempts >= w.cfg.MaxDeliveries {
				log.Error("giving up on message", "attempts", attempts, "error", err)
				w.skip(ctx, msg, "max deliveries exceeded", err)
				w.commit(ctx, reader, msg)
				return nil
			}
			log.Warn("sink failed, retrying message", "attempt", attempts, "error", err)
		}

		w.metrics.ConsumedTotal.WithLabelValues(w.cfg.Group, "redelivered").Inc()
		if !sleepCtx(ctx, b.NextBackOff()) {
			log.Info("shutdown requested, leaving message uncommitted for redelivery")
			return errShutdown
		}
	}
}

// handle runs the sink detached from ctx cancellation so an in-flight event can
// finish during shutdown, bounded by HandleTimeout.
func (w *ConsumerGroupWorker) handle(ctx context.Context, event domain.LogEvent) error {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.HandleTimeout)
	defer cancel()

	start := time.Now()
	err := w.sink.Handle(hctx, event)
	w.metrics.HandleDuration.WithLabelValues(w.cfg.Group).Observe(time.Since(start).Seconds())
	return err
}

func (w *ConsumerGroupWorker) commit(ctx context.Context, reader domain.BrokerReader, msg domain.Message) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.HandleTimeout)
	defer cancel()

	if err := reader.Commit(cctx, msg); err != nil {
		// The message will be redelivered; sinks tolerate duplicates.
		w.metrics.CommitErrorsTotal.WithLabelValues(w.cfg.Group).Inc()
		w.logger.Error("failed to commit offset", "position", msg.Position(), "error", err)
	}
}

// skip dead-letters msg and raises an alert. Neither failing blocks the commit.
func (w *ConsumerGroupWorker) skip(ctx context.Context, msg domain.Message, reason string, cause error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.HandleTimeout)
	defer cancel()

	if w.deadLetters != nil {
		if err := w.deadLetters.DeadLetter(dctx, msg, fmt.Errorf("%s: %w", reason, cause)); err != nil {
			w.logger.Error("failed to dead-letter message", "position", msg.Position(), "error", err)
		} else {
			w.metrics.DeadLetteredTotal.WithLabelValues(w.cfg.Group).Inc()
		}
	}

	if w.alerter != nil {
		alert := domain.Alert{
			Group:    w.cfg.Group,
			Topic:    w.cfg.Topic,
			Position: msg.Position(),
			Reason:   reason,
			Err:      cause,
		}
		if err := w.alerter.Alert(dctx, alert); err != nil {
			w.logger.Error("failed to raise alert", "error", err)
		}
	}
}

func (w *ConsumerGroupWorker) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryInitialInterval
	b.MaxInterval = w.cfg.RetryMaxInterval
	return b
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
