package console

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/logpipe/internal/domain"
)

// Sink writes every received log event to the observability stream.
type Sink struct {
	log *slog.Logger
}

// NewSink creates a new console sink.
func NewSink(log *slog.Logger) *Sink {
	return &Sink{
		log: log.With("job", "log-console-sink"),
	}
}

// Handle logs the event. It never fails.
func (s *Sink) Handle(ctx context.Context, event domain.LogEvent) error {
	details := slog.Any("details", nil)
	if event.Details != nil {
		details = slog.String("details", *event.Details)
	}

	s.log.InfoContext(
		ctx,
		"received log",
		slog.String("endpoint", event.Endpoint),
		slog.String("method", event.Method),
		slog.Int("status", event.Status),
		slog.String("timestamp", event.Timestamp.UTC().Format(time.RFC3339Nano)),
		details,
	)

	return nil
}
