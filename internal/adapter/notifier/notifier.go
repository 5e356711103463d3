package notifier

import (
	"context"
	"log/slog"

	"github.com/V4T54L/logpipe/internal/domain"
)

// LogNotifier is an implementation of domain.Alerter that emits alerts as
// error-level structured log records.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "alert_notifier")}
}

// Alert writes the alert details.
func (n *LogNotifier) Alert(ctx context.Context, alert domain.Alert) error {
	attrs := []any{
		"alert", true,
		"group", alert.Group,
		"topic", alert.Topic,
		"position", alert.Position,
		"reason", alert.Reason,
	}
	if alert.Err != nil {
		attrs = append(attrs, "error", alert.Err)
	}
	n.logger.ErrorContext(ctx, "--- ALERT: message skipped ---", attrs...)
	return nil
}
