package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"

	"github.com/V4T54L/logpipe/internal/domain"
)

const insertLogSQL = `INSERT INTO logs (endpoint, method, status, timestamp, details) VALUES ($1, $2, $3, $4, $5)`

// Execer is the part of *sql.DB the repository needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RetryConfig bounds the in-sink retry of transient store errors.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// LogRepository persists log events to the logs table. It implements domain.LogSink.
type LogRepository struct {
	db     Execer
	retry  RetryConfig
	logger *slog.Logger
}

// NewLogRepository creates a new PostgreSQL log repository.
func NewLogRepository(db Execer, logger *slog.Logger, retry RetryConfig) *LogRepository {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 1
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 100 * time.Millisecond
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = retry.InitialInterval
	}
	return &LogRepository{db: db, retry: retry, logger: logger.With("component", "postgres_sink")}
}

// Handle inserts one row per event. Every error wraps domain.ErrPersist together
// with its class: ErrConnection, ErrConstraint or ErrTransientIO.
func (r *LogRepository) Handle(ctx context.Context, event domain.LogEvent) error {
	var details any
	if event.Details != nil {
		details = *event.Details
	}
	args := []any{event.Endpoint, event.Method, event.Status, event.Timestamp.UTC(), details}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.InitialInterval
	b.MaxInterval = r.retry.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := r.db.ExecContext(ctx, insertLogSQL, args...)
		if err == nil {
			return struct{}{}, nil
		}
		err = classifyError(err)
		if !errors.Is(err, domain.ErrTransientIO) {
			return struct{}{}, backoff.Permanent(err)
		}
		r.logger.Warn("transient error inserting log, retrying", "attempt", attempt, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.retry.MaxAttempts))
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && !errors.Is(err, domain.ErrTransientIO) && !errors.Is(err, domain.ErrConnection) {
		// ctx ended between attempts.
		err = classifyError(err)
	}
	return fmt.Errorf("%w: insert log for %s: %w", domain.ErrPersist, event.Endpoint, err)
}

// classifyError maps driver errors onto the domain error classes.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return fmt.Errorf("%w: %w", domain.ErrConstraint, err)
		case "08":
			return fmt.Errorf("%w: %w", domain.ErrConnection, err)
		case "40", "53":
			return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
		}
		switch pqErr.Code {
		case "57P01", "57P02", "57P03":
			return fmt.Errorf("%w: %w", domain.ErrConnection, err)
		case "55P03", "57014":
			return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return err
}
