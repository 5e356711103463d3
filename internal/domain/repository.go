package domain

import "context"

// LogPublisher is the only entry point the HTTP layer needs from the pipeline.
type LogPublisher interface {
	Publish(ctx context.Context, endpoint, method string, status int, details *string) error
}

// BrokerWriter appends messages to the broker topic.
// Implementations must be safe for concurrent use.
type BrokerWriter interface {
	// Write blocks until the broker acknowledged the messages or ctx expires.
	Write(ctx context.Context, msgs ...Message) error

	// Ping checks that the broker is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// BrokerReader pulls messages for a single consumer group.
// A reader is owned by exactly one worker.
type BrokerReader interface {
	// Fetch blocks until the next message is available or ctx is done.
	Fetch(ctx context.Context) (Message, error)

	// Commit advances the group's offset past msg.
	Commit(ctx context.Context, msg Message) error

	Close() error
}

// ReaderFactory opens a new reader bound to the worker's topic and group.
type ReaderFactory func(ctx context.Context) (BrokerReader, error)

// DeadLetterWriter stores messages that cannot be processed.
type DeadLetterWriter interface {
	DeadLetter(ctx context.Context, msg Message, reason error) error
}

// LogSink consumes a decoded event. A nil error means the event was handled and the
// offset may be committed.
type LogSink interface {
	Handle(ctx context.Context, event LogEvent) error
}

// Alerter raises operator-visible alerts.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// WALRepository defines the interface for the Write-Ahead Log failover mechanism.
type WALRepository interface {
	// Write appends a message to the local WAL file.
	Write(ctx context.Context, msg Message) error

	// Replay reads messages from the WAL in write order and sends them to handler.
	Replay(ctx context.Context, handler func(msg Message) error) error

	// Truncate removes WAL segments that have been successfully replayed.
	Truncate(ctx context.Context) error
}
