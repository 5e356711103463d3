package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	minStatus = 100
	maxStatus = 599

	// RFC 3339 only has room for four-digit years.
	minYear = 0
	maxYear = 9999
)

// LogEvent represents a single request-log event as it travels through the pipeline.
// Once published it is never mutated; sinks only project it.
type LogEvent struct {
	Endpoint  string
	Method    string
	Status    int
	Timestamp time.Time
	Details   *string
}

// NewLogEvent builds a LogEvent stamped with the current UTC time.
func NewLogEvent(endpoint, method string, status int, details *string) LogEvent {
	return LogEvent{
		Endpoint:  endpoint,
		Method:    method,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
}

// Validate checks the invariants that must hold before an event is published.
func (e LogEvent) Validate() error {
	switch {
	case e.Endpoint == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidEvent)
	case e.Method == "":
		return fmt.Errorf("%w: method is required", ErrInvalidEvent)
	case e.Status < minStatus || e.Status > maxStatus:
		return fmt.Errorf("%w: status %d out of range", ErrInvalidEvent, e.Status)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	case e.Timestamp.UTC().Year() < minYear || e.Timestamp.UTC().Year() > maxYear:
		return fmt.Errorf("%w: timestamp year %d out of range", ErrInvalidEvent, e.Timestamp.UTC().Year())
	case !utf8.ValidString(e.Endpoint):
		return fmt.Errorf("%w: endpoint is not valid UTF-8", ErrInvalidEvent)
	case !utf8.ValidString(e.Method):
		return fmt.Errorf("%w: method is not valid UTF-8", ErrInvalidEvent)
	case e.Details != nil && !utf8.ValidString(*e.Details):
		return fmt.Errorf("%w: details are not valid UTF-8", ErrInvalidEvent)
	}
	return nil
}

// Equal reports whether two events carry the same data.
// Timestamps are compared by instant and details by value.
func (e LogEvent) Equal(o LogEvent) bool {
	if e.Endpoint != o.Endpoint || e.Method != o.Method || e.Status != o.Status {
		return false
	}
	if !e.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if e.Details == nil || o.Details == nil {
		return e.Details == nil && o.Details == nil
	}
	return *e.Details == *o.Details
}

// DetailsOrEmpty returns the details text, or "" when absent.
func (e LogEvent) DetailsOrEmpty() string {
	if e.Details == nil {
		return ""
	}
	return *e.Details
}

// StringPtr is a small helper for optional details.
func StringPtr(s string) *string {
	return &s
}

// Message is a broker record carrying an encoded LogEvent.
// Partition and Offset identify the record on partitioned brokers; ID holds the
// broker-native identifier where offsets are not integers (Redis stream entry ids).
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	ID        string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Position renders a human-readable record position for logs and alerts.
func (m Message) Position() string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%d@%d", m.Partition, m.Offset)
}

// Alert is raised when a message is skipped or dead-lettered.
type Alert struct {
	Group    string
	Topic    string
	Position string
	Reason   string
	Err      error
}
