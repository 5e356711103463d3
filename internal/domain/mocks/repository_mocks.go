package mocks

import (
	"context"
	"sync"

	"github.com/V4T54L/logpipe/internal/domain"
)

// MockBrokerWriter is a mock implementation of domain.BrokerWriter for testing.
// WriteErrs are returned in order, one per Write call, before falling back to WriteErr.
type MockBrokerWriter struct {
	mu         sync.Mutex
	Written    []domain.Message
	WriteCalls int
	WriteErrs  []error
	WriteErr   error
	PingErr    error
	Closed     bool
}

func (m *MockBrokerWriter) Write(ctx context.Context, msgs ...domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	if len(m.WriteErrs) > 0 {
		err := m.WriteErrs[0]
		m.WriteErrs = m.WriteErrs[1:]
		if err != nil {
			return err
		}
	} else if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Written = append(m.Written, msgs...)
	return nil
}

func (m *MockBrokerWriter) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

func (m *MockBrokerWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetWriteErr swaps the persistent write error under the lock.
func (m *MockBrokerWriter) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteErr = err
}

// SetPingErr swaps the ping error under the lock.
func (m *MockBrokerWriter) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingErr = err
}

// Messages returns a copy of the written messages.
func (m *MockBrokerWriter) Messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.Written...)
}

// MockSink is a mock implementation of domain.LogSink.
// HandleFunc, when set, decides the result of every call.
type MockSink struct {
	mu         sync.Mutex
	Handled    []domain.LogEvent
	Calls      int
	HandleErr  error
	HandleFunc func(call int, event domain.LogEvent) error
}

func (m *MockSink) Handle(ctx context.Context, event domain.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	err := m.HandleErr
	if m.HandleFunc != nil {
		err = m.HandleFunc(m.Calls, event)
	}
	if err != nil {
		return err
	}
	m.Handled = append(m.Handled, event)
	return nil
}

// Events returns a copy of the successfully handled events.
func (m *MockSink) Events() []domain.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LogEvent(nil), m.Handled...)
}

// CallCount returns the number of Handle invocations.
func (m *MockSink) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockAlerter records raised alerts.
type MockAlerter struct {
	mu     sync.Mutex
	Alerts []domain.Alert
}

func (m *MockAlerter) Alert(ctx context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, alert)
	return nil
}

// Raised returns a copy of the recorded alerts.
func (m *MockAlerter) Raised() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Alert(nil), m.Alerts...)
}

// MockDeadLetterWriter records dead-lettered messages.
type MockDeadLetterWriter struct {
	mu       sync.Mutex
	Messages []domain.Message
	Reasons  []error
	Err      error
}

func (m *MockDeadLetterWriter) DeadLetter(ctx context.Context, msg domain.Message, reason error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	m.Reasons = append(m.Reasons, reason)
	return nil
}

// Count returns the number of dead-lettered messages.
func (m *MockDeadLetterWriter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// MockWALRepository is an in-memory domain.WALRepository.
type MockWALRepository struct {
	mu          sync.Mutex
	Entries     []domain.Message
	WriteErr    error
	Truncations int
}

func (m *MockWALRepository) Write(ctx context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Entries = append(m.Entries, msg)
	return nil
}

func (m *MockWALRepository) Replay(ctx context.Context, handler func(msg domain.Message) error) error {
	m.mu.Lock()
	entries := append([]domain.Message(nil), m.Entries...)
	m.mu.Unlock()
	for _, msg := range entries {
		if err := handler(msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockWALRepository) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = nil
	m.Truncations++
	return nil
}

// Len returns the number of buffered entries.
func (m *MockWALRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Entries)
}

// MockLogPublisher records collaborator-facing publish calls.
type MockLogPublisher struct {
	mu        sync.Mutex
	Published []domain.LogEvent
	Err       error
}

func (m *MockLogPublisher) Publish(ctx context.Context, endpoint, method string, status int, details *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, domain.NewLogEvent(endpoint, method, status, details))
	return nil
}

// Events returns a copy of the published events.
func (m *MockLogPublisher) Events() []domain.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LogEvent(nil), m.Published...)
}
