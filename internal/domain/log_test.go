package domain

import (
	"errors"
	"testing"
	"time"
)

func TestLogEvent_Validate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		event   LogEvent
		wantErr bool
	}{
		{
			name:  "Valid event",
			event: LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: now},
		},
		{
			name:  "Valid event with details",
			event: LogEvent{Endpoint: "/api/orders", Method: "POST", Status: 201, Timestamp: now, Details: StringPtr("created")},
		},
		{
			name:    "Missing endpoint",
			event:   LogEvent{Method: "GET", Status: 200, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "Missing method",
			event:   LogEvent{Endpoint: "/api/users", Status: 200, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "Status below range",
			event:   LogEvent{Endpoint: "/api/users", Method: "GET", Status: 99, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "Status above range",
			event:   LogEvent{Endpoint: "/api/users", Method: "GET", Status: 600, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "Missing timestamp",
			event:   LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200},
			wantErr: true,
		},
		{
			name:    "Timestamp past year 9999",
			event:   LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)},
			wantErr: true,
		},
		{
			name:  "Timestamp in year 0",
			event: LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:    "Endpoint not UTF-8",
			event:   LogEvent{Endpoint: "/api/\xff", Method: "GET", Status: 200, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "Details not UTF-8",
			event:   LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: now, Details: StringPtr("\xc0\x80")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestNewLogEvent(t *testing.T) {
	event := NewLogEvent("/api/users", "GET", 200, nil)

	if event.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
	if event.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %s", event.Timestamp.Location())
	}
	if err := event.Validate(); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}
}

func TestLogEvent_Equal(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	base := LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: ts, Details: StringPtr("x")}

	same := base
	same.Details = StringPtr("x")
	same.Timestamp = ts.In(time.FixedZone("CET", 3600))
	if !base.Equal(same) {
		t.Error("expected events with equal instants and details to be equal")
	}

	noDetails := base
	noDetails.Details = nil
	if base.Equal(noDetails) {
		t.Error("expected nil and non-nil details to differ")
	}

	otherStatus := base
	otherStatus.Status = 404
	if base.Equal(otherStatus) {
		t.Error("expected different status to differ")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrConnection, true},
		{ErrBrokerFull, true},
		{ErrTransientIO, true},
		{ErrEncoding, false},
		{ErrDecode, false},
		{ErrConstraint, false},
		{errors.Join(ErrPersist, ErrConstraint), false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMessage_Position(t *testing.T) {
	if got := (Message{Partition: 2, Offset: 17}).Position(); got != "2@17" {
		t.Errorf("unexpected position %q", got)
	}
	if got := (Message{ID: "1700000000000-0"}).Position(); got != "1700000000000-0" {
		t.Errorf("unexpected position %q", got)
	}
}
