package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/V4T54L/logpipe/internal/domain"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 9, 18, 4, 5, 123456789, time.UTC)

	events := []domain.LogEvent{
		{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: ts, Details: domain.StringPtr("Displaying the Users!")},
		{Endpoint: "/api/users/9", Method: "GET", Status: 404, Timestamp: ts, Details: domain.StringPtr("User Not Found! ")},
		{Endpoint: "/api/orders", Method: "POST", Status: 201, Timestamp: ts, Details: domain.StringPtr(`{"id":3,"product":"Bag","quantity":1}`)},
		{Endpoint: "/api/products", Method: "GET", Status: 599, Timestamp: ts.Truncate(time.Second)},
		{Endpoint: "/api/products", Method: "GET", Status: 100, Timestamp: domain.NewLogEvent("/x", "GET", 200, nil).Timestamp, Details: domain.StringPtr("")},
	}

	for _, event := range events {
		payload, err := Encode(event)
		if err != nil {
			t.Fatalf("Encode(%+v) failed: %v", event, err)
		}
		decoded, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", payload, err)
		}
		if !decoded.Equal(event) {
			t.Errorf("round trip mismatch: got %+v, want %+v", decoded, event)
		}
	}
}

func TestEncode_WireFormat(t *testing.T) {
	event := domain.LogEvent{
		Endpoint:  "/api/users",
		Method:    "GET",
		Status:    200,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	payload, err := Encode(event)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	want := `{"endpoint":"/api/users","method":"GET","status":200,"timestamp":"2024-01-02T03:04:05Z","details":null}`
	if string(payload) != want {
		t.Errorf("unexpected payload:\n got %s\nwant %s", payload, want)
	}
}

func TestEncode_InvalidEvent(t *testing.T) {
	ts := time.Date(2024, 3, 9, 18, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		event domain.LogEvent
	}{
		{name: "Missing endpoint", event: domain.LogEvent{Method: "GET", Status: 200, Timestamp: ts}},
		{name: "Invalid UTF-8 endpoint", event: domain.LogEvent{Endpoint: "/api/\xff", Method: "GET", Status: 200, Timestamp: ts}},
		{name: "Invalid UTF-8 method", event: domain.LogEvent{Endpoint: "/api/users", Method: "G\xc3T", Status: 200, Timestamp: ts}},
		{name: "Invalid UTF-8 details", event: domain.LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: ts, Details: domain.StringPtr("bad \xfe\xff")}},
		{name: "Year after 9999", event: domain.LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)}},
		{name: "Year before 0", event: domain.LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: time.Date(-1, 12, 31, 0, 0, 0, 0, time.UTC)}},
		{name: "Year after 9999 in UTC", event: domain.LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: time.Date(9999, 12, 31, 23, 0, 0, 0, time.FixedZone("EST", -5*3600))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.event)
			if !errors.Is(err, domain.ErrEncoding) {
				t.Fatalf("expected ErrEncoding, got %v", err)
			}
			if !errors.Is(err, domain.ErrInvalidEvent) {
				t.Errorf("expected the validation cause to be preserved, got %v", err)
			}
		})
	}
}

func TestEncode_YearBounds(t *testing.T) {
	for _, year := range []int{0, 9999} {
		event := domain.LogEvent{Endpoint: "/api/users", Method: "GET", Status: 200, Timestamp: time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC)}
		payload, err := Encode(event)
		if err != nil {
			t.Fatalf("year %d: encode failed: %v", year, err)
		}
		decoded, err := Decode(payload)
		if err != nil {
			t.Fatalf("year %d: decode failed: %v", year, err)
		}
		if !decoded.Equal(event) {
			t.Errorf("year %d: round trip mismatch: got %+v, want %+v", year, decoded, event)
		}
	}
}

func TestDecode_Details(t *testing.T) {
	tests := []struct {
		name    string
		details string
		want    *string
	}{
		{name: "Absent", details: "", want: nil},
		{name: "Null", details: `,"details":null`, want: nil},
		{name: "String", details: `,"details":"hello"`, want: domain.StringPtr("hello")},
		{name: "Object", details: `,"details":{ "id": 3, "product": "Bag" }`, want: domain.StringPtr(`{"id":3,"product":"Bag"}`)},
		{name: "Number", details: `,"details":42`, want: domain.StringPtr("42")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"endpoint":"/api/orders","method":"POST","status":201,"timestamp":"2024-01-02T03:04:05.678Z"` + tt.details + `}`
			event, err := Decode([]byte(payload))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if (event.Details == nil) != (tt.want == nil) {
				t.Fatalf("details presence mismatch: got %v, want %v", event.Details, tt.want)
			}
			if tt.want != nil && *event.Details != *tt.want {
				t.Errorf("details mismatch: got %q, want %q", *event.Details, *tt.want)
			}
		})
	}
}

func TestDecode_Timestamp(t *testing.T) {
	payload := `{"endpoint":"/a","method":"GET","status":200,"timestamp":"2024-01-02T05:04:05.5+02:00"}`
	event, err := Decode([]byte(payload))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 500000000, time.UTC)
	if !event.Timestamp.Equal(want) || event.Timestamp.Location() != time.UTC {
		t.Errorf("unexpected timestamp %v", event.Timestamp)
	}
}

func TestDecode_Malformed(t *testing.T) {
	payloads := map[string]string{
		"Not JSON":          `not json at all`,
		"Array":             `[1,2,3]`,
		"Missing endpoint":  `{"method":"GET","status":200,"timestamp":"2024-01-02T03:04:05Z"}`,
		"Empty method":      `{"endpoint":"/a","method":"","status":200,"timestamp":"2024-01-02T03:04:05Z"}`,
		"Missing status":    `{"endpoint":"/a","method":"GET","timestamp":"2024-01-02T03:04:05Z"}`,
		"String status":     `{"endpoint":"/a","method":"GET","status":"200","timestamp":"2024-01-02T03:04:05Z"}`,
		"Status range":      `{"endpoint":"/a","method":"GET","status":700,"timestamp":"2024-01-02T03:04:05Z"}`,
		"Missing timestamp": `{"endpoint":"/a","method":"GET","status":200}`,
		"Bad timestamp":     `{"endpoint":"/a","method":"GET","status":200,"timestamp":"yesterday"}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			if !errors.Is(err, domain.ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
			if !strings.Contains(err.Error(), "decode error") {
				t.Errorf("unexpected error text %q", err.Error())
			}
		})
	}
}
