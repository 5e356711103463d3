// Package codec converts LogEvents to and from the JSON payload carried on the log topic.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/V4T54L/logpipe/internal/domain"
	"github.com/V4T54L/logpipe/internal/pkg/jsoncodec"
)

// ContentType is attached to broker records that carry an encoded LogEvent.
const ContentType = "application/json"

type outgoingEvent struct {
	Endpoint  string  `json:"endpoint"`
	Method    string  `json:"method"`
	Status    int     `json:"status"`
	Timestamp string  `json:"timestamp"`
	Details   *string `json:"details"`
}

type incomingEvent struct {
	Endpoint  *string         `json:"endpoint"`
	Method    *string         `json:"method"`
	Status    *int            `json:"status"`
	Timestamp *string         `json:"timestamp"`
	Details   json.RawMessage `json:"details"`
}

// Encode validates the event and serializes it to the topic's JSON object.
func Encode(event domain.LogEvent) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncoding, err)
	}

	payload, err := jsoncodec.Marshal(outgoingEvent{
		Endpoint:  event.Endpoint,
		Method:    event.Method,
		Status:    event.Status,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Details:   event.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncoding, err)
	}
	return payload, nil
}

// Decode parses a topic payload. Any structural problem is reported as domain.ErrDecode.
func Decode(payload []byte) (domain.LogEvent, error) {
	var in incomingEvent
	if err := jsoncodec.Unmarshal(payload, &in); err != nil {
		return domain.LogEvent{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}

	switch {
	case in.Endpoint == nil || *in.Endpoint == "":
		return domain.LogEvent{}, fmt.Errorf("%w: missing endpoint", domain.ErrDecode)
	case in.Method == nil || *in.Method == "":
		return domain.LogEvent{}, fmt.Errorf("%w: missing method", domain.ErrDecode)
	case in.Status == nil:
		return domain.LogEvent{}, fmt.Errorf("%w: missing status", domain.ErrDecode)
	case in.Timestamp == nil:
		return domain.LogEvent{}, fmt.Errorf("%w: missing timestamp", domain.ErrDecode)
	}

	ts, err := time.Parse(time.RFC3339Nano, *in.Timestamp)
	if err != nil {
		return domain.LogEvent{}, fmt.Errorf("%w: timestamp: %w", domain.ErrDecode, err)
	}

	details, err := decodeDetails(in.Details)
	if err != nil {
		return domain.LogEvent{}, err
	}

	event := domain.LogEvent{
		Endpoint:  *in.Endpoint,
		Method:    *in.Method,
		Status:    *in.Status,
		Timestamp: ts.UTC(),
		Details:   details,
	}
	if err := event.Validate(); err != nil {
		return domain.LogEvent{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	return event, nil
}

// decodeDetails accepts a string, null or any other JSON value. Non-string values are
// kept as their compact JSON text.
func decodeDetails(raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: details: %w", domain.ErrDecode, err)
		}
		return &s, nil
	}

	compacted, err := jsoncodec.Compact(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: details: %w", domain.ErrDecode, err)
	}
	s := string(compacted)
	return &s, nil
}
