package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/V4T54L/logpipe/internal/domain"
)

// Dead-letter headers carried next to the original payload.
const (
	HeaderReason            = "x-reason"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderFailedAt          = "x-failed-at"
)

// DeadLetterWriter republishes skipped messages to the dead-letter topic.
type DeadLetterWriter struct {
	w domain.BrokerWriter
}

// NewDeadLetterWriter wraps a writer bound to the dead-letter topic.
func NewDeadLetterWriter(w domain.BrokerWriter) *DeadLetterWriter {
	return &DeadLetterWriter{w: w}
}

func (d *DeadLetterWriter) DeadLetter(ctx context.Context, msg domain.Message, reason error) error {
	return d.w.Write(ctx, deadLetterMessage(msg, reason, time.Now().UTC()))
}

func (d *DeadLetterWriter) Close() error {
	return d.w.Close()
}

func deadLetterMessage(msg domain.Message, reason error, failedAt time.Time) domain.Message {
	headers := make(map[string]string, len(msg.Headers)+5)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if reason != nil {
		headers[HeaderReason] = reason.Error()
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderOriginalPartition] = strconv.Itoa(msg.Partition)
	headers[HeaderOriginalOffset] = strconv.FormatInt(msg.Offset, 10)
	headers[HeaderFailedAt] = failedAt.Format(time.RFC3339)

	return domain.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}
