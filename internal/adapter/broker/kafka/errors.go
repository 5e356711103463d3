package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/V4T54L/logpipe/internal/domain"
)

// classifyError maps kafka-go and network failures onto the domain error classes
// the publisher and workers act on.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var writeErrs kafkago.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				return classifyError(e)
			}
		}
	}

	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafkago.MessageSizeTooLarge, kafkago.InvalidMessage, kafkago.InvalidMessageSize:
			return fmt.Errorf("%w: %w", domain.ErrEncoding, err)
		}
		if kerr.Temporary() {
			return fmt.Errorf("%w: %w", domain.ErrBrokerFull, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	return err
}
