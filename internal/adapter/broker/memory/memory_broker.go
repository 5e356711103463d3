package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/V4T54L/logpipe/internal/domain"
)

// ErrClosed is returned by readers and writers used after Close.
var ErrClosed = errors.New("memory broker: closed")

// Broker is an in-process, partitioned log with per-group committed offsets.
// It keeps every record for the lifetime of the process, so a reader opened after
// another one went away resumes from the group's last commit.
type Broker struct {
	partitions int

	mu         sync.Mutex
	topics     map[string][][]domain.Message
	committed  map[string]map[int]int64 // "topic/group" -> partition -> next offset
	notify     chan struct{}
	writeErr   error
	connectErr error

	deadMu      sync.Mutex
	deadLetters []DeadLetter

	roundRobin atomic.Uint32
}

// DeadLetter is a message moved aside together with the reason it was skipped.
type DeadLetter struct {
	Message domain.Message
	Reason  string
}

// NewBroker creates a broker whose topics have the given number of partitions.
func NewBroker(partitions int) *Broker {
	if partitions < 1 {
		partitions = 1
	}
	return &Broker{
		partitions: partitions,
		topics:     make(map[string][][]domain.Message),
		committed:  make(map[string]map[int]int64),
		notify:     make(chan struct{}),
	}
}

// SetWriteErr makes every Write fail with err until it is reset with nil.
func (b *Broker) SetWriteErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// SetConnectErr makes reader factories fail with err until it is reset with nil.
func (b *Broker) SetConnectErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

func (b *Broker) partitionsFor(topic string) [][]domain.Message {
	parts, ok := b.topics[topic]
	if !ok {
		parts = make([][]domain.Message, b.partitions)
		b.topics[topic] = parts
	}
	return parts
}

func (b *Broker) partitionOf(key []byte) int {
	if len(key) == 0 {
		return int(b.roundRobin.Add(1)-1) % b.partitions
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(b.partitions))
}

func (b *Broker) append(topic string, msgs []domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}

	parts := b.partitionsFor(topic)
	for _, msg := range msgs {
		p := b.partitionOf(msg.Key)
		msg.Topic = topic
		msg.Partition = p
		msg.Offset = int64(len(parts[p]))
		if msg.Time.IsZero() {
			msg.Time = time.Now().UTC()
		}
		parts[p] = append(parts[p], msg)
	}
	b.topics[topic] = parts

	// Wake every blocked reader.
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Len returns the number of records stored for topic.
func (b *Broker) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, part := range b.topics[topic] {
		n += len(part)
	}
	return n
}

// Committed returns the next offset group will read from partition.
func (b *Broker) Committed(topic, group string, partition int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[groupKey(topic, group)][partition]
}

// DeadLetters returns a copy of the dead-lettered messages.
func (b *Broker) DeadLetters() []DeadLetter {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	return append([]DeadLetter(nil), b.deadLetters...)
}

// DeadLetter implements domain.DeadLetterWriter.
func (b *Broker) DeadLetter(ctx context.Context, msg domain.Message, reason error) error {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	r := ""
	if reason != nil {
		r = reason.Error()
	}
	b.deadLetters = append(b.deadLetters, DeadLetter{Message: msg, Reason: r})
	return nil
}

func groupKey(topic, group string) string {
	return topic + "/" + group
}

// Writer publishes to a single topic of the broker.
type Writer struct {
	broker *Broker
	topic  string
	closed atomic.Bool
}

// NewWriter returns a domain.BrokerWriter bound to topic.
func (b *Broker) NewWriter(topic string) *Writer {
	return &Writer{broker: b, topic: topic}
}

func (w *Writer) Write(ctx context.Context, msgs ...domain.Message) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.broker.append(w.topic, msgs)
}

func (w *Writer) Ping(ctx context.Context) error {
	w.broker.mu.Lock()
	defer w.broker.mu.Unlock()
	if w.broker.writeErr != nil {
		return w.broker.writeErr
	}
	return nil
}

func (w *Writer) Close() error {
	w.closed.Store(true)
	return nil
}

// Reader consumes a topic on behalf of one consumer group. Fetch walks the
// partitions round-robin; order within a partition is preserved.
type Reader struct {
	broker *Broker
	topic  string
	group  string

	mu     sync.Mutex
	cursor map[int]int64
	next   int
	closed bool
}

// NewReader opens a reader positioned at the group's committed offsets.
func (b *Broker) NewReader(topic, group string) *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	cursor := make(map[int]int64, b.partitions)
	for p, off := range b.committed[groupKey(topic, group)] {
		cursor[p] = off
	}
	return &Reader{broker: b, topic: topic, group: group, cursor: cursor}
}

// ReaderFactory returns a domain.ReaderFactory that opens readers for topic and
// group, honouring SetConnectErr.
func (b *Broker) ReaderFactory(topic, group string) domain.ReaderFactory {
	return func(ctx context.Context) (domain.BrokerReader, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.mu.Lock()
		err := b.connectErr
		b.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return b.NewReader(topic, group), nil
	}
}

func (r *Reader) Fetch(ctx context.Context) (domain.Message, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return domain.Message{}, ErrClosed
		}
		r.broker.mu.Lock()
		parts := r.broker.topics[r.topic]
		wait := r.broker.notify
		for i := 0; i < len(parts); i++ {
			p := (r.next + i) % len(parts)
			off := r.cursor[p]
			if off < int64(len(parts[p])) {
				msg := parts[p][off]
				r.cursor[p] = off + 1
				r.next = (p + 1) % len(parts)
				r.broker.mu.Unlock()
				r.mu.Unlock()
				return msg, nil
			}
		}
		r.broker.mu.Unlock()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		case <-wait:
		}
	}
}

func (r *Reader) Commit(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	r.broker.mu.Lock()
	defer r.broker.mu.Unlock()
	key := groupKey(r.topic, r.group)
	offsets, ok := r.broker.committed[key]
	if !ok {
		offsets = make(map[int]int64)
		r.broker.committed[key] = offsets
	}
	if next := msg.Offset + 1; next > offsets[msg.Partition] {
		offsets[msg.Partition] = next
	}
	return nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
