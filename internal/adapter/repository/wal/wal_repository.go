package wal

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/logpipe/internal/domain"
	"github.com/V4T54L/logpipe/internal/pkg/jsoncodec"
)

const (
	segmentPrefix = "segment-"
	filePerm      = 0644
	maxLineSize   = 4 * 1024 * 1024
)

// record is the on-disk line format. Value is base64 encoded by the JSON codec.
type record struct {
	Topic    string            `json:"topic"`
	Key      []byte            `json:"key,omitempty"`
	Value    []byte            `json:"value"`
	Headers  map[string]string `json:"headers,omitempty"`
	BufferAt time.Time         `json:"buffered_at"`
}

// WALRepository implements a file-based Write-Ahead Log for messages the broker
// could not accept.
type WALRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	// replayMu serializes replays; mu guards the open segment and is never held
	// while the replay handler runs.
	replayMu       sync.Mutex
	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	lastSeq        int64
	replayed       []string
}

// NewWALRepository creates a new WALRepository.
func NewWALRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*WALRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &WALRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "wal_repository"),
	}

	if err := w.openLatestSegment(); err != nil {
		return nil, err
	}

	return w, nil
}

// Write appends a message to the current WAL segment.
func (w *WALRepository) Write(ctx context.Context, msg domain.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := jsoncodec.Marshal(record{
		Topic:    msg.Topic,
		Key:      msg.Key,
		Value:    msg.Value,
		Headers:  msg.Headers,
		BufferAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message for WAL: %w", err)
	}
	data = append(data, '\n')

	if w.currentSegment == nil {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	totalSize, err := w.calculateTotalSize()
	if err != nil {
		w.logger.Error("failed to calculate total WAL size", "error", err)
		return fmt.Errorf("could not verify WAL disk space: %w", err)
	}
	if totalSize+int64(len(data)) > w.maxTotalSize {
		return fmt.Errorf("WAL max total size exceeded (%d > %d)", totalSize, w.maxTotalSize)
	}

	n, err := w.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to WAL segment: %w", err)
	}
	w.currentSize += int64(n)

	if w.currentSize >= w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			w.logger.Error("failed to rotate WAL segment", "error", err)
		}
	}

	return nil
}

// Replay seals the current segment and hands every message of the sealed segments
// to handler in write order. It stops at the first handler error so that nothing
// is truncated past it. The handler runs without the write lock, so Write keeps
// appending to a fresh segment while a replay is in progress.
func (w *WALRepository) Replay(ctx context.Context, handler func(msg domain.Message) error) error {
	w.replayMu.Lock()
	defer w.replayMu.Unlock()

	segments, err := w.sealSegments()
	if err != nil {
		return err
	}

	if len(segments) == 0 {
		w.logger.Debug("WAL is empty, nothing to replay")
		return nil
	}
	w.logger.Info("starting WAL replay", "segment_count", len(segments))

	var replayed []string
	defer func() {
		w.mu.Lock()
		w.replayed = replayed
		w.mu.Unlock()
	}()
	for _, segmentPath := range segments {
		if err := w.replaySegment(ctx, segmentPath, handler); err != nil {
			return err
		}
		replayed = append(replayed, segmentPath)
	}

	w.logger.Info("WAL replay completed")
	return nil
}

// sealSegments rotates away from a non-empty current segment and returns every
// segment except the one now open for writes.
func (w *WALRepository) sealSegments() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment == nil || w.currentSize > 0 {
		if err := w.rotate(); err != nil {
			return nil, err
		}
	}

	segments, err := w.getSortedSegments()
	if err != nil {
		return nil, err
	}
	sealed := segments[:0]
	for _, path := range segments {
		if path != w.currentSegment.Name() {
			sealed = append(sealed, path)
		}
	}
	return sealed, nil
}

func (w *WALRepository) replaySegment(ctx context.Context, segmentPath string, handler func(msg domain.Message) error) error {
	file, err := os.Open(segmentPath)
	if err != nil {
		return fmt.Errorf("failed to open segment %s for replay: %w", segmentPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var rec record
		if err := jsoncodec.Unmarshal(scanner.Bytes(), &rec); err != nil {
			w.logger.Warn("failed to unmarshal message from WAL, skipping", "error", err, "segment", segmentPath)
			continue
		}
		msg := domain.Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value, Headers: rec.Headers, Time: rec.BufferAt}
		if err := handler(msg); err != nil {
			w.logger.Error("WAL replay handler failed, stopping replay", "error", err)
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning segment %s: %w", segmentPath, err)
	}
	return nil
}

// Truncate removes the segments fully handled by the last Replay. Segments written
// after that replay are kept.
func (w *WALRepository) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, segmentPath := range w.replayed {
		if w.currentSegment != nil && w.currentSegment.Name() == segmentPath {
			w.currentSegment.Close()
			w.currentSegment = nil
		}
		if err := os.Remove(segmentPath); err != nil && !os.IsNotExist(err) {
			w.logger.Error("failed to remove WAL segment", "path", segmentPath, "error", err)
		}
	}
	removed := len(w.replayed)
	w.replayed = nil

	w.logger.Info("WAL truncated", "segments_removed", removed)
	if w.currentSegment == nil {
		return w.openLatestSegment()
	}
	return nil
}

func (w *WALRepository) rotate() error {
	if w.currentSegment != nil {
		if err := w.currentSegment.Sync(); err != nil {
			w.logger.Error("failed to sync WAL segment before rotating", "error", err)
		}
		if err := w.currentSegment.Close(); err != nil {
			w.logger.Error("failed to close WAL segment before rotating", "error", err)
		}
		w.currentSegment = nil
	}

	// Zero-padded so lexical order matches creation order.
	seq := time.Now().UnixNano()
	if seq <= w.lastSeq {
		seq = w.lastSeq + 1
	}
	w.lastSeq = seq
	segmentName := fmt.Sprintf("%s%020d.log", segmentPrefix, seq)
	path := filepath.Join(w.dir, segmentName)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create new WAL segment %s: %w", path, err)
	}

	w.currentSegment = f
	w.currentSize = 0
	w.logger.Debug("rotated to new WAL segment", "path", path)
	return nil
}

func (w *WALRepository) openLatestSegment() error {
	segments, err := w.getSortedSegments()
	if err != nil {
		return err
	}

	if len(segments) == 0 {
		return w.rotate()
	}

	latestSegmentPath := segments[len(segments)-1]
	stat, err := os.Stat(latestSegmentPath)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latestSegmentPath, err)
	}

	f, err := os.OpenFile(latestSegmentPath, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latestSegmentPath, err)
	}

	w.currentSegment = f
	w.currentSize = stat.Size()
	w.logger.Info("opened existing WAL segment", "path", latestSegmentPath, "size", w.currentSize)

	if w.currentSize >= w.maxSegmentSize {
		return w.rotate()
	}

	return nil
}

func (w *WALRepository) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(w.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (w *WALRepository) calculateTotalSize() (int64, error) {
	var totalSize int64
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			info, err := entry.Info()
			if err != nil {
				return 0, err
			}
			totalSize += info.Size()
		}
	}
	return totalSize, nil
}

// Close ensures the current segment is closed gracefully.
func (w *WALRepository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentSegment != nil {
		err := w.currentSegment.Close()
		w.currentSegment = nil
		return err
	}
	return nil
}
