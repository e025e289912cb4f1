// Package wal keeps writer events on disk in append-only segment files while
// the in-memory queue is full. Segments are consumed oldest first. A segment
// sealed because it reached its size limit is zstd-compressed in place.
package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/V4T54L/logrelay/internal/domain"
)

const (
	segmentPrefix  = "segment-"
	segmentExt     = ".log"
	compressedExt  = ".zst"
	sealingTempExt = ".tmp"
	filePerm       = 0644
)

// ErrSpillFull is returned by Write when the segments would exceed the
// configured total size.
var ErrSpillFull = errors.New("spill max total size exceeded")

// SpillRepository is a segmented on-disk FIFO of queued events.
type SpillRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentPath    string
	currentSize    int64
	totalSize      int64
	lastSegmentID  int64
}

// NewSpillRepository opens or creates the spill directory. Segments left by a
// previous run are kept and consumed before newer events.
func NewSpillRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*SpillRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spill directory %s: %w", dir, err)
	}

	s := &SpillRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "spill_repository"),
	}

	total, err := s.calculateTotalSize()
	if err != nil {
		return nil, fmt.Errorf("failed to size spill directory: %w", err)
	}
	s.totalSize = total
	if total > 0 {
		s.logger.Info("Found spilled events from a previous run", "bytes", total)
	}
	return s, nil
}

// Write appends an event to the newest segment, rotating when it is full.
func (s *SpillRepository) Write(ctx context.Context, event domain.QueuedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for spill: %w", err)
	}
	data = append(data, '\n')

	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d)", ErrSpillFull, s.totalSize, len(data), s.maxTotalSize)
	}

	if s.currentSegment == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.currentSegment.Write(data)
	s.currentSize += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to spill segment: %w", err)
	}

	if s.currentSize >= s.maxSegmentSize {
		path := s.currentPath
		if err := s.closeCurrent(); err != nil {
			s.logger.Error("Failed to close full spill segment", "error", err)
			return nil
		}
		s.seal(path)
	}
	return nil
}

// PopOldest reads and removes the oldest segment, returning its events in
// write order. Undecodable lines are skipped.
func (s *SpillRepository) PopOldest(ctx context.Context) ([]domain.QueuedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments, err := s.getSortedSegments()
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		if s.totalSize > 0 {
			// The files were removed behind our back; forget them.
			s.logger.Warn("Spill segments are missing, resetting spill size", "bytes", s.totalSize)
			if err := s.closeCurrent(); err != nil {
				s.logger.Error("Failed to close missing spill segment", "error", err)
			}
			s.totalSize = 0
		}
		return nil, nil
	}
	oldest := segments[0]
	if oldest == s.currentPath {
		if err := s.closeCurrent(); err != nil {
			s.logger.Error("Failed to close spill segment before reading", "error", err)
		}
	}

	file, err := os.Open(oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", oldest, err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(oldest, compressedExt) {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed segment %s: %w", oldest, err)
		}
		defer dec.Close()
		r = dec
	}

	var events []domain.QueuedEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var event domain.QueuedEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			s.logger.Warn("Failed to unmarshal spilled event, skipping", "error", err, "segment", oldest)
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning segment %s: %w", oldest, err)
	}

	info, err := file.Stat()
	if err == nil {
		s.totalSize -= info.Size()
		if s.totalSize < 0 {
			s.totalSize = 0
		}
	}
	if err := os.Remove(oldest); err != nil {
		return nil, fmt.Errorf("failed to remove segment %s: %w", oldest, err)
	}

	s.logger.Debug("Consumed spill segment", "path", oldest, "events", len(events))
	return events, nil
}

// Prepend writes events to a new segment ordered before every existing one.
// Either all events are stored or none.
func (s *SpillRepository) Prepend(ctx context.Context, events []domain.QueuedEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf []byte
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event for spill: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	if s.totalSize+int64(len(buf)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d)", ErrSpillFull, s.totalSize, len(buf), s.maxTotalSize)
	}

	id, err := s.frontSegmentID()
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, id, segmentExt))
	tmp := path + sealingTempExt
	if err := writeFileSync(tmp, buf); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write spill segment %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to install spill segment %s: %w", path, err)
	}

	s.totalSize += int64(len(buf))
	s.logger.Info("Prepended events to spill", "path", path, "events", len(events))
	return nil
}

// frontSegmentID returns an ID sorting before the oldest segment.
func (s *SpillRepository) frontSegmentID() (int64, error) {
	segments, err := s.getSortedSegments()
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		id := time.Now().UnixNano()
		if id <= s.lastSegmentID {
			id = s.lastSegmentID + 1
		}
		s.lastSegmentID = id
		return id, nil
	}

	name := strings.TrimPrefix(filepath.Base(segments[0]), segmentPrefix)
	digits, _, _ := strings.Cut(name, ".")
	oldest, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || oldest <= 0 {
		return 0, fmt.Errorf("cannot order before spill segment %s", segments[0])
	}
	return oldest - 1, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// HasPending reports whether any spilled bytes remain.
func (s *SpillRepository) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize > 0
}

// Size returns the number of bytes currently spilled.
func (s *SpillRepository) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

func (s *SpillRepository) rotate() error {
	if err := s.closeCurrent(); err != nil {
		s.logger.Error("Failed to close spill segment before rotating", "error", err)
	}

	// Segment names must sort in creation order, even within one clock tick.
	id := time.Now().UnixNano()
	if id <= s.lastSegmentID {
		id = s.lastSegmentID + 1
	}
	s.lastSegmentID = id

	path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, id, segmentExt))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create new spill segment %s: %w", path, err)
	}

	s.currentSegment = f
	s.currentPath = path
	s.currentSize = 0
	s.logger.Info("Rotated to new spill segment", "path", path)
	return nil
}

func (s *SpillRepository) closeCurrent() error {
	if s.currentSegment == nil {
		return nil
	}
	f := s.currentSegment
	s.currentSegment = nil
	s.currentPath = ""
	s.currentSize = 0
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *SpillRepository) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spill directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if isSegment(entry) {
			segments = append(segments, filepath.Join(s.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (s *SpillRepository) calculateTotalSize() (int64, error) {
	var totalSize int64
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), sealingTempExt) {
			// Left by a crash while sealing; the raw segment is still there.
			os.Remove(filepath.Join(s.dir, entry.Name()))
			continue
		}
		if isSegment(entry) {
			info, err := entry.Info()
			if err != nil {
				return 0, err
			}
			totalSize += info.Size()
		}
	}
	return totalSize, nil
}

// seal compresses a closed segment. On any failure, or when compression does
// not save space, the raw segment is kept.
func (s *SpillRepository) seal(path string) {
	compressed := path + compressedExt
	tmp := compressed + sealingTempExt

	rawSize, size, err := compressFile(path, tmp)
	if err != nil {
		os.Remove(tmp)
		s.logger.Warn("Failed to compress spill segment, keeping it raw", "path", path, "error", err)
		return
	}
	if size >= rawSize {
		os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, compressed); err != nil {
		os.Remove(tmp)
		s.logger.Warn("Failed to install compressed spill segment", "path", path, "error", err)
		return
	}
	if err := os.Remove(path); err != nil {
		s.logger.Error("Failed to remove raw spill segment after compression", "path", path, "error", err)
		return
	}

	s.totalSize += size - rawSize
	s.logger.Debug("Sealed spill segment", "path", compressed, "raw_bytes", rawSize, "bytes", size)
}

func compressFile(src, dst string) (rawSize, size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, 0, err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return 0, 0, err
	}
	rawSize, err = io.Copy(enc, in)
	if err != nil {
		enc.Close()
		return 0, 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, 0, err
	}
	if err := out.Sync(); err != nil {
		return 0, 0, err
	}
	info, err := out.Stat()
	if err != nil {
		return 0, 0, err
	}
	return rawSize, info.Size(), nil
}

func isSegment(entry os.DirEntry) bool {
	name := entry.Name()
	return !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) &&
		(strings.HasSuffix(name, segmentExt) || strings.HasSuffix(name, segmentExt+compressedExt))
}

// Close flushes and closes the segment being written.
func (s *SpillRepository) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCurrent()
}
