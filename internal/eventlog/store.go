// Package eventlog persists event records as one JSON object per line in an
// append-only file. Queries re-read the file in full; there is no cursor
// state and no index, so every answer reflects exactly what is on disk.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/carlosmpereira/bookpulse/internal/domain"
)

// ErrClosed indicates the store was used after Close.
var ErrClosed = errors.New("eventlog: store closed")

// Lines longer than this are treated as corrupt and skipped on read.
const maxLineBytes = 1 << 20

// Store is an append-only JSONL event log. Appends are serialized; reads
// open their own handle and never block writers beyond the append mutex.
type Store struct {
	path string

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Open creates the log file (and parent directory) if needed and returns a
// store ready for appends.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &Store{path: path, file: file}, nil
}

// Append durably persists one record. The caller must not backdate events;
// write order is the total order of the log.
func (s *Store) Append(event domain.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventlog: encode event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	return nil
}

// Query re-reads the whole log and returns every well-formed record with
// timestamp >= since, in write order, plus the number of lines skipped
// because they could not be decoded. A missing file is an empty log.
func (s *Store) Query(since time.Time) ([]domain.Event, int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, 0, ErrClosed
	}

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("eventlog: open for read: %w", err)
	}
	defer file.Close()

	var (
		events  []domain.Event
		skipped int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event domain.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			skipped++
			continue
		}
		if event.Timestamp.Before(since) {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			// A single oversized line loses the tail of the file but not
			// what was already decoded.
			return events, skipped + 1, nil
		}
		return nil, skipped, fmt.Errorf("eventlog: scan: %w", err)
	}
	return events, skipped, nil
}

// Close flushes and releases the append handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("eventlog: close: %w", err)
	}
	return nil
}

// Ping verifies the backing file is still reachable.
func (s *Store) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("eventlog: ping: %w", err)
	}
	return nil
}

// Path reports the backing file location.
func (s *Store) Path() string {
	return s.path
}
