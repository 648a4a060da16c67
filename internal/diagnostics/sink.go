package diagnostics

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Entry is one failed document operation.
type Entry struct {
	Time    time.Time `json:"time"`
	Op      string    `json:"op"`
	Address string    `json:"address"`
	Message string    `json:"message"`
}

type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Reader is implemented by sinks that can return what they stored, newest
// last.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type LogSink struct {
	logger Logger
}

func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, entry Entry) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Printf("diagnostic op=%s address=%s: %s", entry.Op, entry.Address, entry.Message)
	return nil
}

type MemorySink struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemorySink{capacity: capacity}
}

func (s *MemorySink) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if overflow := len(s.entries) - s.capacity; overflow > 0 {
		s.entries = append([]Entry(nil), s.entries[overflow:]...)
	}
	return nil
}

func (s *MemorySink) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.entries, limit), nil
}

// Multi records to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, entry Entry) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func tail(entries []Entry, limit int) []Entry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, limit)
	copy(out, entries[len(entries)-limit:])
	return out
}
