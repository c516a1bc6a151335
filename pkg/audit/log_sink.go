package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// LogSink writes events as JSON lines to a writer.
type LogSink struct {
	mu      sync.Mutex
	encoder *json.Encoder
	closer  io.Closer
}

// NewLogSink creates a sink writing to w.
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{encoder: json.NewEncoder(w)}
}

// NewFileSink creates a sink appending to the given file, creating parent
// directories as needed.
func NewFileSink(path string) (*LogSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}
	return &LogSink{
		encoder: json.NewEncoder(file),
		closer:  file,
	}, nil
}

func (s *LogSink) Emit(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(event); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
