package audit

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"
)

// Event is one audit record.
type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	UserID        string            `json:"user_id,omitempty"`
	Backend       string            `json:"backend,omitempty"`
	MPinID        string            `json:"mpin_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Success       bool              `json:"success"`
	Status        string            `json:"status,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) {
	if f != nil {
		f(ctx, event)
	}
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line. Write failures are logged
// once per sink so a broken writer does not flood the log.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
	warned bool
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(data); err != nil && !s.warned {
		s.warned = true
		log.Printf("goMPin: audit writer failed: %v", err)
	}
}
