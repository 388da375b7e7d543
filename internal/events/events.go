// Package events carries scan progress out of the orchestrator. Phase
// logic publishes typed events; how they reach the caller (callback for
// the CLI, drained channel for the run-tracking service) is the
// consumer's choice.
package events

import (
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelStep    Level = "step"
	LevelWarning Level = "warning"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Event is one progress record from a scan run.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     Level     `json:"type"`
}

// Emitter is the orchestrator's only coupling point to whoever tracks
// run progress. Emit must return promptly and must never fail the run.
type Emitter interface {
	Emit(message string, level Level)
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(message string, level Level)

func (f EmitterFunc) Emit(message string, level Level) {
	if f != nil {
		f(message, level)
	}
}

// Sink is a channel-backed Emitter. The producer never blocks: when the
// buffer is full the oldest pending event is discarded to make room, so
// a stalled consumer slows reporting, not scanning.
type Sink struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	return &Sink{ch: make(chan Event, buffer)}
}

func (s *Sink) Emit(message string, level Level) {
	ev := Event{Timestamp: time.Now(), Message: message, Level: level}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- ev:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// Events returns the channel the consumer drains. The channel is closed
// by Close once the run finishes.
func (s *Sink) Events() <-chan Event {
	return s.ch
}

// Close marks the sink finished. Emit after Close is a no-op.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
