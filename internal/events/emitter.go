package events

import (
	"context"
	"log/slog"
	"sync"
)

// Emitter carries domain events out of process.
type Emitter interface {
	Emit(ctx context.Context, seq int64, ev Event) error
}

// LogEmitter writes events to a structured logger. It is the default
// emitter when no broker is configured.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter returns an emitter logging at Info level.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

// Emit logs the event. Never fails.
func (e *LogEmitter) Emit(ctx context.Context, seq int64, ev Event) error {
	e.log.InfoContext(ctx, "event",
		slog.String("type", ev.Type()),
		slog.String("key", ev.Key()),
		slog.Int64("seq", seq),
		slog.Any("event", ev),
	)
	return nil
}

// Recorder captures events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit records the event.
func (r *Recorder) Emit(ctx context.Context, seq int64, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type name.
func (r *Recorder) OfType(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type() == name {
			out = append(out, ev)
		}
	}
	return out
}
