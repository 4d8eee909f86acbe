package events

import (
	"log/slog"
	"sync"
)

// Publisher is the outbound contract consumed by the pipeline. External
// API/notification layers subscribe behind it.
type Publisher interface {
	Publish(event Envelope)
}

// Handler consumes one outbound event.
type Handler func(Envelope)

// Bus is an in-memory publisher dispatching synchronously to subscribers.
// Handler panics are contained so one misbehaving consumer cannot stall the
// pipeline.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewBus constructs a Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish dispatches the event to matching subscribers.
func (b *Bus) Publish(event Envelope) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(handler, event)
	}
}

func (b *Bus) dispatch(handler Handler, event Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event_type", string(event.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	handler(event)
}

// Recorder is a Publisher capturing events for tests and audits.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

// NewRecorder constructs a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends the event to the record.
func (r *Recorder) Publish(event Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t Type) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, 0)
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
