package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// ErrBusClosed is returned when publishing after Close
var ErrBusClosed = errors.New("event bus closed")

// Handler consumes one domain event
type Handler func(ctx context.Context, e Event) error

type subscriber struct {
	name    string
	handler Handler
}

type task struct {
	ctx   context.Context
	event Event
	sub   subscriber
}

/* Bus dispatches every published event to each subscriber as a separate task
 * Tasks run on a fixed pool of workers; a failing or panicking handler
 * only affects its own task
 */
type Bus struct {
	logger  zerolog.Logger
	workers int

	mu     sync.RWMutex
	subs   []subscriber
	tasks  chan task
	closed bool
	wg     sync.WaitGroup
	start  sync.Once
}

// NewBus creates a bus with the given worker count and queue size
func NewBus(logger zerolog.Logger, workers, queueSize int) *Bus {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Bus{
		logger:  logger.With().Str("component", "event-bus").Logger(),
		workers: workers,
		tasks:   make(chan task, queueSize),
	}
}

// Subscribe registers a named handler for all events
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{name: name, handler: h})
}

// Start launches the worker pool
func (b *Bus) Start() {
	b.start.Do(func() {
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go b.work()
		}
	})
}

// Publish submits one task per subscriber
// It blocks only while the queue is full and honours ctx while doing so
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e == nil {
		return fmt.Errorf("publishing event: nil event")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	// handlers outlive the publishing request
	taskCtx := context.WithoutCancel(ctx)
	for _, sub := range b.subs {
		select {
		case b.tasks <- task{ctx: taskCtx, event: e, sub: sub}:
		case <-ctx.Done():
			return fmt.Errorf("publishing %s to %s: %w", e.Kind(), sub.name, ctx.Err())
		}
	}
	return nil
}

// Close stops accepting events and waits until queued tasks finish
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()

	b.Start() // drain even if never started
	b.wg.Wait()
}

func (b *Bus) work() {
	defer b.wg.Done()
	for t := range b.tasks {
		b.run(t)
	}
}

func (b *Bus) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("handler", t.sub.name).
				Str("event", string(t.event.Kind())).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()

	if err := t.sub.handler(t.ctx, t.event); err != nil {
		b.logger.Error().
			Err(err).
			Str("handler", t.sub.name).
			Str("event", string(t.event.Kind())).
			Msg("event handler failed")
	}
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id that handlers can propagate
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, if any
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
