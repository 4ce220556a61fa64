// Package eventbus routes realtime gateway events to their consumers
// through a bounded worker pool.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/model"
)

// Kind discriminates realtime events.
type Kind string

const (
	KindStateUpdate      Kind = "state_update"
	KindConnectionStatus Kind = "connection_status"
	KindConnected        Kind = "connected"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is one realtime gateway event. State is set for state_update,
// Connected for connection_status, Message for the informational greeting.
type Event struct {
	Kind      Kind
	BoardID   string
	State     *model.Board
	Connected bool
	Message   string
}

// Handler is a function that handles events
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	ordered  map[Kind][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	// Closing this channel signals publishers to stop; a channel in select
	// is race-free, unlike mutex + bool.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers:  make(map[Kind][]Handler),
		ordered:   make(map[Kind][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_kind", string(w.event.Kind)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event kind
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[kind] = append(b.handlers[kind], handler)
}

// SubscribeOrdered registers a handler that runs synchronously on the
// publisher's goroutine. Events from a single publisher reach the handler
// in publish order, which the pooled workers cannot guarantee.
func (b *Bus) SubscribeOrdered(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ordered[kind] = append(b.ordered[kind], handler)
}

// Publish sends an event to all subscribed handlers. Ordered handlers run
// inline; pooled handlers are non-blocking and dropped with a warning if
// the work queue is full or the bus is closing.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Kind]
	ordered := b.ordered[event.Kind]
	b.mu.RUnlock()

	select {
	case <-b.closing:
		log.Warn().Str("event_kind", string(event.Kind)).Msg("Event bus closing, dropping event")
		return
	default:
	}

	for _, handler := range ordered {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_kind", string(event.Kind)).
						Msg("Ordered event handler panicked")
				}
			}()
			handler(event)
		}()
	}

	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_kind", string(event.Kind)).Msg("Event bus closing, dropping event")
			return
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_kind", string(event.Kind)).
				Str("board_id", event.BoardID).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	close(b.workQueue)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[Kind][]Handler)
	b.ordered = make(map[Kind][]Handler)
}
