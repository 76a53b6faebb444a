package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/google/uuid"
)

// Sink receives every event delivered by the bus.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// Handler is an in-process subscriber.
type Handler func(Event)

type handlerEntry struct {
	id      int64
	handler Handler
}

// Bus buffers published events and fans them out to sinks and handlers on a
// dispatcher goroutine. Publish never blocks; when the queue is full the
// event is counted as dropped.
type Bus struct {
	log   *logger.Logger
	queue chan Event

	mu       sync.RWMutex
	recent   []Event
	size     int
	head     int
	count    int
	sinks    []Sink
	handlers []handlerEntry
	nextID   int64

	dropped uint64

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ Publisher = (*Bus)(nil)
var _ system.Service = (*Bus)(nil)

// NewBus creates a bus with the given queue size. The same size bounds the
// recent-event ring.
func NewBus(buffer int, log *logger.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Bus{
		log:    log,
		queue:  make(chan Event, buffer),
		recent: make([]Event, buffer),
		size:   buffer,
	}
}

// AddSink registers an outbound sink.
func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Subscribe registers a handler and returns its unsubscribe func.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps and enqueues the event.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.recent[b.head] = evt
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()

	select {
	case b.queue <- evt:
	default:
		atomic.AddUint64(&b.dropped, 1)
		b.log.WithField("event", evt.Type).Warn("event queue full; dropping event")
	}
}

// Recent returns up to n events, newest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		result[i] = b.recent[idx]
	}
	return result
}

// Dropped reports how many events were discarded because the queue was full.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

func (b *Bus) Name() string { return "events" }

func (b *Bus) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.wg.Add(1)
	go b.run(runCtx)

	b.log.Info("event bus started")
	return nil
}

func (b *Bus) Stop(ctx context.Context) error {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return nil
	}
	cancel := b.cancel
	b.running = false
	b.runMu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// flush whatever was queued before shutdown
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(context.Background(), evt)
		default:
			b.log.Info("event bus stopped")
			return nil
		}
	}
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.queue:
			b.dispatch(ctx, evt)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	handlers := append([]handlerEntry(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h.handler(evt)
	}
	for _, s := range sinks {
		if err := s.Deliver(ctx, evt); err != nil {
			b.log.WithError(err).
				WithField("sink", s.Name()).
				WithField("event", evt.Type).
				Warn("event delivery failed")
		}
	}
}
