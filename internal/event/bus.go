package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anoa.com/refurnish/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize      = 256
	DefaultHandlerTimeout = 10 * time.Second
)

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.handlerTimeout = d
		}
	}
}

type subscriber struct {
	name    string
	types   map[Type]bool
	handler Handler
	queue   chan Event
}

func (s *subscriber) accepts(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is an in-process pub/sub with one bounded queue and one worker per subscriber.
// Publish never blocks: when a subscriber's queue is full the event is dropped for
// that subscriber only.
type Bus struct {
	log            *zap.Logger
	queueSize      int
	handlerTimeout time.Duration

	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

func NewBus(log *zap.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:            log.Named("event_bus"),
		queueSize:      DefaultQueueSize,
		handlerTimeout: DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for the given types, or for every type when none are given.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.log.Warn("subscribe after close ignored", zap.String("subscriber", name))
		return
	}

	s := &subscriber{
		name:    name,
		types:   make(map[Type]bool, len(types)),
		handler: handler,
		queue:   make(chan Event, b.queueSize),
	}
	for _, t := range types {
		s.types[t] = true
	}
	b.subs = append(b.subs, s)

	b.wg.Add(1)
	go b.run(s)

	b.log.Debug("subscriber registered", zap.String("subscriber", name), zap.Int("types", len(types)))
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.log.Warn("publish after close dropped", zap.String("type", string(e.Type)), zap.String("user_id", e.UserID))
		return
	}

	metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()

	for _, s := range b.subs {
		if !s.accepts(e.Type) {
			continue
		}
		select {
		case s.queue <- e:
		default:
			metrics.EventsDropped.WithLabelValues(s.name).Inc()
			b.log.Warn("subscriber queue full, event dropped",
				zap.String("subscriber", s.name),
				zap.String("type", string(e.Type)),
				zap.String("user_id", e.UserID),
			)
		}
	}
}

// Close stops intake and waits for queued events to drain or ctx to expire.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.queue)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("event bus drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus drain: %w", ctx.Err())
	}
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for e := range s.queue {
		b.dispatch(s, e)
	}
}

func (b *Bus) dispatch(s *subscriber, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.EventHandlerFailures.WithLabelValues(s.name).Inc()
			b.log.Error("subscriber panicked",
				zap.String("subscriber", s.name),
				zap.String("type", string(e.Type)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := s.handler(ctx, e); err != nil {
		metrics.EventHandlerFailures.WithLabelValues(s.name).Inc()
		b.log.Error("subscriber failed",
			zap.String("subscriber", s.name),
			zap.String("type", string(e.Type)),
			zap.String("user_id", e.UserID),
			zap.Error(err),
		)
	}
}

var _ Publisher = (*Bus)(nil)
