package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
)

// ErrPublisherClosed is returned for publishes after Close.
var ErrPublisherClosed = errors.New("event publisher is closed")

// Subscriber consumes published events. Handle is invoked from a single
// per-subscriber goroutine, so one subscriber observes events in publish
// order; it may be called more than once for the same event on redelivery.
type Subscriber interface {
	Handle(ctx context.Context, event AttributeUpdateEvent) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event AttributeUpdateEvent) error

// Handle calls f.
func (f SubscriberFunc) Handle(ctx context.Context, event AttributeUpdateEvent) error {
	return f(ctx, event)
}

// errSubscriptionClosed marks a subscription torn down while a publish was
// still targeting it.
var errSubscriptionClosed = errors.New("subscription closed")

// subscription is one registered subscriber with its FIFO delivery queue.
// The mutex orders queue sends against shutdown so a publisher racing an
// Unsubscribe observes a closed subscription instead of sending on a closed
// channel.
type subscription struct {
	id  string
	sub Subscriber

	mu     sync.Mutex
	ch     chan AttributeUpdateEvent
	closed bool
}

// trySend buffers the event without blocking. It reports whether the event
// was buffered and whether the subscription has been shut down.
func (s *subscription) trySend(event AttributeUpdateEvent) (sent, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, true
	}
	select {
	case s.ch <- event:
		return true, false
	default:
		return false, false
	}
}

// shutdown closes the delivery queue exactly once. Buffered events are still
// drained by the delivery goroutine.
func (s *subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Publisher fans events out to registered subscribers with at-least-once
// delivery. A publish is acknowledged once every subscriber's queue has
// buffered the event; a queue that stays full past the enqueue budget turns
// into an error reported to the caller — the event is never silently dropped.
// Per-subscriber queues are FIFO, so events from the same session reach a
// given subscriber in publish order. Ordering across subscribers is not
// guaranteed.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool

	bufferSize     int
	enqueueRetries int
	enqueueWait    time.Duration
	deliverRetries int
	logger         logr.Logger
	wg             sync.WaitGroup
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) { p.bufferSize = n }
}

// WithEnqueueBudget sets how many times a full queue is re-tried and the wait
// between tries.
func WithEnqueueBudget(retries int, wait time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.enqueueRetries = retries
		p.enqueueWait = wait
	}
}

// WithDeliverRetries sets how many times a failing subscriber handler is
// re-invoked for one event.
func WithDeliverRetries(n int) PublisherOption {
	return func(p *Publisher) { p.deliverRetries = n }
}

// NewPublisher creates a publisher with no subscribers.
func NewPublisher(logger logr.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		subs:           make(map[string]*subscription),
		bufferSize:     256,
		enqueueRetries: 3,
		enqueueWait:    50 * time.Millisecond,
		deliverRetries: 2,
		logger:         logger.WithName("event-publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers a subscriber under the given id, replacing any previous
// registration with that id.
func (p *Publisher) Subscribe(id string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if prev, ok := p.subs[id]; ok {
		prev.shutdown()
	}
	s := &subscription{id: id, ch: make(chan AttributeUpdateEvent, p.bufferSize), sub: sub}
	p.subs[id] = s

	p.wg.Add(1)
	go p.deliver(s)
}

// Unsubscribe removes a subscriber. Buffered events are still delivered.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.subs[id]; ok {
		delete(p.subs, id)
		s.shutdown()
	}
}

// Publish buffers the event for every currently-registered subscriber. A nil
// return is the acknowledgment that all subscribers accepted the event; a
// non-nil return names the subscribers whose queues stayed saturated — the
// caller logs and may requeue.
func (p *Publisher) Publish(ctx context.Context, event AttributeUpdateEvent) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPublisherClosed
	}
	targets := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		targets = append(targets, s)
	}
	p.mu.RUnlock()

	var errs *multierror.Error
	for _, s := range targets {
		if err := p.enqueue(ctx, s, event); err != nil {
			// A subscription torn down mid-publish is equivalent to one that
			// unregistered before the snapshot; only live failures count.
			if errors.Is(err, errSubscriptionClosed) {
				continue
			}
			errs = multierror.Append(errs, fmt.Errorf("subscriber %s: %w", s.id, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

func (p *Publisher) enqueue(ctx context.Context, s *subscription, event AttributeUpdateEvent) error {
	for attempt := 0; attempt <= p.enqueueRetries; attempt++ {
		sent, closed := s.trySend(event)
		if closed {
			return errSubscriptionClosed
		}
		if sent {
			return nil
		}
		if attempt == p.enqueueRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.enqueueWait):
		}
	}
	return errors.New("delivery queue saturated")
}

// deliver drains one subscriber's queue in FIFO order. Handler failures are
// retried a bounded number of times; duplicates are possible and expected.
func (p *Publisher) deliver(s *subscription) {
	defer p.wg.Done()
	for event := range s.ch {
		var err error
		for attempt := 0; attempt <= p.deliverRetries; attempt++ {
			err = s.sub.Handle(context.Background(), event)
			if err == nil {
				break
			}
		}
		if err != nil {
			p.logger.Error(err, "subscriber gave up on event",
				"subscriber", s.id, "eventID", event.ID, "actionID", event.ActionID)
		}
	}
}

// Close stops accepting publishes, drains subscriber queues and waits for
// delivery goroutines to finish.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, s := range p.subs {
		s.shutdown()
	}
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()

	p.wg.Wait()
}
