package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/playmesh-dev/playmesh/go/internal/events"
)

// RetryPolicy is the per-channel delivery retry budget.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is used for channels registered without a policy.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 200 * time.Millisecond}

// channelWorker owns one channel's bounded queue and delivery goroutine.
type channelWorker struct {
	channel Channel
	queue   chan *Notification
	retry   RetryPolicy
}

// Dispatcher maps attribute update events to notification channels. Each
// channel has a bounded queue: when the queue is full a new notification is
// rejected immediately with a saturation reason instead of blocking the
// caller or growing without bound. Terminal delivery outcomes are recorded in
// the delivery log.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    map[string][]Subscription // userID -> subscriptions
	workers map[string]*channelWorker // channel name -> worker
	closed  bool

	store  *Store
	logger logr.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher without channels or subscriptions.
func NewDispatcher(store *Store, logger logr.Logger) *Dispatcher {
	return &Dispatcher{
		subs:    make(map[string][]Subscription),
		workers: make(map[string]*channelWorker),
		store:   store,
		logger:  logger.WithName("notification-dispatcher"),
	}
}

// RegisterChannel starts a delivery worker for the channel with the given
// queue bound and retry policy.
func (d *Dispatcher) RegisterChannel(ch Channel, queueSize int, retry RetryPolicy) {
	if queueSize <= 0 {
		queueSize = 64
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	w := &channelWorker{
		channel: ch,
		queue:   make(chan *Notification, queueSize),
		retry:   retry,
	}

	d.mu.Lock()
	d.workers[ch.Name()] = w
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(w)
}

// AddSubscription registers a user/channel mapping.
func (d *Dispatcher) AddSubscription(sub Subscription) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	d.mu.Lock()
	d.subs[sub.UserID] = append(d.subs[sub.UserID], sub)
	d.mu.Unlock()
}

// Handle lets the dispatcher be subscribed directly to the event publisher.
func (d *Dispatcher) Handle(ctx context.Context, event events.AttributeUpdateEvent) error {
	d.Dispatch(ctx, event)
	return nil
}

// Dispatch fans the event out to every matching subscription. The returned
// notifications carry StatusPending when queued for delivery and
// StatusFailed with ReasonChannelSaturated when the channel queue was full;
// queued notifications reach their terminal status asynchronously and are
// recorded in the delivery log.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.AttributeUpdateEvent) []*Notification {
	d.mu.RLock()
	subs := append([]Subscription(nil), d.subs[event.UserID]...)
	d.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	out := make([]*Notification, 0, len(subs))
	for _, sub := range subs {
		n := d.build(event, sub)

		// The read lock spans the enqueue so Close cannot close the queue
		// between the lookup and the send. The send itself never blocks.
		d.mu.RLock()
		w, ok := d.workers[sub.Channel]
		if !ok || d.closed {
			d.mu.RUnlock()
			n.Status = StatusFailed
			n.Reason = ReasonSendFailed
			d.record(n)
			out = append(out, n)
			continue
		}

		// Pending row first: the worker's terminal transition must find it,
		// however fast delivery completes.
		d.record(n)

		// The worker drives its own copy to a terminal status; the caller
		// keeps the returned notification, which stays Pending.
		delivery := *n
		enqueued := false
		select {
		case w.queue <- &delivery:
			enqueued = true
		default:
		}
		d.mu.RUnlock()

		if !enqueued {
			// Bounded queue full: reject now, do not block or defer.
			n.Status = StatusFailed
			n.Reason = ReasonChannelSaturated
			if err := d.store.MarkFailed(n.ID, ReasonChannelSaturated); err != nil {
				d.logger.Error(err, "failed to record saturation", "notificationID", n.ID)
			}
			d.logger.Info("channel saturated, notification dropped",
				"channel", sub.Channel, "notificationID", n.ID, "userID", event.UserID)
		}
		out = append(out, n)
	}
	return out
}

func (d *Dispatcher) build(event events.AttributeUpdateEvent, sub Subscription) *Notification {
	changed := make([]string, 0, len(event.Updates))
	for _, u := range event.Updates {
		changed = append(changed, u.Category+"."+u.Attribute)
	}
	return &Notification{
		ID:             uuid.New().String(),
		From:           events.SourceServer,
		To:             sub.UserID,
		SubscriptionID: sub.ID,
		SessionID:      event.SessionID,
		ActionID:       event.ActionID,
		Channel:        sub.Channel,
		Title:          "Game state updated",
		Body:           fmt.Sprintf("%d attribute(s) changed", len(event.Updates)),
		Data: map[string]interface{}{
			"event_id":   event.ID,
			"attributes": changed,
		},
		Status: StatusPending,
	}
}

// run drains one channel queue, driving each notification to a terminal
// status under the channel's retry policy.
func (d *Dispatcher) run(w *channelWorker) {
	defer d.wg.Done()
	for n := range w.queue {
		var err error
		for attempt := 0; attempt < w.retry.MaxAttempts; attempt++ {
			if attempt > 0 {
				time.Sleep(w.retry.Delay)
			}
			err = w.channel.Send(context.Background(), n)
			if err == nil {
				break
			}
		}

		if err != nil {
			n.Status = StatusFailed
			n.Reason = ReasonSendFailed
			if serr := d.store.MarkFailed(n.ID, ReasonSendFailed); serr != nil {
				d.logger.Error(serr, "failed to record delivery failure", "notificationID", n.ID)
			}
			d.logger.Info("notification delivery failed",
				"channel", w.channel.Name(), "notificationID", n.ID, "error", err.Error())
			continue
		}

		now := time.Now()
		n.Status = StatusSent
		n.SentAt = &now
		if serr := d.store.MarkSent(n.ID, now); serr != nil {
			d.logger.Error(serr, "failed to record delivery", "notificationID", n.ID)
		}
	}
}

func (d *Dispatcher) record(n *Notification) {
	if err := d.store.Create(n); err != nil {
		d.logger.Error(err, "failed to persist notification", "notificationID", n.ID)
	}
}

// Close stops accepting work, drains channel queues and waits for workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
