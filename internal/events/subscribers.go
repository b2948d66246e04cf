package events

import (
	"context"

	"github.com/go-logr/logr"
)

// LoggingSubscriber is an analytics tap: it records every attribute update
// event through the structured logger and never fails.
type LoggingSubscriber struct {
	logger logr.Logger
}

// NewLoggingSubscriber creates a subscriber logging under the given name.
func NewLoggingSubscriber(logger logr.Logger) *LoggingSubscriber {
	return &LoggingSubscriber{logger: logger.WithName("event-log")}
}

// Handle logs the event.
func (s *LoggingSubscriber) Handle(_ context.Context, event AttributeUpdateEvent) error {
	s.logger.Info("attribute update",
		"eventID", event.ID,
		"actionID", event.ActionID,
		"sessionID", event.SessionID,
		"userID", event.UserID,
		"updates", len(event.Updates))
	return nil
}

// CollectingSubscriber buffers events on a channel. Intended for tests and
// for wiring components that pull events instead of handling callbacks.
type CollectingSubscriber struct {
	ch chan AttributeUpdateEvent
}

// NewCollectingSubscriber creates a subscriber with the given channel
// capacity.
func NewCollectingSubscriber(capacity int) *CollectingSubscriber {
	return &CollectingSubscriber{ch: make(chan AttributeUpdateEvent, capacity)}
}

// Handle forwards the event to the channel, blocking when full.
func (s *CollectingSubscriber) Handle(ctx context.Context, event AttributeUpdateEvent) error {
	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the receive side of the buffer.
func (s *CollectingSubscriber) Events() <-chan AttributeUpdateEvent {
	return s.ch
}
