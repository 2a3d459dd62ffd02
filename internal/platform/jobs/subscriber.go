package jobs

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/shopforge/engine/internal/platform/idempotency"
	"github.com/shopforge/engine/internal/services"
)

// EventHandler is the part of the automation engine the subscriber drives.
type EventHandler interface {
	HandleEvent(ctx context.Context, event services.ShopEvent) (services.RunSummary, error)
}

// SubscriberDeps configures an EventSubscriber.
type SubscriberDeps struct {
	Subscription *pubsub.Subscription
	Handler      EventHandler
	// Processed deduplicates redeliveries. Nil disables deduplication.
	Processed idempotency.Store
	DedupTTL  time.Duration
	Lease     time.Duration
	Clock     func() time.Time
	Logger    services.Logger
}

// EventSubscriber consumes the events topic and runs automations for each event.
type EventSubscriber struct {
	sub       *pubsub.Subscription
	handler   EventHandler
	processed idempotency.Store
	ttl       time.Duration
	lease     time.Duration
	clock     func() time.Time
	logger    services.Logger
}

type decision int

const (
	ack decision = iota
	nack
)

// NewEventSubscriber validates deps and builds the subscriber.
func NewEventSubscriber(deps SubscriberDeps) (*EventSubscriber, error) {
	if deps.Subscription == nil {
		return nil, errors.New("event subscriber: subscription is required")
	}
	if deps.Handler == nil {
		return nil, errors.New("event subscriber: handler is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &EventSubscriber{
		sub:       deps.Subscription,
		handler:   deps.Handler,
		processed: deps.Processed,
		ttl:       deps.DedupTTL,
		lease:     deps.Lease,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Run receives messages until ctx is cancelled.
func (s *EventSubscriber) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.process(ctx, msg.Data) == ack {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// process decodes and handles one delivery. Malformed messages are acked so they are not
// redelivered forever.
func (s *EventSubscriber) process(ctx context.Context, data []byte) decision {
	event, err := decodeEvent(data)
	if err != nil {
		s.logger(ctx, "events.message_invalid", map[string]any{"error": err.Error()})
		return ack
	}
	key := idempotency.EventKey(event.ShopID, event.ID)

	if s.processed != nil {
		state, err := s.processed.Reserve(ctx, key, s.clock(), s.lease)
		if err != nil {
			s.logger(ctx, "events.dedup_failed", map[string]any{
				"shopId":  event.ShopID,
				"eventId": event.ID,
				"error":   err.Error(),
			})
			return nack
		}
		switch state {
		case idempotency.ReservationStateCompleted:
			s.logger(ctx, "events.duplicate", map[string]any{"shopId": event.ShopID, "eventId": event.ID})
			return ack
		case idempotency.ReservationStatePending:
			return nack
		}
	}

	if _, err := s.handler.HandleEvent(ctx, event); err != nil {
		s.logger(ctx, "events.handle_failed", map[string]any{
			"shopId":    event.ShopID,
			"eventId":   event.ID,
			"eventType": event.Type,
			"error":     err.Error(),
		})
		if s.processed != nil {
			_ = s.processed.Release(ctx, key)
		}
		return nack
	}

	if s.processed != nil {
		if err := s.processed.Complete(ctx, key, s.clock(), s.ttl); err != nil {
			s.logger(ctx, "events.dedup_failed", map[string]any{
				"shopId":  event.ShopID,
				"eventId": event.ID,
				"error":   err.Error(),
			})
		}
	}
	return ack
}
