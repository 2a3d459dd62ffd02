// Package jobs moves shop events and rendered notifications through Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/shopforge/engine/internal/services"
)

// EventPublisher dispatches persisted events to the events topic for the worker to consume.
type EventPublisher struct {
	topic *pubsub.Topic
}

var _ services.EventDispatcher = (*EventPublisher)(nil)

// NewEventPublisher constructs a Pub/Sub backed event dispatcher.
func NewEventPublisher(topic *pubsub.Topic) (*EventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &EventPublisher{topic: topic}, nil
}

// Dispatch implements services.EventDispatcher. It blocks until the server acknowledges the
// message.
func (p *EventPublisher) Dispatch(ctx context.Context, event services.ShopEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	data, attrs, err := encodeEvent(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// NotificationPublisher enqueues rendered notifications for the delivery pipeline.
type NotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.NotificationPublisher = (*NotificationPublisher)(nil)

// NewNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewNotificationPublisher(topic *pubsub.Topic) (*NotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &NotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification implements services.NotificationPublisher.
func (p *NotificationPublisher) PublishNotification(ctx context.Context, notification services.Notification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(notification)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "shopId", notification.ShopID)
	setAttr(attrs, "automationId", notification.AutomationID)
	setAttr(attrs, "eventId", notification.EventID)
	setAttr(attrs, "channel", string(notification.Channel))
	setAttr(attrs, "locale", notification.Locale)
	if notification.TestRun {
		attrs["testRun"] = "true"
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}
