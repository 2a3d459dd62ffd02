package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/platform/idempotency"
	"github.com/shopforge/engine/internal/services"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func sampleEvent() domain.ShopEvent {
	return domain.ShopEvent{
		ID:         "evt-1",
		ShopID:     "shop-1",
		Type:       "order.created",
		EntityType: "order",
		EntityID:   "ord-9",
		Payload:    map[string]any{"total": 4200, "tags": []any{"vip"}},
		ActorID:    "automation:a1",
		Chain:      domain.EventChain{ID: "chain-1", Depth: 1, Automations: []string{"a1"}},
		CreatedAt:  time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC),
	}
}

func TestEventPublisherPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "shop-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	if err := publisher.Dispatch(ctx, sampleEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	attrs := messages[0].Attributes
	if attrs["shopId"] != "shop-1" || attrs["eventType"] != "order.created" || attrs["eventId"] != "evt-1" || attrs["chainDepth"] != "1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	decoded, err := decodeEvent(messages[0].Data)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if decoded.Chain.ID != "chain-1" || decoded.Chain.Depth != 1 || !decoded.Chain.Fired("a1") {
		t.Fatalf("chain lost in transit: %#v", decoded.Chain)
	}
	if decoded.EntityID != "ord-9" || !decoded.CreatedAt.Equal(sampleEvent().CreatedAt) {
		t.Fatalf("unexpected event %#v", decoded)
	}
	if total, ok := decoded.Payload["total"].(json.Number); !ok || total.String() != "4200" {
		t.Fatalf("expected numeric payload preserved, got %#v", decoded.Payload["total"])
	}
}

func TestNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewNotificationPublisher: %v", err)
	}

	note := services.Notification{
		ShopID:       "shop-1",
		AutomationID: "a1",
		EventID:      "evt-1",
		Channel:      services.NotificationEmail,
		Recipient:    "owner@example.com",
		Locale:       "en",
		Subject:      "New order",
		Body:         "Order ord-9 placed",
		TestRun:      true,
	}
	if _, err := publisher.PublishNotification(ctx, note); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.Notification
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Recipient != note.Recipient || payload.Body != note.Body {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if messages[0].Attributes["testRun"] != "true" || messages[0].Attributes["channel"] != "email" {
		t.Fatalf("unexpected attributes %v", messages[0].Attributes)
	}
}

func TestPublishersRequireTopic(t *testing.T) {
	if _, err := NewEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewNotificationPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.ShopEvent
	err    error
	seen   chan struct{}
}

func (h *recordingHandler) HandleEvent(_ context.Context, event services.ShopEvent) (services.RunSummary, error) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
	if h.seen != nil {
		select {
		case h.seen <- struct{}{}:
		default:
		}
	}
	return services.RunSummary{EventID: event.ID}, h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func newProcessSubscriber(handler EventHandler, store idempotency.Store) *EventSubscriber {
	return &EventSubscriber{
		handler:   handler,
		processed: store,
		clock:     func() time.Time { return time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC) },
		logger:    func(context.Context, string, map[string]any) {},
	}
}

func TestSubscriberProcessDeduplicates(t *testing.T) {
	handler := &recordingHandler{}
	store := idempotency.NewMemoryStore()
	sub := newProcessSubscriber(handler, store)
	data, _, err := encodeEvent(sampleEvent())
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}

	if got := sub.process(context.Background(), data); got != ack {
		t.Fatalf("expected ack, got %v", got)
	}
	if got := sub.process(context.Background(), data); got != ack {
		t.Fatalf("expected duplicate ack, got %v", got)
	}
	if handler.count() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", handler.count())
	}
}

func TestSubscriberProcessNacksAndReleasesOnFailure(t *testing.T) {
	handler := &recordingHandler{err: errors.New("repository unavailable")}
	store := idempotency.NewMemoryStore()
	sub := newProcessSubscriber(handler, store)
	data, _, _ := encodeEvent(sampleEvent())

	if got := sub.process(context.Background(), data); got != nack {
		t.Fatalf("expected nack, got %v", got)
	}
	handler.err = nil
	if got := sub.process(context.Background(), data); got != ack {
		t.Fatalf("expected retry to be acked, got %v", got)
	}
	if handler.count() != 2 {
		t.Fatalf("expected redelivery to be handled, got %d calls", handler.count())
	}
}

func TestSubscriberProcessAcksMalformed(t *testing.T) {
	handler := &recordingHandler{}
	sub := newProcessSubscriber(handler, nil)
	for _, data := range [][]byte{[]byte("not json"), []byte(`{"id":"e","type":"order.created"}`)} {
		if got := sub.process(context.Background(), data); got != ack {
			t.Fatalf("expected malformed message to be acked, got %v", got)
		}
	}
	if handler.count() != 0 {
		t.Fatalf("handler must not see malformed messages")
	}
}

func TestEventSubscriberRunReceivesPublishedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, client := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "shop-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	subscription, err := client.CreateSubscription(ctx, "automation-worker", pubsub.SubscriptionConfig{Topic: topic})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	handler := &recordingHandler{seen: make(chan struct{}, 1)}
	subscriber, err := NewEventSubscriber(SubscriberDeps{
		Subscription: subscription,
		Handler:      handler,
		Processed:    idempotency.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("NewEventSubscriber: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- subscriber.Run(runCtx) }()

	publisher, _ := NewEventPublisher(topic)
	if err := publisher.Dispatch(ctx, sampleEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case <-handler.seen:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
	stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if handler.events[0].ID != "evt-1" || handler.events[0].Chain.Depth != 1 {
		t.Fatalf("unexpected event %#v", handler.events[0])
	}
}
