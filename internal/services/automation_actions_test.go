package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories/memory"
)

func actionRequest(actionType domain.ActionType, config map[string]any, payload map[string]any) ActionRequest {
	return ActionRequest{
		Automation: domain.Automation{ID: "auto-1", ShopID: testShop},
		Action:     domain.AutomationAction{Type: actionType, Config: config},
		Event:      domain.ShopEvent{ID: "evt-1", ShopID: testShop, Type: "order.created", Payload: payload},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

type headerSigner struct{}

func (headerSigner) Sign(req *http.Request, body []byte) error {
	req.Header.Set("X-Signature", "signed:"+string(body))
	return nil
}

func TestWebhookAction_DeliversSignedRenderedBody(t *testing.T) {
	var received struct {
		body      map[string]any
		signature string
		custom    string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &received.body)
		received.signature = r.Header.Get("X-Signature")
		received.custom = r.Header.Get("X-Order")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	action := NewWebhookAction(WebhookActionDeps{Client: server.Client(), Signer: headerSigner{}, Sleep: noSleep})
	out, err := action.Execute(context.Background(), actionRequest(domain.ActionCallWebhook, map[string]any{
		"url":     server.URL + "/hooks/{{order.id}}",
		"headers": map[string]any{"X-Order": "{{order.id}}"},
		"body":    map[string]any{"message": "order {{order.id}} paid"},
	}, map[string]any{"order": map[string]any{"id": "o-9"}}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["status"] != http.StatusAccepted || out["attempts"] != 1 {
		t.Fatalf("unexpected output %v", out)
	}
	if received.body["message"] != "order o-9 paid" || received.custom != "o-9" {
		t.Fatalf("unexpected delivery %+v", received)
	}
	if !strings.HasPrefix(received.signature, "signed:{") {
		t.Fatalf("expected signed request, got %q", received.signature)
	}
}

func TestWebhookAction_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	action := NewWebhookAction(WebhookActionDeps{Client: server.Client(), MaxAttempts: 3, Sleep: noSleep})
	out, err := action.Execute(context.Background(), actionRequest(domain.ActionCallWebhook, map[string]any{"url": server.URL}, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["attempts"] != 3 {
		t.Fatalf("expected 3 attempts, got %v", out)
	}
}

func TestWebhookAction_ClientErrorsAreNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	action := NewWebhookAction(WebhookActionDeps{Client: server.Client(), MaxAttempts: 5, Sleep: noSleep})
	_, err := action.Execute(context.Background(), actionRequest(domain.ActionCallWebhook, map[string]any{"url": server.URL}, nil))
	if !errors.Is(err, ErrWebhookRejected) || calls != 1 {
		t.Fatalf("expected a single rejected attempt, got %v after %d calls", err, calls)
	}

	if _, err := action.Execute(context.Background(), actionRequest(domain.ActionCallWebhook, map[string]any{"url": "ftp://example.com"}, nil)); err == nil {
		t.Fatalf("expected invalid url error")
	}
}

type capturePublisher struct {
	sent []Notification
	err  error
}

func (c *capturePublisher) PublishNotification(_ context.Context, n Notification) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.sent = append(c.sent, n)
	return "msg-1", nil
}

func TestNotificationAction_RendersSanitizesAndLocalizes(t *testing.T) {
	publisher := &capturePublisher{}
	action, err := NewNotificationAction(NotificationActionDeps{Publisher: publisher, Locales: []string{"en", "ja"}})
	if err != nil {
		t.Fatalf("NewNotificationAction: %v", err)
	}
	out, err := action.Execute(context.Background(), actionRequest(domain.ActionSendNotification, map[string]any{
		"channel":   "email",
		"recipient": "{{customer.email}}",
		"locale":    "{{customer.locale}}",
		"subject":   map[string]any{"en": "Thanks {{customer.name}}", "ja": "ありがとう {{customer.name}}"},
		"template":  map[string]any{"default": "<p>Hello {{customer.name}}</p><script>alert(1)</script>"},
	}, map[string]any{"customer": map[string]any{"email": "ann@example.com", "name": "Ann", "locale": "ja_JP"}}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["messageId"] != "msg-1" || out["locale"] != "ja" {
		t.Fatalf("unexpected output %v", out)
	}
	sent := publisher.sent[0]
	if sent.Recipient != "ann@example.com" || sent.Subject != "ありがとう Ann" {
		t.Fatalf("unexpected notification %+v", sent)
	}
	if strings.Contains(sent.Body, "<script") || !strings.Contains(sent.Body, "<p>Hello Ann</p>") {
		t.Fatalf("expected sanitized html body, got %q", sent.Body)
	}
}

func TestNotificationAction_PlainChannelsAndErrors(t *testing.T) {
	publisher := &capturePublisher{}
	action, _ := NewNotificationAction(NotificationActionDeps{Publisher: publisher})

	_, err := action.Execute(context.Background(), actionRequest(domain.ActionSendNotification, map[string]any{
		"channel": "sms", "recipient": "+15550100", "template": "<b>Order</b> {{id}} shipped", "locale": "fr",
	}, map[string]any{"id": "o-1"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := publisher.sent[0]; got.Body != "Order o-1 shipped" || got.Locale != "en" {
		t.Fatalf("unexpected sms notification %+v", got)
	}

	if _, err := action.Execute(context.Background(), actionRequest(domain.ActionSendNotification, map[string]any{"channel": "fax", "recipient": "x", "template": "y"}, nil)); err == nil {
		t.Fatalf("expected unsupported channel error")
	}
	if _, err := action.Execute(context.Background(), actionRequest(domain.ActionSendNotification, map[string]any{"template": "y"}, nil)); err == nil {
		t.Fatalf("expected missing recipient error")
	}
	if _, err := NewNotificationAction(NotificationActionDeps{}); !errors.Is(err, ErrNotificationPublisherMissing) {
		t.Fatalf("expected ErrNotificationPublisherMissing got %v", err)
	}
}

type captureEventLog struct {
	appended []AppendEventCommand
}

func (c *captureEventLog) Append(_ context.Context, cmd AppendEventCommand) (ShopEvent, error) {
	c.appended = append(c.appended, cmd)
	return ShopEvent{ID: "follow-1", ShopID: cmd.ShopID, Type: cmd.Type, Chain: cmd.Chain}, nil
}

func TestEntityActions(t *testing.T) {
	repo := memory.NewAutomationRepository()
	events := &captureEventLog{}
	create, err := NewCreateEntityAction(EntityActionDeps{Writer: repo, Events: events, IDGenerator: func() string { return "task-1" }})
	if err != nil {
		t.Fatalf("NewCreateEntityAction: %v", err)
	}
	update, _ := NewUpdateEntityAction(EntityActionDeps{Writer: repo, Events: events})

	out, err := create.Execute(context.Background(), actionRequest(domain.ActionCreateEntity, map[string]any{
		"entityType": "task",
		"data":       map[string]any{"title": "Call {{customer.name}}", "priority": 2},
	}, map[string]any{"customer": map[string]any{"name": "Ann"}}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out["entityId"] != "task-1" || out["eventId"] != "follow-1" {
		t.Fatalf("unexpected output %v", out)
	}
	stored, ok := repo.Entity(testShop, "task", "task-1")
	if !ok || stored["title"] != "Call Ann" || stored["priority"] != 2 {
		t.Fatalf("unexpected entity %v", stored)
	}
	follow := events.appended[0]
	if follow.Type != "task.created" || follow.Chain.Depth != 1 || follow.Chain.ID != "evt-1" || !follow.Chain.Fired("auto-1") {
		t.Fatalf("unexpected follow-on event %+v", follow)
	}

	if _, err := update.Execute(context.Background(), actionRequest(domain.ActionUpdateEntity, map[string]any{
		"entityType": "task", "entityId": "task-1", "data": map[string]any{"done": true},
	}, nil)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if stored, _ := repo.Entity(testShop, "task", "task-1"); stored["done"] != true {
		t.Fatalf("expected update applied, got %v", stored)
	}
	if events.appended[1].Type != "task.updated" {
		t.Fatalf("unexpected follow-on %+v", events.appended[1])
	}

	if _, err := update.Execute(context.Background(), actionRequest(domain.ActionUpdateEntity, map[string]any{"entityType": "task", "entityId": "nope"}, nil)); err == nil {
		t.Fatalf("expected missing entity error")
	}
	if _, err := update.Execute(context.Background(), actionRequest(domain.ActionUpdateEntity, map[string]any{"entityType": "task"}, nil)); err == nil {
		t.Fatalf("expected missing entity id error")
	}
}
