package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shopforge/engine/internal/repositories"
)

var (
	// ErrEventRepositoryMissing indicates the event repository dependency is absent.
	ErrEventRepositoryMissing = errors.New("event log: repository is not configured")
	// ErrEventInvalidInput reports a malformed event.
	ErrEventInvalidInput = errors.New("event log: invalid input")
	// ErrDispatcherUnbound is returned by an InlineDispatcher used before Bind.
	ErrDispatcherUnbound = errors.New("event log: inline dispatcher has no engine")
)

// EventDispatcher hands a persisted event to the automation engine, directly or through a queue.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event ShopEvent) error
}

// EventLogDeps bundles the dependencies of the event log.
type EventLogDeps struct {
	Events      repositories.EventRepository
	Dispatcher  EventDispatcher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type eventLog struct {
	events     repositories.EventRepository
	dispatcher EventDispatcher
	clock      func() time.Time
	newID      func() string
	logger     Logger
}

// NewEventLog constructs an EventLog. A nil dispatcher only persists events.
func NewEventLog(deps EventLogDeps) (EventLog, error) {
	if deps.Events == nil {
		return nil, ErrEventRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &eventLog{
		events:     deps.Events,
		dispatcher: deps.Dispatcher,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

// Append persists the event before dispatching it. Dispatch failures are logged and never fail
// the append.
func (l *eventLog) Append(ctx context.Context, cmd AppendEventCommand) (ShopEvent, error) {
	event := ShopEvent{
		ID:         l.newID(),
		ShopID:     strings.TrimSpace(cmd.ShopID),
		Type:       strings.TrimSpace(cmd.Type),
		EntityType: strings.TrimSpace(cmd.EntityType),
		EntityID:   strings.TrimSpace(cmd.EntityID),
		Payload:    cmd.Payload,
		ActorID:    strings.TrimSpace(cmd.ActorID),
		Chain:      cmd.Chain,
		CreatedAt:  l.clock(),
	}
	if event.ShopID == "" || event.Type == "" {
		return ShopEvent{}, fmt.Errorf("%w: shop id and event type are required", ErrEventInvalidInput)
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	ctx, span := tracer.Start(ctx, "events.append", trace.WithAttributes(
		attribute.String("shop.id", event.ShopID),
		attribute.String("event.type", event.Type),
	))
	defer span.End()

	if err := l.events.Append(ctx, event); err != nil {
		return ShopEvent{}, fmt.Errorf("event log: append %s: %w", event.Type, err)
	}

	if l.dispatcher != nil {
		if err := l.dispatcher.Dispatch(ctx, event); err != nil {
			l.logger(ctx, "events.dispatch_failed", map[string]any{
				"shopId":    event.ShopID,
				"eventId":   event.ID,
				"eventType": event.Type,
				"error":     err.Error(),
			})
		}
	}
	return event, nil
}

// InlineDispatcher runs automations in-process. Recursion through entity actions is bounded by
// the engine's chain depth limit.
type InlineDispatcher struct {
	mu     sync.RWMutex
	engine AutomationEngine
}

// Bind attaches the engine. Entity actions need the event log before the engine exists, so the
// dispatcher is bound after construction.
func (d *InlineDispatcher) Bind(engine AutomationEngine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engine = engine
}

// Dispatch implements EventDispatcher.
func (d *InlineDispatcher) Dispatch(ctx context.Context, event ShopEvent) error {
	d.mu.RLock()
	engine := d.engine
	d.mu.RUnlock()
	if engine == nil {
		return ErrDispatcherUnbound
	}
	_, err := engine.HandleEvent(ctx, event)
	return err
}
