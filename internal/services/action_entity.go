package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/shopforge/engine/internal/repositories"
)

var (
	// ErrEntityWriterMissing indicates the entity actions have no backing store.
	ErrEntityWriterMissing = errors.New("entity action: writer is not configured")
	// ErrEntityEventLogMissing indicates follow-on events cannot be recorded.
	ErrEntityEventLogMissing = errors.New("entity action: event log is not configured")
)

// EntityActionDeps configures the create_entity and update_entity handlers.
type EntityActionDeps struct {
	Writer      repositories.EntityWriter
	Events      EventLog
	IDGenerator func() string
}

type entityAction struct {
	writer repositories.EntityWriter
	events EventLog
	newID  func() string
	create bool
}

// NewCreateEntityAction returns the create_entity handler. Config keys: entityType, entityId
// (generated when empty) and data.
func NewCreateEntityAction(deps EntityActionDeps) (ActionHandler, error) {
	return newEntityAction(deps, true)
}

// NewUpdateEntityAction returns the update_entity handler. Config keys: entityType, entityId and data.
func NewUpdateEntityAction(deps EntityActionDeps) (ActionHandler, error) {
	return newEntityAction(deps, false)
}

func newEntityAction(deps EntityActionDeps, create bool) (ActionHandler, error) {
	if deps.Writer == nil {
		return nil, ErrEntityWriterMissing
	}
	if deps.Events == nil {
		return nil, ErrEntityEventLogMissing
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &entityAction{writer: deps.Writer, events: deps.Events, newID: idGen, create: create}, nil
}

func (a *entityAction) Execute(ctx context.Context, req ActionRequest) (map[string]any, error) {
	config := req.Action.Config
	payload := req.Event.Payload
	name := "update_entity"
	if a.create {
		name = "create_entity"
	}

	entityType := strings.TrimSpace(RenderTemplate(configString(config, "entityType"), payload))
	if entityType == "" || strings.Contains(entityType, "/") {
		return nil, fmt.Errorf("%s: invalid entity type %q", name, entityType)
	}
	entityID := strings.TrimSpace(RenderTemplate(configString(config, "entityId"), payload))
	if entityID == "" {
		if !a.create {
			return nil, fmt.Errorf("%s: entity id is required", name)
		}
		entityID = a.newID()
	}
	data := renderData(configMap(config, "data"), payload)
	if data == nil {
		data = map[string]any{}
	}

	suffix := "updated"
	var err error
	if a.create {
		suffix = "created"
		err = a.writer.Create(ctx, req.Event.ShopID, entityType, entityID, data)
	} else {
		err = a.writer.Update(ctx, req.Event.ShopID, entityType, entityID, data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %s %s: %w", name, entityType, entityID, err)
	}

	eventPayload := make(map[string]any, len(data)+1)
	for k, v := range data {
		eventPayload[k] = v
	}
	eventPayload["id"] = entityID

	event, err := a.events.Append(ctx, AppendEventCommand{
		ShopID:     req.Event.ShopID,
		Type:       entityType + "." + suffix,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    eventPayload,
		ActorID:    "automation:" + req.Automation.ID,
		Chain:      req.Event.Chain.Child(req.Event.ID, req.Automation.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: record event: %w", name, err)
	}
	return map[string]any{"entityId": entityID, "eventId": event.ID}, nil
}
