package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
)

// eventEnvelope is the wire form of a ShopEvent on the events topic.
type eventEnvelope struct {
	ID         string         `json:"id"`
	ShopID     string         `json:"shopId"`
	Type       string         `json:"type"`
	EntityType string         `json:"entityType,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	Payload    map[string]any `json:"payload"`
	ActorID    string         `json:"actorId,omitempty"`
	Chain      *chainEnvelope `json:"chain,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type chainEnvelope struct {
	ID          string   `json:"id"`
	Depth       int      `json:"depth"`
	Automations []string `json:"automations,omitempty"`
}

var errMalformedEvent = errors.New("jobs: malformed event message")

func encodeEvent(event domain.ShopEvent) ([]byte, map[string]string, error) {
	env := eventEnvelope{
		ID:         event.ID,
		ShopID:     event.ShopID,
		Type:       event.Type,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Payload:    event.Payload,
		ActorID:    event.ActorID,
		CreatedAt:  event.CreatedAt.UTC(),
	}
	if event.Chain.Depth > 0 || event.Chain.ID != "" {
		env.Chain = &chainEnvelope{
			ID:          event.Chain.ID,
			Depth:       event.Chain.Depth,
			Automations: event.Chain.Automations,
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal event: %w", err)
	}
	attrs := make(map[string]string, 4)
	setAttr(attrs, "shopId", event.ShopID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "eventId", event.ID)
	attrs["chainDepth"] = strconv.Itoa(event.Chain.Depth)
	return data, attrs, nil
}

func decodeEvent(data []byte) (domain.ShopEvent, error) {
	var env eventEnvelope
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return domain.ShopEvent{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.ShopID) == "" || strings.TrimSpace(env.Type) == "" {
		return domain.ShopEvent{}, fmt.Errorf("%w: id, shopId and type are required", errMalformedEvent)
	}
	event := domain.ShopEvent{
		ID:         env.ID,
		ShopID:     env.ShopID,
		Type:       env.Type,
		EntityType: env.EntityType,
		EntityID:   env.EntityID,
		Payload:    env.Payload,
		ActorID:    env.ActorID,
		CreatedAt:  env.CreatedAt,
	}
	if env.Chain != nil {
		event.Chain = domain.EventChain{ID: env.Chain.ID, Depth: env.Chain.Depth, Automations: env.Chain.Automations}
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	return event, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
