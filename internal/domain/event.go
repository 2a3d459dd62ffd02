package domain

import "time"

// EventChain tracks how a ShopEvent was produced by automation actions. Events written by
// the surrounding system carry a zero chain.
type EventChain struct {
	ID          string
	Depth       int
	Automations []string
}

// Fired reports whether the automation already ran earlier in this chain.
func (c EventChain) Fired(automationID string) bool {
	for _, id := range c.Automations {
		if id == automationID {
			return true
		}
	}
	return false
}

// Child returns the chain carried by events produced by automationID's actions.
func (c EventChain) Child(chainID, automationID string) EventChain {
	if c.ID != "" {
		chainID = c.ID
	}
	automations := make([]string, 0, len(c.Automations)+1)
	automations = append(automations, c.Automations...)
	automations = append(automations, automationID)
	return EventChain{ID: chainID, Depth: c.Depth + 1, Automations: automations}
}

// ShopEvent is an immutable record of a domain occurrence and the sole automation trigger.
type ShopEvent struct {
	ID         string
	ShopID     string
	Type       string
	EntityType string
	EntityID   string
	Payload    map[string]any
	ActorID    string
	Chain      EventChain
	CreatedAt  time.Time
}
