package domain

import "time"

// ConditionOperator compares the payload value at a field path against a condition value.
type ConditionOperator string

const (
	ConditionEquals      ConditionOperator = "equals"
	ConditionNotEquals   ConditionOperator = "not_equals"
	ConditionGreaterThan ConditionOperator = "greater_than"
	ConditionLessThan    ConditionOperator = "less_than"
	ConditionContains    ConditionOperator = "contains"
	ConditionNotContains ConditionOperator = "not_contains"
	ConditionIn          ConditionOperator = "in"
	ConditionNotIn       ConditionOperator = "not_in"
)

// LogicalOperator joins a condition to the running result of the conditions before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType names a pluggable automation action handler.
type ActionType string

const (
	ActionSendNotification ActionType = "send_notification"
	ActionCallWebhook      ActionType = "call_webhook"
	ActionCreateEntity     ActionType = "create_entity"
	ActionUpdateEntity     ActionType = "update_entity"
)

// AutomationTrigger selects the events an automation reacts to. Filters are equality
// sub-matches against the event payload keyed by dot path.
type AutomationTrigger struct {
	EventType string
	Filters   map[string]any
}

// AutomationCondition is one step of the left-associative condition chain. The first
// condition's LogicalOperator is ignored.
type AutomationCondition struct {
	Field           string
	Operator        ConditionOperator
	Value           any
	LogicalOperator LogicalOperator
}

// AutomationAction is an ordered action with handler-specific configuration.
type AutomationAction struct {
	Type   ActionType
	Config map[string]any
}

// Automation is a merchant-defined trigger, condition and action rule.
type Automation struct {
	ID         string
	ShopID     string
	Name       string
	IsActive   bool
	Trigger    AutomationTrigger
	Conditions []AutomationCondition
	Actions    []AutomationAction
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RunStatus summarises the outcome of one automation evaluation.
type RunStatus string

const (
	// RunStatusSuccess means conditions passed and every action succeeded.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial means some actions failed while others succeeded.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed means every action failed.
	RunStatusFailed RunStatus = "failed"
	// RunStatusSkipped means the filters or conditions did not pass, or the cascade guard held it back.
	RunStatusSkipped RunStatus = "skipped"
)

// ActionStatus is the outcome of a single action.
type ActionStatus string

const (
	ActionStatusSucceeded ActionStatus = "succeeded"
	ActionStatusFailed    ActionStatus = "failed"
)

// ActionResult records one action execution inside a run log.
type ActionResult struct {
	Index  int
	Type   ActionType
	Status ActionStatus
	Error  string
	Output map[string]any
}

// AutomationRunLog is the append-only audit record of one automation evaluation.
type AutomationRunLog struct {
	ID               string
	ShopID           string
	AutomationID     string
	EventID          string
	EventType        string
	Status           RunStatus
	Matched          bool
	ConditionsPassed bool
	TestRun          bool
	Actions          []ActionResult
	Error            string
	TriggeredAt      time.Time
}
