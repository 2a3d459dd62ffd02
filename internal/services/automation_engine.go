package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories"
)

const (
	// DefaultMaxAutomationDepth bounds how many automation-produced events may chain.
	DefaultMaxAutomationDepth = 3
	// DefaultRunLogRetention is the number of run logs kept per automation.
	DefaultRunLogRetention = 200

	defaultRunLogPageSize = 20
	maxRunLogPageSize     = 100
)

// AutomationEngineDeps bundles the dependencies of the automation engine.
type AutomationEngineDeps struct {
	Automations repositories.AutomationRepository
	RunLogs     repositories.RunLogRepository
	Handlers    ActionHandlers
	// MaxDepth is the deepest event chain that still triggers automations.
	MaxDepth        int
	RunLogRetention int
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          Logger
	Metrics         Metrics
}

type automationEngine struct {
	automations repositories.AutomationRepository
	runLogs     repositories.RunLogRepository
	handlers    ActionHandlers
	maxDepth    int
	retention   int
	clock       func() time.Time
	newID       func() string
	logger      Logger
	metrics     Metrics
}

// NewAutomationEngine wires the engine with its action handlers.
func NewAutomationEngine(deps AutomationEngineDeps) (AutomationEngine, error) {
	if deps.Automations == nil {
		return nil, ErrAutomationRepositoryMissing
	}
	if deps.RunLogs == nil {
		return nil, ErrRunLogRepositoryMissing
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
	maxDepth := deps.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxAutomationDepth
	}
	retention := deps.RunLogRetention
	if retention == 0 {
		retention = DefaultRunLogRetention
	}
	handlers := make(ActionHandlers, len(deps.Handlers))
	for actionType, handler := range deps.Handlers {
		if handler != nil {
			handlers[actionType] = handler
		}
	}
	return &automationEngine{
		automations: deps.Automations,
		runLogs:     deps.RunLogs,
		handlers:    handlers,
		maxDepth:    maxDepth,
		retention:   retention,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      loggerOrNoop(deps.Logger),
		metrics:     metricsOrNoop(deps.Metrics),
	}, nil
}

func (e *automationEngine) RunAutomationsForEvent(ctx context.Context, shopID, eventType string, payload map[string]any) (RunSummary, error) {
	return e.HandleEvent(ctx, ShopEvent{
		ID:        e.newID(),
		ShopID:    shopID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: e.clock(),
	})
}

func (e *automationEngine) HandleEvent(ctx context.Context, event ShopEvent) (RunSummary, error) {
	event.ShopID = strings.TrimSpace(event.ShopID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ShopID == "" || event.Type == "" {
		return RunSummary{}, fmt.Errorf("%w: shop id and event type are required", ErrAutomationInvalidInput)
	}
	if event.ID == "" {
		event.ID = e.newID()
	}
	summary := RunSummary{EventID: event.ID}

	ctx, span := tracer.Start(ctx, "automations.handle_event", trace.WithAttributes(
		attribute.String("shop.id", event.ShopID),
		attribute.String("event.type", event.Type),
		attribute.Int("event.chain_depth", event.Chain.Depth),
	))
	defer span.End()

	if event.Chain.Depth > e.maxDepth {
		e.logger(ctx, "automations.chain_depth_exceeded", map[string]any{
			"shopId":    event.ShopID,
			"eventId":   event.ID,
			"eventType": event.Type,
			"depth":     event.Chain.Depth,
			"maxDepth":  e.maxDepth,
		})
		return summary, nil
	}

	automations, err := e.automations.ListActiveByEvent(ctx, event.ShopID, event.Type)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, wrapUnavailable(err, ErrAutomationRepositoryUnavailable)
	}

	for _, automation := range automations {
		if !automation.IsActive || automation.Trigger.EventType != event.Type {
			continue
		}
		summary.Evaluated++

		var log AutomationRunLog
		switch {
		case !MatchesFilters(automation.Trigger.Filters, event.Payload):
			log = e.newRunLog(automation, event, false)
			log.Status = domain.RunStatusSkipped
		case event.Chain.Fired(automation.ID):
			log = e.newRunLog(automation, event, false)
			log.Matched = true
			log.Status = domain.RunStatusSkipped
			log.Error = "automation already fired in this event chain"
		default:
			log = e.execute(ctx, automation, event, false)
		}

		switch log.Status {
		case domain.RunStatusSkipped:
			summary.Skipped++
		case domain.RunStatusFailed, domain.RunStatusPartial:
			summary.Failed++
			if log.Status == domain.RunStatusPartial {
				summary.Fired++
			}
		default:
			summary.Fired++
		}
		e.record(ctx, log)
		summary.Logs = append(summary.Logs, log)
	}

	e.logger(ctx, "automations.event_handled", map[string]any{
		"shopId":    event.ShopID,
		"eventId":   event.ID,
		"eventType": event.Type,
		"evaluated": summary.Evaluated,
		"fired":     summary.Fired,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	})
	return summary, nil
}

func (e *automationEngine) TestRunAutomation(ctx context.Context, shopID, automationID string, payload map[string]any) (AutomationRunLog, error) {
	shopID = strings.TrimSpace(shopID)
	automationID = strings.TrimSpace(automationID)
	if shopID == "" || automationID == "" {
		return AutomationRunLog{}, fmt.Errorf("%w: shop id and automation id are required", ErrAutomationInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "automations.test_run", trace.WithAttributes(
		attribute.String("shop.id", shopID),
		attribute.String("automation.id", automationID),
	))
	defer span.End()

	automation, err := e.automations.Get(ctx, shopID, automationID)
	if err != nil {
		if isNotFound(err) {
			return AutomationRunLog{}, fmt.Errorf("%w: %s", ErrAutomationNotFound, automationID)
		}
		return AutomationRunLog{}, wrapUnavailable(err, ErrAutomationRepositoryUnavailable)
	}

	event := ShopEvent{
		ID:        e.newID(),
		ShopID:    shopID,
		Type:      automation.Trigger.EventType,
		Payload:   payload,
		CreatedAt: e.clock(),
	}
	log := e.execute(ctx, automation, event, true)
	e.record(ctx, log)
	return log, nil
}

func (e *automationEngine) ListRunLogs(ctx context.Context, shopID, automationID string, page Pagination) (RunLogPage, error) {
	shopID = strings.TrimSpace(shopID)
	automationID = strings.TrimSpace(automationID)
	if shopID == "" || automationID == "" {
		return RunLogPage{}, fmt.Errorf("%w: shop id and automation id are required", ErrAutomationInvalidInput)
	}
	switch {
	case page.PageSize <= 0:
		page.PageSize = defaultRunLogPageSize
	case page.PageSize > maxRunLogPageSize:
		page.PageSize = maxRunLogPageSize
	}
	result, err := e.runLogs.List(ctx, shopID, automationID, page)
	if err != nil {
		return RunLogPage{}, wrapUnavailable(err, ErrAutomationRepositoryUnavailable)
	}
	return result, nil
}

// execute evaluates conditions and runs the actions of an automation whose trigger matched.
// Panics raised while evaluating are converted into a failed run.
func (e *automationEngine) execute(ctx context.Context, automation Automation, event ShopEvent, testRun bool) (log AutomationRunLog) {
	log = e.newRunLog(automation, event, testRun)
	log.Matched = true

	defer func() {
		if r := recover(); r != nil {
			log.Status = domain.RunStatusFailed
			log.Error = fmt.Sprintf("automation panicked: %v", r)
			e.logger(ctx, "automations.panic", map[string]any{
				"shopId":       automation.ShopID,
				"automationId": automation.ID,
				"panic":        fmt.Sprint(r),
			})
		}
	}()

	if !EvaluateConditions(automation.Conditions, event.Payload) {
		log.Status = domain.RunStatusSkipped
		return log
	}
	log.ConditionsPassed = true

	failed := 0
	for i, action := range automation.Actions {
		result := e.runAction(ctx, i, ActionRequest{
			Automation: automation,
			Action:     action,
			Event:      event,
			TestRun:    testRun,
		})
		if result.Status == domain.ActionStatusFailed {
			failed++
		}
		log.Actions = append(log.Actions, result)
	}

	switch {
	case failed == 0:
		log.Status = domain.RunStatusSuccess
	case failed == len(automation.Actions):
		log.Status = domain.RunStatusFailed
		log.Error = "all actions failed"
	default:
		log.Status = domain.RunStatusPartial
		log.Error = fmt.Sprintf("%d of %d actions failed", failed, len(automation.Actions))
	}
	return log
}

func (e *automationEngine) runAction(ctx context.Context, index int, req ActionRequest) (result domain.ActionResult) {
	result = domain.ActionResult{Index: index, Type: req.Action.Type}
	defer func() {
		if r := recover(); r != nil {
			result.Status = domain.ActionStatusFailed
			result.Error = fmt.Sprintf("action panicked: %v", r)
		}
		if result.Status == domain.ActionStatusFailed {
			e.logger(ctx, "automations.action_failed", map[string]any{
				"shopId":       req.Automation.ShopID,
				"automationId": req.Automation.ID,
				"eventId":      req.Event.ID,
				"action":       string(req.Action.Type),
				"index":        index,
				"error":        result.Error,
			})
		}
	}()

	handler, ok := e.handlers[req.Action.Type]
	if !ok {
		result.Status = domain.ActionStatusFailed
		result.Error = fmt.Sprintf("%v: %s", ErrActionHandlerMissing, req.Action.Type)
		return result
	}
	output, err := handler.Execute(ctx, req)
	if err != nil {
		result.Status = domain.ActionStatusFailed
		result.Error = err.Error()
		return result
	}
	result.Status = domain.ActionStatusSucceeded
	result.Output = output
	return result
}

func (e *automationEngine) newRunLog(automation Automation, event ShopEvent, testRun bool) AutomationRunLog {
	return AutomationRunLog{
		ID:           e.newID(),
		ShopID:       event.ShopID,
		AutomationID: automation.ID,
		EventID:      event.ID,
		EventType:    event.Type,
		TestRun:      testRun,
		TriggeredAt:  e.clock(),
	}
}

// record persists the run log and enforces retention. Failures are logged only so that one
// automation's bookkeeping never affects another.
func (e *automationEngine) record(ctx context.Context, log AutomationRunLog) {
	e.metrics.AutomationRun(ctx, log.ShopID, log.Status, log.TestRun)
	if err := e.runLogs.Append(ctx, log); err != nil {
		e.logger(ctx, "automations.run_log_failed", map[string]any{
			"shopId":       log.ShopID,
			"automationId": log.AutomationID,
			"error":        err.Error(),
		})
		return
	}
	if e.retention < 0 {
		return
	}
	if _, err := e.runLogs.Trim(ctx, log.ShopID, log.AutomationID, e.retention); err != nil && !errors.Is(err, context.Canceled) {
		e.logger(ctx, "automations.run_log_trim_failed", map[string]any{
			"shopId":       log.ShopID,
			"automationId": log.AutomationID,
			"error":        err.Error(),
		})
	}
}
