package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/platform/httpx"
	"github.com/shopforge/engine/internal/platform/pagination"
	"github.com/shopforge/engine/internal/services"
)

type appendEventRequest struct {
	Type       string         `json:"type"`
	EntityType string         `json:"entityType,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	Payload    map[string]any `json:"payload"`
	ActorID    string         `json:"actorId,omitempty"`
}

type eventResponse struct {
	ID         string    `json:"id"`
	ShopID     string    `json:"shopId"`
	Type       string    `json:"type"`
	EntityType string    `json:"entityType,omitempty"`
	EntityID   string    `json:"entityId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *EngineHandlers) appendEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		writeUnavailable(ctx, w, "event")
		return
	}
	var req appendEventRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	event, err := h.events.Append(ctx, services.AppendEventCommand{
		ShopID:     shopIDParam(r),
		Type:       req.Type,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Payload:    req.Payload,
		ActorID:    req.ActorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, eventResponse{
		ID:         event.ID,
		ShopID:     event.ShopID,
		Type:       event.Type,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		CreatedAt:  event.CreatedAt,
	})
}

type testRunRequest struct {
	Payload map[string]any `json:"payload"`
}

type actionResultPayload struct {
	Index  int            `json:"index"`
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

type runLogPayload struct {
	ID               string                `json:"id"`
	AutomationID     string                `json:"automationId"`
	EventID          string                `json:"eventId"`
	EventType        string                `json:"eventType"`
	Status           string                `json:"status"`
	Matched          bool                  `json:"matched"`
	ConditionsPassed bool                  `json:"conditionsPassed"`
	TestRun          bool                  `json:"testRun"`
	Actions          []actionResultPayload `json:"actions"`
	Error            string                `json:"error,omitempty"`
	TriggeredAt      time.Time             `json:"triggeredAt"`
}

func newRunLogPayload(log domain.AutomationRunLog) runLogPayload {
	payload := runLogPayload{
		ID:               log.ID,
		AutomationID:     log.AutomationID,
		EventID:          log.EventID,
		EventType:        log.EventType,
		Status:           string(log.Status),
		Matched:          log.Matched,
		ConditionsPassed: log.ConditionsPassed,
		TestRun:          log.TestRun,
		Actions:          make([]actionResultPayload, 0, len(log.Actions)),
		Error:            log.Error,
		TriggeredAt:      log.TriggeredAt,
	}
	for _, action := range log.Actions {
		payload.Actions = append(payload.Actions, actionResultPayload{
			Index:  action.Index,
			Type:   string(action.Type),
			Status: string(action.Status),
			Error:  action.Error,
			Output: action.Output,
		})
	}
	return payload
}

func (h *EngineHandlers) testRunAutomation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.automations == nil {
		writeUnavailable(ctx, w, "automation")
		return
	}
	shopID := shopIDParam(r)
	automationID := strings.TrimSpace(chi.URLParam(r, "automationID"))
	if h.testRuns != nil {
		if ok, wait := h.testRuns.Reserve(shopID + "/" + automationID); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many test runs for this automation", http.StatusTooManyRequests))
			return
		}
	}
	var req testRunRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	log, err := h.automations.TestRunAutomation(ctx, shopID, automationID, req.Payload)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRunLogPayload(log))
}

type runLogListResponse struct {
	Items         []runLogPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func (h *EngineHandlers) listRunLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.automations == nil {
		writeUnavailable(ctx, w, "automation")
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.automations.ListRunLogs(ctx, shopIDParam(r), chi.URLParam(r, "automationID"), params.Pagination())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := runLogListResponse{
		Items:         make([]runLogPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, log := range page.Items {
		resp.Items = append(resp.Items, newRunLogPayload(log))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
