package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/platform/httpx"
	"github.com/shopforge/engine/internal/services"
)

type ruleConditionPayload struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type ruleTreePayload struct {
	Combinator string                 `json:"combinator"`
	Conditions []ruleConditionPayload `json:"conditions"`
}

func (p ruleTreePayload) toDomain() domain.RuleTree {
	tree := domain.RuleTree{Combinator: domain.RuleCombinator(strings.ToUpper(strings.TrimSpace(p.Combinator)))}
	for _, c := range p.Conditions {
		tree.Conditions = append(tree.Conditions, domain.RuleCondition{
			Field:    domain.RuleField(strings.TrimSpace(c.Field)),
			Operator: domain.RuleOperator(strings.TrimSpace(c.Operator)),
			Value:    c.Value,
		})
	}
	return tree
}

type rulesRequest struct {
	Rules *ruleTreePayload `json:"rules"`
}

type memberPayload struct {
	ProductID string `json:"productId"`
	Position  int    `json:"position"`
}

type resyncPayload struct {
	CollectionID string          `json:"collectionId"`
	Members      []string        `json:"members"`
	Inserted     []memberPayload `json:"inserted"`
	Deleted      []string        `json:"deleted"`
}

func newResyncPayload(result services.ResyncResult) resyncPayload {
	payload := resyncPayload{
		CollectionID: result.CollectionID,
		Members:      result.Members,
		Inserted:     make([]memberPayload, 0, len(result.Diff.Insert)),
		Deleted:      result.Diff.Delete,
	}
	if payload.Members == nil {
		payload.Members = []string{}
	}
	if payload.Deleted == nil {
		payload.Deleted = []string{}
	}
	for _, m := range result.Diff.Insert {
		payload.Inserted = append(payload.Inserted, memberPayload{ProductID: m.ProductID, Position: m.Position})
	}
	return payload
}

func (h *EngineHandlers) decodeRules(w http.ResponseWriter, r *http.Request) (domain.RuleTree, bool) {
	var req rulesRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBodyError(r.Context(), w, err)
		return domain.RuleTree{}, false
	}
	if req.Rules == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "rules are required", http.StatusBadRequest))
		return domain.RuleTree{}, false
	}
	return req.Rules.toDomain(), true
}

func (h *EngineHandlers) previewCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.collections == nil {
		writeUnavailable(ctx, w, "collection")
		return
	}
	rules, ok := h.decodeRules(w, r)
	if !ok {
		return
	}
	ids, err := h.collections.ApplyCollectionRules(ctx, shopIDParam(r), rules)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"productIds": ids})
}

func (h *EngineHandlers) resyncCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.collections == nil {
		writeUnavailable(ctx, w, "collection")
		return
	}
	rules, ok := h.decodeRules(w, r)
	if !ok {
		return
	}
	result, err := h.collections.ResyncCollection(ctx, chi.URLParam(r, "collectionID"), shopIDParam(r), rules)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newResyncPayload(result))
}

func (h *EngineHandlers) resyncShop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.collections == nil {
		writeUnavailable(ctx, w, "collection")
		return
	}
	results, err := h.collections.ResyncShop(ctx, shopIDParam(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]resyncPayload, 0, len(results))
	for _, result := range results {
		payload = append(payload, newResyncPayload(result))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"results": payload})
}
