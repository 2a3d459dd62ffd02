package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/engine/internal/platform/httpx"
	"github.com/shopforge/engine/internal/platform/pagination"
	"github.com/shopforge/engine/internal/services"
)

const (
	maxEngineBodySize   = 256 * 1024
	defaultTestRunLimit = 30
	testRunWindow       = time.Minute
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// EngineHandlersDeps wires the services behind the internal routes. Nil services answer 503.
type EngineHandlersDeps struct {
	Promotions  services.PromotionService
	Collections services.CollectionRuleEngine
	Automations services.AutomationEngine
	Events      services.EventLog
	// TestRunLimit caps test runs per automation per minute. Negative disables the limit.
	TestRunLimit int
	Clock        func() time.Time
}

// EngineHandlers exposes discount resolution, coupon redemption, event intake, automation test
// runs and collection resyncs to the surrounding platform.
type EngineHandlers struct {
	promotions  services.PromotionService
	collections services.CollectionRuleEngine
	automations services.AutomationEngine
	events      services.EventLog
	testRuns    testRunLimiter
}

// NewEngineHandlers constructs the internal engine handlers.
func NewEngineHandlers(deps EngineHandlersDeps) *EngineHandlers {
	limit := deps.TestRunLimit
	if limit == 0 {
		limit = defaultTestRunLimit
	}
	return &EngineHandlers{
		promotions:  deps.Promotions,
		collections: deps.Collections,
		automations: deps.Automations,
		events:      deps.Events,
		testRuns:    newTestRunLimiter(limit, testRunWindow, deps.Clock),
	}
}

// Routes registers the shop-scoped engine endpoints.
func (h *EngineHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/shops/{shopID}", func(shop chi.Router) {
		shop.Post("/discounts:resolve", h.resolveDiscounts)
		shop.Post("/coupons:redeem", h.redeemCoupon)
		shop.Post("/events", h.appendEvent)
		shop.Post("/automations/{automationID}:test", h.testRunAutomation)
		shop.Get("/automations/{automationID}/runs", h.listRunLogs)
		shop.Post("/collections:preview", h.previewCollection)
		shop.Post("/collections:resync", h.resyncShop)
		shop.Post("/collections/{collectionID}:resync", h.resyncCollection)
	})
}

func shopIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "shopID"))
}

// decodeBody reads a JSON body of at most maxEngineBodySize bytes. Unknown fields are rejected.
func decodeBody(r *http.Request, dst any, optional bool) error {
	data, err := readLimitedBody(r, maxEngineBodySize)
	if err != nil {
		if optional && errors.Is(err, errEmptyBody) {
			return nil
		}
		return err
	}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid request body: extraneous data")
	}
	return nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// writeServiceError maps engine sentinel errors onto HTTP responses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPromotionInvalidInput),
		errors.Is(err, services.ErrPromotionInvalidDefinition),
		errors.Is(err, services.ErrCollectionInvalidInput),
		errors.Is(err, services.ErrAutomationInvalidInput),
		errors.Is(err, services.ErrEventInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_page_token", "page token is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCollectionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("collection_not_found", "collection not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAutomationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("automation_not_found", "automation not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCollectionNotAutomatic):
		httpx.WriteError(ctx, w, httpx.NewError("collection_not_automatic", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPromotionRepositoryUnavailable),
		errors.Is(err, services.ErrCollectionRepositoryUnavailable),
		errors.Is(err, services.ErrAutomationRepositoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("backend_unavailable", "backing store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("engine_error", "failed to process request", http.StatusInternalServerError))
	}
}
