package handlers

import (
	"net/http"
	"strings"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/platform/httpx"
	"github.com/shopforge/engine/internal/services"
)

type cartLinePayload struct {
	ID            string   `json:"id"`
	ProductID     string   `json:"productId"`
	VariantID     string   `json:"variantId,omitempty"`
	CategoryIDs   []string `json:"categoryIds,omitempty"`
	CollectionIDs []string `json:"collectionIds,omitempty"`
	UnitPrice     int64    `json:"unitPrice"`
	Quantity      int      `json:"quantity"`
}

type customerPayload struct {
	ID   string `json:"id,omitempty"`
	Tier string `json:"tier,omitempty"`
}

type resolveDiscountsRequest struct {
	Cart struct {
		Subtotal int64             `json:"subtotal"`
		Lines    []cartLinePayload `json:"lines"`
	} `json:"cart"`
	CouponCode string           `json:"couponCode,omitempty"`
	Customer   *customerPayload `json:"customer,omitempty"`
}

func (req resolveDiscountsRequest) toCommand(shopID string) services.ResolveDiscountsCommand {
	cart := domain.CartContext{ShopID: shopID, Subtotal: req.Cart.Subtotal}
	computed := int64(0)
	for _, line := range req.Cart.Lines {
		l := domain.CartLine{
			ID:            strings.TrimSpace(line.ID),
			ProductID:     strings.TrimSpace(line.ProductID),
			VariantID:     strings.TrimSpace(line.VariantID),
			CategoryIDs:   line.CategoryIDs,
			CollectionIDs: line.CollectionIDs,
			UnitPrice:     line.UnitPrice,
			Quantity:      line.Quantity,
		}
		computed += l.Total()
		cart.Lines = append(cart.Lines, l)
	}
	if cart.Subtotal == 0 {
		cart.Subtotal = computed
	}
	cmd := services.ResolveDiscountsCommand{
		ShopID:     shopID,
		Cart:       cart,
		CouponCode: req.CouponCode,
	}
	if req.Customer != nil {
		cmd.Customer = &domain.CustomerRef{ID: strings.TrimSpace(req.Customer.ID), Tier: strings.TrimSpace(req.Customer.Tier)}
	}
	return cmd
}

type appliedPromotionPayload struct {
	ID              string   `json:"id"`
	Code            string   `json:"code,omitempty"`
	Kind            string   `json:"kind"`
	Amount          int64    `json:"amount"`
	AffectedLineIDs []string `json:"affectedLineIds"`
}

type giftLinePayload struct {
	PromotionID string `json:"promotionId"`
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

type rejectedCouponPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type resolveDiscountsResponse struct {
	AppliedPromotions []appliedPromotionPayload `json:"appliedPromotions"`
	TotalDiscount     int64                     `json:"totalDiscount"`
	GiftLines         []giftLinePayload         `json:"giftLines"`
	RejectedCoupon    *rejectedCouponPayload    `json:"rejectedCoupon,omitempty"`
}

func newResolveDiscountsResponse(result domain.DiscountApplicationResult) resolveDiscountsResponse {
	resp := resolveDiscountsResponse{
		AppliedPromotions: make([]appliedPromotionPayload, 0, len(result.AppliedPromotions)),
		TotalDiscount:     result.TotalDiscount,
		GiftLines:         make([]giftLinePayload, 0, len(result.GiftLines)),
	}
	for _, applied := range result.AppliedPromotions {
		ids := applied.AffectedLineIDs
		if ids == nil {
			ids = []string{}
		}
		resp.AppliedPromotions = append(resp.AppliedPromotions, appliedPromotionPayload{
			ID:              applied.ID,
			Code:            applied.Code,
			Kind:            string(applied.Kind),
			Amount:          applied.Amount,
			AffectedLineIDs: ids,
		})
	}
	for _, gift := range result.GiftLines {
		resp.GiftLines = append(resp.GiftLines, giftLinePayload{
			PromotionID: gift.PromotionID,
			ProductID:   gift.ProductID,
			VariantID:   gift.VariantID,
			Quantity:    gift.Quantity,
			UnitPrice:   gift.UnitPrice,
		})
	}
	if result.RejectedCoupon != nil {
		resp.RejectedCoupon = &rejectedCouponPayload{Code: result.RejectedCoupon.Code, Reason: string(result.RejectedCoupon.Reason)}
	}
	return resp
}

func (h *EngineHandlers) resolveDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		writeUnavailable(ctx, w, "promotion")
		return
	}
	var req resolveDiscountsRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	result, err := h.promotions.ResolveDiscounts(ctx, req.toCommand(shopIDParam(r)))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newResolveDiscountsResponse(result))
}

type redeemCouponRequest struct {
	Code       string `json:"code"`
	CustomerID string `json:"customerId,omitempty"`
	OrderID    string `json:"orderId"`
}

type redeemCouponResponse struct {
	Redeemed    bool   `json:"redeemed"`
	PromotionID string `json:"promotionId,omitempty"`
	UsedCount   int    `json:"usedCount"`
	Reason      string `json:"reason,omitempty"`
}

func (h *EngineHandlers) redeemCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		writeUnavailable(ctx, w, "promotion")
		return
	}
	var req redeemCouponRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	result, err := h.promotions.RedeemCoupon(ctx, services.RedeemCouponCommand{
		ShopID:     shopIDParam(r),
		Code:       req.Code,
		CustomerID: strings.TrimSpace(req.CustomerID),
		OrderID:    strings.TrimSpace(req.OrderID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if !result.Redeemed {
		status = http.StatusConflict
	}
	httpx.WriteJSON(w, status, redeemCouponResponse{
		Redeemed:    result.Redeemed,
		PromotionID: result.PromotionID,
		UsedCount:   result.UsedCount,
		Reason:      string(result.Reason),
	})
}
