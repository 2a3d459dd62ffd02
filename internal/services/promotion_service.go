package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories"
)

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionRepository
	Settings   repositories.SettingsRepository
	Ledger     repositories.CouponLedger
	Clock      func() time.Time
	Logger     Logger
	Metrics    Metrics
}

type promotionService struct {
	repo     repositories.PromotionRepository
	settings repositories.SettingsRepository
	ledger   repositories.CouponLedger
	clock    func() time.Time
	logger   Logger
	metrics  Metrics
}

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	if deps.Ledger == nil {
		return nil, ErrPromotionLedgerMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &promotionService{
		repo:     deps.Promotions,
		settings: deps.Settings,
		ledger:   deps.Ledger,
		clock:    func() time.Time { return clock().UTC() },
		logger:   loggerOrNoop(deps.Logger),
		metrics:  metricsOrNoop(deps.Metrics),
	}, nil
}

func (s *promotionService) ResolveDiscounts(ctx context.Context, cmd ResolveDiscountsCommand) (DiscountResult, error) {
	shopID := strings.TrimSpace(cmd.ShopID)
	if shopID == "" {
		return DiscountResult{}, fmt.Errorf("%w: shop id is required", ErrPromotionInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "promotions.resolve", trace.WithAttributes(attribute.String("shop.id", shopID)))
	defer span.End()

	promotions, err := s.repo.ListActive(ctx, shopID)
	if err != nil {
		return DiscountResult{}, s.mapRepoError(err)
	}

	// Coupon codes match exactly; an empty code means none was entered.
	code := cmd.CouponCode
	if code != "" && !hasCode(promotions, code) {
		// Inactive or expired coupons are not listed but still deserve a precise rejection.
		coupon, err := s.repo.FindByCode(ctx, shopID, code)
		switch {
		case err == nil:
			promotions = append(promotions, coupon)
		case isNotFound(err):
		default:
			return DiscountResult{}, s.mapRepoError(err)
		}
	}

	promotions, err = s.withLedgerUsage(ctx, shopID, promotions)
	if err != nil {
		return DiscountResult{}, err
	}
	s.warnUnknownTargets(ctx, shopID, promotions)

	usage, err := s.customerUsage(ctx, shopID, cmd.Customer, promotions)
	if err != nil {
		return DiscountResult{}, err
	}

	var settings *domain.CustomerDiscountSettings
	if s.settings != nil {
		loaded, err := s.settings.CustomerDiscount(ctx, shopID)
		switch {
		case err == nil:
			settings = &loaded
		case isNotFound(err):
		default:
			s.logger(ctx, "promotions.settings_unavailable", map[string]any{"shopId": shopID, "error": err.Error()})
		}
	}

	cart := cmd.Cart
	cart.ShopID = shopID
	result := ResolveDiscounts(ResolveInput{
		Cart:             cart,
		Promotions:       promotions,
		CouponCode:       code,
		Customer:         cmd.Customer,
		CustomerUsage:    usage,
		CustomerDiscount: settings,
		Now:              s.clock(),
	})

	fields := map[string]any{
		"shopId":        shopID,
		"candidates":    len(promotions),
		"applied":       len(result.AppliedPromotions),
		"totalDiscount": result.TotalDiscount,
	}
	if result.RejectedCoupon != nil {
		fields["couponRejected"] = string(result.RejectedCoupon.Reason)
	}
	s.logger(ctx, "promotions.resolved", fields)
	s.metrics.PromotionsResolved(ctx, shopID, len(result.AppliedPromotions), result.RejectedCoupon != nil)
	span.SetAttributes(attribute.Int64("discount.total", result.TotalDiscount))
	return result, nil
}

func (s *promotionService) RedeemCoupon(ctx context.Context, cmd RedeemCouponCommand) (CouponRedemption, error) {
	shopID := strings.TrimSpace(cmd.ShopID)
	code := cmd.Code
	if shopID == "" || strings.TrimSpace(code) == "" {
		return CouponRedemption{}, fmt.Errorf("%w: shop id and coupon code are required", ErrPromotionInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "promotions.redeem", trace.WithAttributes(attribute.String("shop.id", shopID)))
	defer span.End()

	coupon, err := s.repo.FindByCode(ctx, shopID, code)
	if err != nil {
		if isNotFound(err) {
			return s.refuse(ctx, shopID, "", domain.RejectInvalidCode), nil
		}
		return CouponRedemption{}, s.mapRepoError(err)
	}
	if !coupon.IsCoupon() || coupon.Code != code {
		return s.refuse(ctx, shopID, coupon.ID, domain.RejectInvalidCode), nil
	}

	now := s.clock()
	switch {
	case !coupon.IsActive:
		return s.refuse(ctx, shopID, coupon.ID, domain.RejectInactive), nil
	case coupon.StartDate != nil && now.Before(*coupon.StartDate):
		return s.refuse(ctx, shopID, coupon.ID, domain.RejectNotStarted), nil
	case coupon.EndDate != nil && now.After(*coupon.EndDate):
		return s.refuse(ctx, shopID, coupon.ID, domain.RejectExpired), nil
	}

	used, err := s.ledger.Redeem(ctx, repositories.RedemptionRequest{
		ShopID:          shopID,
		PromotionID:     coupon.ID,
		CustomerID:      strings.TrimSpace(cmd.CustomerID),
		OrderID:         strings.TrimSpace(cmd.OrderID),
		MaxUses:         coupon.MaxUses,
		UsesPerCustomer: coupon.UsesPerCustomer,
		RedeemedAt:      now,
	})
	if err != nil {
		switch repositories.CouponLedgerCode(err) {
		case repositories.CouponLedgerExhausted:
			return s.refuse(ctx, shopID, coupon.ID, domain.RejectExhausted), nil
		case repositories.CouponLedgerCustomerLimit:
			return s.refuse(ctx, shopID, coupon.ID, domain.RejectCustomerLimit), nil
		case repositories.CouponLedgerNotFound:
			return s.refuse(ctx, shopID, coupon.ID, domain.RejectInvalidCode), nil
		}
		return CouponRedemption{}, s.mapRepoError(err)
	}

	s.logger(ctx, "promotions.coupon_redeemed", map[string]any{
		"shopId":      shopID,
		"promotionId": coupon.ID,
		"usedCount":   used,
	})
	s.metrics.CouponRedemption(ctx, shopID, "redeemed")
	return CouponRedemption{Redeemed: true, PromotionID: coupon.ID, UsedCount: used}, nil
}

func (s *promotionService) ValidatePromotionDefinition(_ context.Context, promotion Promotion) error {
	if err := domain.ValidatePromotion(promotion); err != nil {
		return fmt.Errorf("%w: %w", ErrPromotionInvalidDefinition, err)
	}
	return nil
}

func (s *promotionService) refuse(ctx context.Context, shopID, promotionID string, reason domain.RejectionReason) CouponRedemption {
	s.logger(ctx, "promotions.coupon_refused", map[string]any{
		"shopId":      shopID,
		"promotionId": promotionID,
		"reason":      string(reason),
	})
	s.metrics.CouponRedemption(ctx, shopID, string(reason))
	return CouponRedemption{PromotionID: promotionID, Reason: reason}
}

// withLedgerUsage overlays the ledger's global redemption counts on capped promotions. The stored
// usedCount is only a snapshot and may lag behind ledgers that keep their own counters.
func (s *promotionService) withLedgerUsage(ctx context.Context, shopID string, promotions []Promotion) ([]Promotion, error) {
	var ids []string
	for _, p := range promotions {
		if p.MaxUses != nil {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return promotions, nil
	}
	used, err := s.ledger.Used(ctx, shopID, ids)
	if err != nil {
		return nil, s.mapRepoError(err)
	}
	out := make([]Promotion, len(promotions))
	copy(out, promotions)
	for i := range out {
		if n, ok := used[out[i].ID]; ok && n > out[i].UsedCount {
			out[i].UsedCount = n
		}
	}
	return out, nil
}

func (s *promotionService) warnUnknownTargets(ctx context.Context, shopID string, promotions []Promotion) {
	for _, p := range promotions {
		fields := UnknownScopeTargets(p.Scope)
		if len(fields) == 0 {
			continue
		}
		s.logger(ctx, "promotions.scope_unknown", map[string]any{
			"shopId":         shopID,
			"promotionId":    p.ID,
			"fields":         fields,
			"target":         string(p.Scope.Target),
			"customerTarget": string(p.Scope.CustomerTarget),
		})
	}
}

func (s *promotionService) customerUsage(ctx context.Context, shopID string, customer *CustomerRef, promotions []Promotion) (map[string]int, error) {
	if customer == nil || !customer.Registered() {
		return nil, nil
	}
	var ids []string
	for _, p := range promotions {
		if p.UsesPerCustomer != nil {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	usage, err := s.ledger.CustomerUsage(ctx, shopID, customer.ID, ids)
	if err != nil {
		return nil, s.mapRepoError(err)
	}
	return usage, nil
}

func (s *promotionService) mapRepoError(err error) error {
	return wrapUnavailable(err, ErrPromotionRepositoryUnavailable)
}

func hasCode(promotions []Promotion, code string) bool {
	for _, p := range promotions {
		if p.IsCoupon() && p.Code == code {
			return true
		}
	}
	return false
}

// wrapUnavailable tags transient repository failures with the caller's sentinel.
func wrapUnavailable(err, sentinel error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
