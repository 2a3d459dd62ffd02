package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopforge/engine/internal/repositories"
)

// CouponLedger enforces coupon caps under a mutex.
type CouponLedger struct {
	mu        sync.Mutex
	used      map[string]int
	customers map[string]int
	orders    map[string]struct{}
}

// NewCouponLedger constructs an empty ledger.
func NewCouponLedger() *CouponLedger {
	return &CouponLedger{
		used:      make(map[string]int),
		customers: make(map[string]int),
		orders:    make(map[string]struct{}),
	}
}

// Redeem implements repositories.CouponLedger.
func (l *CouponLedger) Redeem(_ context.Context, req repositories.RedemptionRequest) (int, error) {
	if strings.TrimSpace(req.ShopID) == "" || strings.TrimSpace(req.PromotionID) == "" {
		return 0, repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerInvalidInput, "shop id and promotion id are required", nil)
	}
	key := shopKey(req.ShopID, req.PromotionID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.OrderID != "" {
		if _, done := l.orders[key+"/"+req.OrderID]; done {
			return l.used[key], nil
		}
	}
	if req.MaxUses != nil && l.used[key] >= *req.MaxUses {
		return 0, repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerExhausted, fmt.Sprintf("coupon %s reached max uses %d", req.PromotionID, *req.MaxUses), nil)
	}
	customerKey := key + "/" + req.CustomerID
	if req.CustomerID != "" && req.UsesPerCustomer != nil && l.customers[customerKey] >= *req.UsesPerCustomer {
		return 0, repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerCustomerLimit, fmt.Sprintf("customer %s reached limit for coupon %s", req.CustomerID, req.PromotionID), nil)
	}

	l.used[key]++
	if req.CustomerID != "" {
		l.customers[customerKey]++
	}
	if req.OrderID != "" {
		l.orders[key+"/"+req.OrderID] = struct{}{}
	}
	return l.used[key], nil
}

// CustomerUsage implements repositories.CouponLedger.
func (l *CouponLedger) CustomerUsage(_ context.Context, shopID, customerID string, promotionIDs []string) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	usage := make(map[string]int, len(promotionIDs))
	for _, id := range promotionIDs {
		if n := l.customers[shopKey(shopID, id)+"/"+customerID]; n > 0 {
			usage[id] = n
		}
	}
	return usage, nil
}

// Used implements repositories.CouponLedger.
func (l *CouponLedger) Used(_ context.Context, shopID string, promotionIDs []string) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	used := make(map[string]int, len(promotionIDs))
	for _, id := range promotionIDs {
		if n := l.used[shopKey(shopID, id)]; n > 0 {
			used[id] = n
		}
	}
	return used, nil
}
