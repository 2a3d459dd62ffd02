// Package redis keeps coupon usage counters in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shopforge/engine/internal/repositories"
)

// redeemScript checks both caps and increments the counters in one step.
// KEYS[1] = global used counter
// KEYS[2] = customer counter
// KEYS[3] = order marker
// ARGV[1] = max uses, -1 when unlimited
// ARGV[2] = uses per customer, -1 when unlimited or anonymous
// ARGV[3] = 1 when the customer counter applies
// ARGV[4] = 1 when the order marker applies
// Returns {status, usedCount}: 0 redeemed, 1 exhausted, 2 customer limit, 3 replayed order.
var redeemScript = goredis.NewScript(`
if ARGV[4] == "1" then
  local prior = redis.call("GET", KEYS[3])
  if prior then
    return {3, tonumber(prior)}
  end
end

local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local maxUses = tonumber(ARGV[1])
if maxUses >= 0 and used >= maxUses then
  return {1, used}
end

if ARGV[3] == "1" then
  local perCustomer = tonumber(ARGV[2])
  local count = tonumber(redis.call("GET", KEYS[2]) or "0")
  if perCustomer >= 0 and count >= perCustomer then
    return {2, used}
  end
  redis.call("INCR", KEYS[2])
end

used = redis.call("INCR", KEYS[1])
if ARGV[4] == "1" then
  redis.call("SET", KEYS[3], used)
end
return {0, used}
`)

const (
	statusRedeemed int64 = iota
	statusExhausted
	statusCustomerLimit
	statusReplayed
)

// CouponLedger implements repositories.CouponLedger with a Lua script so the cap check and the
// increment cannot interleave across workers.
type CouponLedger struct {
	client goredis.UniversalClient
	prefix string
}

// NewCouponLedger wraps a connected client. Keys are namespaced below prefix.
func NewCouponLedger(client goredis.UniversalClient, prefix string) (*CouponLedger, error) {
	if client == nil {
		return nil, errors.New("redis coupon ledger requires a client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "coupons"
	}
	return &CouponLedger{client: client, prefix: prefix}, nil
}

// Redeem implements repositories.CouponLedger.
func (l *CouponLedger) Redeem(ctx context.Context, req repositories.RedemptionRequest) (int, error) {
	shopID := strings.TrimSpace(req.ShopID)
	promotionID := strings.TrimSpace(req.PromotionID)
	if shopID == "" || promotionID == "" {
		return 0, repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerInvalidInput, "shop id and promotion id are required", nil)
	}
	customerID := strings.TrimSpace(req.CustomerID)
	orderID := strings.TrimSpace(req.OrderID)

	keys := []string{
		l.key(shopID, promotionID, "used"),
		l.key(shopID, promotionID, "customer", customerID),
		l.key(shopID, promotionID, "order", orderID),
	}
	args := []any{capArg(req.MaxUses), capArg(req.UsesPerCustomer), flag(customerID != ""), flag(orderID != "")}

	res, err := redeemScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redis coupons redeem %s: %w", promotionID, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("redis coupons redeem %s: unexpected script reply %v", promotionID, res)
	}
	used := int(res[1])
	switch res[0] {
	case statusRedeemed, statusReplayed:
		return used, nil
	case statusExhausted:
		return 0, repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerExhausted, fmt.Sprintf("coupon %s reached max uses %d", promotionID, *req.MaxUses), nil)
	case statusCustomerLimit:
		return 0, repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerCustomerLimit, fmt.Sprintf("customer %s reached limit for coupon %s", customerID, promotionID), nil)
	}
	return 0, fmt.Errorf("redis coupons redeem %s: unknown status %d", promotionID, res[0])
}

// CustomerUsage implements repositories.CouponLedger.
func (l *CouponLedger) CustomerUsage(ctx context.Context, shopID, customerID string, promotionIDs []string) (map[string]int, error) {
	usage := make(map[string]int, len(promotionIDs))
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || len(promotionIDs) == 0 {
		return usage, nil
	}
	pipe := l.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(promotionIDs))
	for i, id := range promotionIDs {
		cmds[i] = pipe.Get(ctx, l.key(shopID, id, "customer", customerID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis coupons usage: %w", err)
	}
	for i, cmd := range cmds {
		n, err := cmd.Int()
		if err == nil && n > 0 {
			usage[promotionIDs[i]] = n
		}
	}
	return usage, nil
}

// Used implements repositories.CouponLedger.
func (l *CouponLedger) Used(ctx context.Context, shopID string, promotionIDs []string) (map[string]int, error) {
	used := make(map[string]int, len(promotionIDs))
	if len(promotionIDs) == 0 {
		return used, nil
	}
	pipe := l.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(promotionIDs))
	for i, id := range promotionIDs {
		cmds[i] = pipe.Get(ctx, l.key(shopID, id, "used"))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis coupons used: %w", err)
	}
	for i, cmd := range cmds {
		n, err := cmd.Int()
		if err == nil && n > 0 {
			used[promotionIDs[i]] = n
		}
	}
	return used, nil
}

// key hash-tags shop and promotion so every key one script touches lands in the same cluster slot.
func (l *CouponLedger) key(shopID, promotionID string, parts ...string) string {
	return fmt.Sprintf("%s:{%s:%s}:%s", l.prefix, shopID, promotionID, strings.Join(parts, ":"))
}

func capArg(limit *int) int {
	if limit == nil {
		return -1
	}
	return *limit
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
