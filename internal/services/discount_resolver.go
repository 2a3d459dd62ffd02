package services

import (
	"math"
	"sort"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
)

// CustomerDiscountPromotionID identifies the promotion synthesised from shop customer discount settings.
const CustomerDiscountPromotionID = "customer-discount"

// ResolveInput is the snapshot a single discount resolution runs against.
type ResolveInput struct {
	Cart       domain.CartContext
	Promotions []domain.Promotion
	CouponCode string
	Customer   *domain.CustomerRef
	// CustomerUsage maps promotion id to the number of times the customer already redeemed it.
	CustomerUsage    map[string]int
	CustomerDiscount *domain.CustomerDiscountSettings
	Now              time.Time
}

// candidate is a promotion that passed eligibility together with its precomputed effect.
type candidate struct {
	promotion domain.Promotion
	amount    int64
	lineIDs   []string
	gift      *domain.GiftLine
}

// ResolveDiscounts selects the promotions that apply to the cart and computes their effect.
// Stacked promotions are each computed on the original eligible subtotal and summed; the total
// never exceeds the cart subtotal. Coupon problems are reported in RejectedCoupon.
func ResolveDiscounts(in ResolveInput) domain.DiscountApplicationResult {
	subtotal := cartSubtotal(in.Cart)
	var result domain.DiscountApplicationResult

	promotions := in.Promotions
	if synth, ok := customerDiscountPromotion(in.CustomerDiscount, in.Customer); ok {
		promotions = append(append([]domain.Promotion(nil), promotions...), synth)
	}

	couponFound := false
	var candidates []candidate
	for _, promo := range promotions {
		if promo.IsCoupon() {
			if in.CouponCode == "" || promo.Code != in.CouponCode {
				continue
			}
			couponFound = true
		} else if !promo.IsAutomatic {
			continue
		}

		if reason := eligibility(promo, in, subtotal); reason != "" {
			if promo.IsCoupon() {
				result.RejectedCoupon = &domain.RejectedCoupon{Code: in.CouponCode, Reason: reason}
			}
			continue
		}

		c := evaluateCandidate(promo, in.Cart, subtotal)
		if c.amount <= 0 && c.gift == nil {
			if promo.IsCoupon() {
				result.RejectedCoupon = &domain.RejectedCoupon{Code: in.CouponCode, Reason: domain.RejectNoEligibleItems}
			}
			continue
		}
		candidates = append(candidates, c)
	}
	if in.CouponCode != "" && !couponFound {
		result.RejectedCoupon = &domain.RejectedCoupon{Code: in.CouponCode, Reason: domain.RejectInvalidCode}
	}

	ordered := make([]domain.Promotion, len(candidates))
	byID := make(map[string]candidate, len(candidates))
	for i, c := range candidates {
		ordered[i] = c.promotion
		byID[c.promotion.ID] = c
	}
	OrderPromotions(ordered)
	accepted, rejected := ResolveCombination(ordered)

	for _, promo := range rejected {
		if promo.IsCoupon() {
			result.RejectedCoupon = &domain.RejectedCoupon{Code: in.CouponCode, Reason: domain.RejectNotCombinable}
		}
	}

	remaining := subtotal
	existing := giftKeys(in.Cart)
	for _, promo := range accepted {
		c := byID[promo.ID]
		amount := c.amount
		if amount > remaining {
			amount = remaining
		}
		remaining -= amount
		if amount > 0 {
			result.AppliedPromotions = append(result.AppliedPromotions, domain.AppliedPromotion{
				ID:              promo.ID,
				Code:            promo.Code,
				Kind:            promo.Kind,
				Amount:          amount,
				AffectedLineIDs: c.lineIDs,
			})
			result.TotalDiscount += amount
		}
		if c.gift != nil {
			key := c.gift.ProductID + "/" + c.gift.VariantID
			if _, dup := existing[key]; !dup {
				existing[key] = struct{}{}
				result.GiftLines = append(result.GiftLines, *c.gift)
			}
			if amount == 0 {
				result.AppliedPromotions = append(result.AppliedPromotions, domain.AppliedPromotion{
					ID:   promo.ID,
					Code: promo.Code,
					Kind: promo.Kind,
				})
			}
		}
	}
	return result
}

// OrderPromotions sorts promotions by priority descending, then most recently created, then id.
func OrderPromotions(promotions []domain.Promotion) {
	sort.SliceStable(promotions, func(i, j int) bool {
		a, b := promotions[i], promotions[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ResolveCombination greedily accepts ordered promotions. A candidate joins when nothing is applied
// yet, or when it and every applied promotion are combinable. Acceptance stops after the first
// non-combinable promotion.
func ResolveCombination(ordered []domain.Promotion) (accepted, rejected []domain.Promotion) {
	allCombinable := true
	for i, promo := range ordered {
		if len(accepted) == 0 || (promo.CanCombine && allCombinable) {
			accepted = append(accepted, promo)
			if !promo.CanCombine {
				rejected = append(rejected, ordered[i+1:]...)
				return accepted, rejected
			}
			continue
		}
		rejected = append(rejected, promo)
	}
	return accepted, rejected
}

func eligibility(p domain.Promotion, in ResolveInput, subtotal int64) domain.RejectionReason {
	switch {
	case !p.IsActive:
		return domain.RejectInactive
	case p.StartDate != nil && in.Now.Before(*p.StartDate):
		return domain.RejectNotStarted
	case p.EndDate != nil && in.Now.After(*p.EndDate):
		return domain.RejectExpired
	case p.MaxUses != nil && p.UsedCount >= *p.MaxUses:
		return domain.RejectExhausted
	case p.UsesPerCustomer != nil && in.Customer != nil && in.Customer.Registered() && in.CustomerUsage[p.ID] >= *p.UsesPerCustomer:
		return domain.RejectCustomerLimit
	case p.MinOrderAmount != nil && subtotal < *p.MinOrderAmount:
		return domain.RejectMinOrderNotMet
	case !MatchesCustomer(p.Scope, in.Customer):
		return domain.RejectCustomerNotMatch
	}
	return ""
}

func customerDiscountPromotion(settings *domain.CustomerDiscountSettings, customer *domain.CustomerRef) (domain.Promotion, bool) {
	if settings == nil || !settings.Enabled || settings.Percent <= 0 || customer == nil || !customer.Registered() {
		return domain.Promotion{}, false
	}
	return domain.Promotion{
		ID:          CustomerDiscountPromotionID,
		Type:        domain.PromotionTypeDiscount,
		Kind:        domain.PromotionPercentage,
		Value:       settings.Percent,
		IsActive:    true,
		IsAutomatic: true,
		CanCombine:  true,
		Scope: domain.ScopeSelector{
			Target:         domain.ScopeAllProducts,
			CustomerTarget: domain.CustomersRegistered,
		},
	}, true
}

// priceRun is count units of one cart line sharing a unit price. Quantity-based kinds work on runs
// so the cost of a resolution does not grow with line quantities.
type priceRun struct {
	lineID string
	price  int64
	count  int64
}

func evaluateCandidate(p domain.Promotion, cart domain.CartContext, subtotal int64) candidate {
	c := candidate{promotion: p}

	var (
		lines    []domain.CartLine
		eligible int64
		runs     []priceRun
	)
	for _, line := range cart.Lines {
		if line.Quantity <= 0 || !MatchesScope(p.Scope, lineProduct(line)) {
			continue
		}
		lines = append(lines, line)
		eligible += line.Total()
		runs = append(runs, priceRun{lineID: line.ID, price: line.UnitPrice, count: int64(line.Quantity)})
	}

	if len(lines) > 0 {
		c.amount = kindAmount(p, eligible, runs)
		if p.MaxDiscountAmount != nil && c.amount > *p.MaxDiscountAmount {
			c.amount = *p.MaxDiscountAmount
		}
		if c.amount > eligible {
			c.amount = eligible
		}
		if c.amount < 0 {
			c.amount = 0
		}
		if c.amount > 0 {
			for _, line := range lines {
				c.lineIDs = append(c.lineIDs, line.ID)
			}
		}
	}
	if giftTriggered(p, cart, subtotal) {
		c.gift = &domain.GiftLine{PromotionID: p.ID, ProductID: p.GiftProductID, VariantID: p.GiftVariantID, Quantity: 1}
	}
	return c
}

func kindAmount(p domain.Promotion, eligible int64, runs []priceRun) int64 {
	switch p.Kind {
	case domain.PromotionPercentage:
		return percentOf(eligible, p.Value)
	case domain.PromotionFixed:
		return int64(math.Round(p.Value))
	case domain.PromotionBuyXGetY:
		return buyXGetY(runs, p.BuyQuantity, p.GetQuantity, p.GetDiscountPercent)
	case domain.PromotionBuyXPayY:
		return buyXPayY(runs, p.PayQuantity, p.PayAmount)
	case domain.PromotionVolume:
		return percentOf(eligible, volumeTierPercent(p.VolumeTiers, unitCount(runs)))
	case domain.PromotionNthItem:
		return nthItem(runs, p.NthItem, p.Value)
	}
	return 0
}

// buyXGetY discounts the getQty cheapest units of every complete group of buyQty units. Units are
// grouped from most to least expensive.
func buyXGetY(runs []priceRun, buyQty, getQty int, percent float64) int64 {
	if buyQty <= 0 || getQty <= 0 {
		return 0
	}
	if getQty > buyQty {
		getQty = buyQty
	}
	sorted := sortedRuns(runs, false)
	b, g := int64(buyQty), int64(getQty)
	limit := unitCount(sorted) / b * b
	return sumSelected(sorted, percent, func(x int64) int64 {
		x = min(x, limit)
		return x/b*g + max(0, x%b-(b-g))
	})
}

// buyXPayY charges payAmount for every complete group of payQty units.
func buyXPayY(runs []priceRun, payQty int, payAmount int64) int64 {
	if payQty <= 0 {
		return 0
	}
	sorted := sortedRuns(runs, false)
	q := int64(payQty)
	groups := unitCount(sorted) / q

	var (
		total  int64
		idx    int
		offset int64
	)
	advance := func(n int64) {
		offset += n
		if offset == sorted[idx].count {
			idx++
			offset = 0
		}
	}
	for groups > 0 {
		r := sorted[idx]
		if left := r.count - offset; left >= q {
			k := min(left/q, groups)
			if saving := q*r.price - payAmount; saving > 0 {
				total += k * saving
			}
			groups -= k
			advance(k * q)
			continue
		}
		// The group straddles runs.
		var sum int64
		for need := q; need > 0; {
			take := min(sorted[idx].count-offset, need)
			sum += take * sorted[idx].price
			need -= take
			advance(take)
		}
		if sum > payAmount {
			total += sum - payAmount
		}
		groups--
	}
	return total
}

// volumeTierPercent returns the percent of the highest tier whose minimum is reached.
func volumeTierPercent(tiers []domain.VolumeTier, count int64) float64 {
	best := -1
	var percent float64
	for _, tier := range tiers {
		if int64(tier.MinQty) <= count && tier.MinQty > best {
			best = tier.MinQty
			percent = tier.DiscountPercent
		}
	}
	return percent
}

// nthItem discounts every nth unit after ordering units by ascending price.
func nthItem(runs []priceRun, n int, percent float64) int64 {
	if n <= 0 {
		return 0
	}
	step := int64(n)
	return sumSelected(sortedRuns(runs, true), percent, func(x int64) int64 { return x / step })
}

// sumSelected adds the discounted price of every selected unit position. below(x) counts the
// selected positions in [0, x) and must be non-decreasing.
func sumSelected(runs []priceRun, percent float64, below func(int64) int64) int64 {
	var total, start int64
	for _, r := range runs {
		end := start + r.count
		if n := below(end) - below(start); n > 0 {
			total += n * percentOf(r.price, percent)
		}
		start = end
	}
	return total
}

func unitCount(runs []priceRun) int64 {
	var n int64
	for _, r := range runs {
		n += r.count
	}
	return n
}

func sortedRuns(runs []priceRun, ascending bool) []priceRun {
	out := append([]priceRun(nil), runs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].price != out[j].price {
			if ascending {
				return out[i].price < out[j].price
			}
			return out[i].price > out[j].price
		}
		return out[i].lineID < out[j].lineID
	})
	return out
}

func giftTriggered(p domain.Promotion, cart domain.CartContext, subtotal int64) bool {
	if !p.HasGift() {
		return false
	}
	switch p.GiftCondition {
	case domain.GiftOnMinOrderAmount:
		return p.GiftConditionAmount != nil && subtotal >= *p.GiftConditionAmount
	case domain.GiftOnSpecificProduct:
		for _, line := range cart.Lines {
			if line.Quantity > 0 && line.ProductID == p.GiftConditionProductID {
				return true
			}
		}
	}
	return false
}

func giftKeys(cart domain.CartContext) map[string]struct{} {
	keys := make(map[string]struct{}, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.UnitPrice == 0 {
			keys[line.ProductID+"/"+line.VariantID] = struct{}{}
		}
	}
	return keys
}

func cartSubtotal(cart domain.CartContext) int64 {
	if cart.Subtotal > 0 {
		return cart.Subtotal
	}
	var total int64
	for _, line := range cart.Lines {
		if line.Quantity > 0 {
			total += line.Total()
		}
	}
	return total
}

// percentOf rounds half away from zero to the nearest minor unit.
func percentOf(amount int64, percent float64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * percent / 100))
}
