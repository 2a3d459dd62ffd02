package domain

import "time"

// ScopeTarget selects which products a promotion may apply to.
type ScopeTarget string

const (
	ScopeAllProducts         ScopeTarget = "ALL_PRODUCTS"
	ScopeSpecificProducts    ScopeTarget = "SPECIFIC_PRODUCTS"
	ScopeSpecificCategories  ScopeTarget = "SPECIFIC_CATEGORIES"
	ScopeSpecificCollections ScopeTarget = "SPECIFIC_COLLECTIONS"
	ScopeExcludeProducts     ScopeTarget = "EXCLUDE_PRODUCTS"
	ScopeExcludeCategories   ScopeTarget = "EXCLUDE_CATEGORIES"
	ScopeExcludeCollections  ScopeTarget = "EXCLUDE_COLLECTIONS"
)

// CustomerTarget selects which customers a promotion may apply to.
type CustomerTarget string

const (
	CustomersAll        CustomerTarget = "ALL_CUSTOMERS"
	CustomersRegistered CustomerTarget = "REGISTERED_CUSTOMERS"
	CustomersSpecific   CustomerTarget = "SPECIFIC_CUSTOMERS"
	CustomersTiers      CustomerTarget = "CUSTOMER_TIERS"
)

// ScopeSelector is the product and customer eligibility rule embedded in every promotion.
// InclusionIDs hold product, category or collection ids depending on Target. The Excluded*
// lists veto a product regardless of Target.
type ScopeSelector struct {
	Target                ScopeTarget
	InclusionIDs          []string
	ExcludedProductIDs    []string
	ExcludedCategoryIDs   []string
	ExcludedCollectionIDs []string
	CustomerTarget        CustomerTarget
	CustomerIDs           []string
	CustomerTiers         []string
}

// PromotionKind enumerates the supported discount calculations.
type PromotionKind string

const (
	PromotionPercentage PromotionKind = "PERCENTAGE"
	PromotionFixed      PromotionKind = "FIXED"
	PromotionBuyXGetY   PromotionKind = "BUY_X_GET_Y"
	PromotionBuyXPayY   PromotionKind = "BUY_X_PAY_Y"
	PromotionVolume     PromotionKind = "VOLUME_DISCOUNT"
	PromotionNthItem    PromotionKind = "NTH_ITEM_DISCOUNT"
	PromotionFreeGift   PromotionKind = "FREE_GIFT"
)

// PromotionType distinguishes automatic discounts from code-gated coupons.
type PromotionType string

const (
	// PromotionTypeDiscount applies without a code when IsAutomatic is set.
	PromotionTypeDiscount PromotionType = "discount"
	// PromotionTypeCoupon applies only when the shopper supplies its exact code.
	PromotionTypeCoupon PromotionType = "coupon"
)

// GiftCondition controls when a promotion's gift line is added.
type GiftCondition string

const (
	GiftOnMinOrderAmount  GiftCondition = "MIN_ORDER_AMOUNT"
	GiftOnSpecificProduct GiftCondition = "SPECIFIC_PRODUCT"
)

// VolumeTier is one step of a VOLUME_DISCOUNT ladder.
type VolumeTier struct {
	MinQty          int
	DiscountPercent float64
}

// Promotion is the shared shape of discounts and coupons. Monetary amounts are in minor
// currency units; percentages are expressed in [0,100].
//
// Value is a percentage for PERCENTAGE and NTH_ITEM_DISCOUNT and an amount for FIXED.
type Promotion struct {
	ID          string
	ShopID      string
	Type        PromotionType
	Code        string
	Name        string
	Kind        PromotionKind
	Value       float64
	IsActive    bool
	IsAutomatic bool
	Priority    int
	CanCombine  bool

	BuyQuantity        int
	GetQuantity        int
	GetDiscountPercent float64
	PayQuantity        int
	PayAmount          int64
	NthItem            int
	VolumeTiers        []VolumeTier

	Scope             ScopeSelector
	MinOrderAmount    *int64
	MaxDiscountAmount *int64
	StartDate         *time.Time
	EndDate           *time.Time

	MaxUses         *int
	UsesPerCustomer *int
	UsedCount       int

	GiftProductID          string
	GiftVariantID          string
	GiftCondition          GiftCondition
	GiftConditionProductID string
	GiftConditionAmount    *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCoupon reports whether the promotion is gated by a code.
func (p Promotion) IsCoupon() bool {
	return p.Type == PromotionTypeCoupon
}

// HasGift reports whether the promotion carries a gift trigger.
func (p Promotion) HasGift() bool {
	return p.GiftProductID != "" && p.GiftCondition != ""
}

// CustomerDiscountSettings grants registered customers a flat percentage off.
type CustomerDiscountSettings struct {
	Enabled bool
	Percent float64
}

// CustomerRef identifies the shopper evaluating a cart. An empty ID means a guest.
type CustomerRef struct {
	ID   string
	Tier string
}

// Registered reports whether the customer has an account.
func (c CustomerRef) Registered() bool {
	return c.ID != ""
}

// CartLine is one line of the cart snapshot a resolver evaluates.
type CartLine struct {
	ID            string
	ProductID     string
	VariantID     string
	CategoryIDs   []string
	CollectionIDs []string
	UnitPrice     int64
	Quantity      int
}

// Total returns the line amount before discounts.
func (l CartLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// CartContext is the cart snapshot the resolver evaluates.
type CartContext struct {
	ShopID   string
	Subtotal int64
	Lines    []CartLine
}

// RejectionReason explains why a promotion or coupon was not applied.
type RejectionReason string

const (
	RejectInvalidCode      RejectionReason = "invalid_code"
	RejectInactive         RejectionReason = "inactive"
	RejectNotStarted       RejectionReason = "not_started"
	RejectExpired          RejectionReason = "expired"
	RejectExhausted        RejectionReason = "exhausted"
	RejectCustomerLimit    RejectionReason = "customer_limit_reached"
	RejectMinOrderNotMet   RejectionReason = "min_order_not_met"
	RejectCustomerNotMatch RejectionReason = "customer_ineligible"
	RejectNoEligibleItems  RejectionReason = "no_eligible_items"
	RejectNotCombinable    RejectionReason = "not_combinable"
)

// AppliedPromotion records the monetary effect of one accepted promotion.
type AppliedPromotion struct {
	ID              string
	Code            string
	Kind            PromotionKind
	Amount          int64
	AffectedLineIDs []string
}

// GiftLine is a zero-priced line added by a gift trigger.
type GiftLine struct {
	PromotionID string
	ProductID   string
	VariantID   string
	Quantity    int
	UnitPrice   int64
}

// RejectedCoupon reports why a supplied coupon code did not apply.
type RejectedCoupon struct {
	Code   string
	Reason RejectionReason
}

// DiscountApplicationResult is the output of discount resolution.
type DiscountApplicationResult struct {
	AppliedPromotions []AppliedPromotion
	TotalDiscount     int64
	GiftLines         []GiftLine
	RejectedCoupon    *RejectedCoupon
}
