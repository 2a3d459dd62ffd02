package services

import (
	"context"

	domain "github.com/shopforge/engine/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination        = domain.Pagination
	Promotion         = domain.Promotion
	CartContext       = domain.CartContext
	CustomerRef       = domain.CustomerRef
	DiscountResult    = domain.DiscountApplicationResult
	RuleTree          = domain.RuleTree
	Automation        = domain.Automation
	AutomationRunLog  = domain.AutomationRunLog
	ShopEvent         = domain.ShopEvent
	RunLogPage        = domain.CursorPage[domain.AutomationRunLog]
	MembershipDiff    = domain.MembershipDiff
)

// PromotionService resolves discounts for carts and redeems coupons.
type PromotionService interface {
	ResolveDiscounts(ctx context.Context, cmd ResolveDiscountsCommand) (DiscountResult, error)
	RedeemCoupon(ctx context.Context, cmd RedeemCouponCommand) (CouponRedemption, error)
	ValidatePromotionDefinition(ctx context.Context, promotion Promotion) error
}

// CollectionRuleEngine derives automatic collection membership from rule trees.
type CollectionRuleEngine interface {
	ApplyCollectionRules(ctx context.Context, shopID string, rules RuleTree) ([]string, error)
	ResyncCollection(ctx context.Context, collectionID, shopID string, rules RuleTree) (ResyncResult, error)
	// ResyncShop resyncs every automatic collection of the shop against its stored rules.
	ResyncShop(ctx context.Context, shopID string) ([]ResyncResult, error)
}

// AutomationEngine reacts to ShopEvents by running merchant automations.
type AutomationEngine interface {
	RunAutomationsForEvent(ctx context.Context, shopID, eventType string, payload map[string]any) (RunSummary, error)
	HandleEvent(ctx context.Context, event ShopEvent) (RunSummary, error)
	TestRunAutomation(ctx context.Context, shopID, automationID string, payload map[string]any) (AutomationRunLog, error)
	ListRunLogs(ctx context.Context, shopID, automationID string, page Pagination) (RunLogPage, error)
}

// EventLog durably appends ShopEvents and dispatches them to automations.
type EventLog interface {
	Append(ctx context.Context, cmd AppendEventCommand) (ShopEvent, error)
}

// ResolveDiscountsCommand asks for the discounts applicable to a cart.
type ResolveDiscountsCommand struct {
	ShopID     string
	Cart       CartContext
	CouponCode string
	Customer   *CustomerRef
}

// RedeemCouponCommand consumes one use of a coupon at order placement.
type RedeemCouponCommand struct {
	ShopID     string
	Code       string
	CustomerID string
	OrderID    string
}

// CouponRedemption reports the outcome of a redemption. A refused redemption is not an error.
type CouponRedemption struct {
	Redeemed    bool
	PromotionID string
	UsedCount   int
	Reason      domain.RejectionReason
}

// ResyncResult summarises a collection membership resync.
type ResyncResult struct {
	CollectionID string
	Members      []string
	Diff         MembershipDiff
}

// RunSummary counts the automations evaluated for one event.
type RunSummary struct {
	EventID   string
	Evaluated int
	Fired     int
	Skipped   int
	Failed    int
	Logs      []AutomationRunLog
}

// AppendEventCommand describes a domain occurrence to record.
type AppendEventCommand struct {
	ShopID     string
	Type       string
	EntityType string
	EntityID   string
	Payload    map[string]any
	ActorID    string
	Chain      domain.EventChain
}
