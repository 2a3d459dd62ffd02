package repositories

import (
	"context"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// PromotionRepository reads the promotions authored for a shop.
type PromotionRepository interface {
	// ListActive returns promotions flagged active for the shop. Date windows are not applied.
	ListActive(ctx context.Context, shopID string) ([]domain.Promotion, error)
	FindByCode(ctx context.Context, shopID, code string) (domain.Promotion, error)
}

// SettingsRepository reads shop level discount settings.
type SettingsRepository interface {
	CustomerDiscount(ctx context.Context, shopID string) (domain.CustomerDiscountSettings, error)
}

// RedemptionRequest asks the ledger to consume one use of a coupon.
type RedemptionRequest struct {
	ShopID      string
	PromotionID string
	CustomerID  string
	OrderID     string

	// MaxUses and UsesPerCustomer are the caps in force; nil means unlimited.
	MaxUses         *int
	UsesPerCustomer *int
	RedeemedAt      time.Time
}

// CouponLedger tracks coupon usage and enforces usage caps atomically.
type CouponLedger interface {
	// Redeem increments the coupon's used count iff it is below MaxUses and the customer's count is
	// below UsesPerCustomer. Cap violations surface as a CouponLedgerError.
	Redeem(ctx context.Context, req RedemptionRequest) (int, error)
	// CustomerUsage returns per-promotion redemption counts for the customer.
	CustomerUsage(ctx context.Context, shopID, customerID string, promotionIDs []string) (map[string]int, error)
	// Used returns global redemption counts for the promotions. Promotions never redeemed are absent.
	Used(ctx context.Context, shopID string, promotionIDs []string) (map[string]int, error)
}

// CatalogRepository exposes the product catalog snapshot rule trees run against.
type CatalogRepository interface {
	ListProducts(ctx context.Context, shopID string) ([]domain.Product, error)
}

// RuleQuerier is implemented by catalog backends that evaluate rule trees natively.
type RuleQuerier interface {
	MatchProductIDs(ctx context.Context, shopID string, rules domain.RuleTree) ([]string, error)
}

// CollectionRepository loads collections and persists derived membership.
type CollectionRepository interface {
	Get(ctx context.Context, shopID, collectionID string) (domain.Collection, error)
	ListAutomatic(ctx context.Context, shopID string) ([]domain.Collection, error)
	// SyncMembers replaces the stored membership with productIDs inside one transaction and
	// returns the applied diff.
	SyncMembers(ctx context.Context, shopID, collectionID string, productIDs []string, syncedAt time.Time) (domain.MembershipDiff, error)
}

// AutomationRepository reads merchant automations.
type AutomationRepository interface {
	ListActiveByEvent(ctx context.Context, shopID, eventType string) ([]domain.Automation, error)
	Get(ctx context.Context, shopID, automationID string) (domain.Automation, error)
}

// RunLogRepository appends and lists automation run logs.
type RunLogRepository interface {
	Append(ctx context.Context, log domain.AutomationRunLog) error
	List(ctx context.Context, shopID, automationID string, page domain.Pagination) (domain.CursorPage[domain.AutomationRunLog], error)
	// Trim deletes the oldest logs beyond keep for the automation.
	Trim(ctx context.Context, shopID, automationID string, keep int) (int, error)
}

// EventRepository persists ShopEvents. Events are never updated.
type EventRepository interface {
	Append(ctx context.Context, event domain.ShopEvent) error
}

// EntityWriter performs the generic entity writes automation actions request.
type EntityWriter interface {
	Create(ctx context.Context, shopID, entityType, entityID string, data map[string]any) error
	Update(ctx context.Context, shopID, entityType, entityID string, data map[string]any) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
