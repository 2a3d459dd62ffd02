package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
	"github.com/shopforge/engine/internal/repositories"
)

type couponUsageDocument struct {
	PromotionID string    `firestore:"promotionId"`
	CustomerID  string    `firestore:"customerId"`
	Count       int       `firestore:"count"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type couponOrderDocument struct {
	PromotionID string    `firestore:"promotionId"`
	OrderID     string    `firestore:"orderId"`
	CustomerID  string    `firestore:"customerId,omitempty"`
	UsedCount   int       `firestore:"usedCount"`
	RedeemedAt  time.Time `firestore:"redeemedAt"`
}

// CouponLedger enforces coupon caps with Firestore transactions. The promotion document's
// usedCount is the global counter; per-customer counts live in couponUsage.
type CouponLedger struct {
	provider   *pfirestore.Provider
	promotions *pfirestore.ShopCollection[promotionDocument]
	usage      *pfirestore.ShopCollection[couponUsageDocument]
	orders     *pfirestore.ShopCollection[couponOrderDocument]
}

// NewCouponLedger constructs a Firestore-backed coupon ledger.
func NewCouponLedger(provider *pfirestore.Provider) (*CouponLedger, error) {
	if provider == nil {
		return nil, errors.New("coupon ledger requires firestore provider")
	}
	return &CouponLedger{
		provider:   provider,
		promotions: pfirestore.NewShopCollection[promotionDocument](provider, promotionsCollection, nil),
		usage:      pfirestore.NewShopCollection[couponUsageDocument](provider, couponUsageCollection, nil),
		orders:     pfirestore.NewShopCollection[couponOrderDocument](provider, couponOrdersCollection, nil),
	}, nil
}

// Redeem implements repositories.CouponLedger. All reads happen before any write, as Firestore
// transactions require.
func (l *CouponLedger) Redeem(ctx context.Context, req repositories.RedemptionRequest) (int, error) {
	shopID := strings.TrimSpace(req.ShopID)
	promotionID := strings.TrimSpace(req.PromotionID)
	if shopID == "" || promotionID == "" {
		return 0, repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerInvalidInput, "shop id and promotion id are required", nil)
	}
	now := req.RedeemedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var usedCount int
	err := l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		promoRef, err := l.promotions.Doc(ctx, shopID, promotionID)
		if err != nil {
			return err
		}
		var orderRef *firestore.DocumentRef
		if req.OrderID != "" {
			if orderRef, err = l.orders.Doc(ctx, shopID, promotionID+"_"+req.OrderID); err != nil {
				return err
			}
		}
		var usageRef *firestore.DocumentRef
		if req.CustomerID != "" {
			if usageRef, err = l.usage.Doc(ctx, shopID, promotionID+"_"+req.CustomerID); err != nil {
				return err
			}
		}

		if orderRef != nil {
			snap, err := tx.Get(orderRef)
			switch status.Code(err) {
			case codes.OK:
				var prior couponOrderDocument
				if err := snap.DataTo(&prior); err != nil {
					return fmt.Errorf("firestore coupons decode order %s: %w", req.OrderID, err)
				}
				usedCount = prior.UsedCount
				return nil
			case codes.NotFound:
			default:
				return err
			}
		}

		promoSnap, err := tx.Get(promoRef)
		if status.Code(err) == codes.NotFound {
			return repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerNotFound, fmt.Sprintf("promotion %s not found", promotionID), nil)
		}
		if err != nil {
			return err
		}
		var promo promotionDocument
		if err := promoSnap.DataTo(&promo); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", promotionID, err)
		}

		customerCount := 0
		if usageRef != nil {
			snap, err := tx.Get(usageRef)
			switch status.Code(err) {
			case codes.OK:
				var usage couponUsageDocument
				if err := snap.DataTo(&usage); err != nil {
					return fmt.Errorf("firestore coupons decode usage %s: %w", req.CustomerID, err)
				}
				customerCount = usage.Count
			case codes.NotFound:
			default:
				return err
			}
		}

		if req.MaxUses != nil && promo.UsedCount >= *req.MaxUses {
			return repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerExhausted, fmt.Sprintf("coupon %s reached max uses %d", promotionID, *req.MaxUses), nil)
		}
		if usageRef != nil && req.UsesPerCustomer != nil && customerCount >= *req.UsesPerCustomer {
			return repositories.NewCouponLedgerError("coupons.redeem", repositories.CouponLedgerCustomerLimit, fmt.Sprintf("customer %s reached limit for coupon %s", req.CustomerID, promotionID), nil)
		}

		usedCount = promo.UsedCount + 1
		if err := tx.Update(promoRef, []firestore.Update{
			{Path: "usedCount", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if usageRef != nil {
			if err := tx.Set(usageRef, couponUsageDocument{
				PromotionID: promotionID,
				CustomerID:  req.CustomerID,
				Count:       customerCount + 1,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		if orderRef != nil {
			return tx.Create(orderRef, couponOrderDocument{
				PromotionID: promotionID,
				OrderID:     req.OrderID,
				CustomerID:  req.CustomerID,
				UsedCount:   usedCount,
				RedeemedAt:  now,
			})
		}
		return nil
	}, pfirestore.WithTxLabel("coupons.redeem"))
	if err != nil {
		var ledgerErr *repositories.CouponLedgerError
		if errors.As(err, &ledgerErr) {
			return 0, ledgerErr
		}
		return 0, pfirestore.WrapError("coupons.redeem", err)
	}
	return usedCount, nil
}

// CustomerUsage implements repositories.CouponLedger.
func (l *CouponLedger) CustomerUsage(ctx context.Context, shopID, customerID string, promotionIDs []string) (map[string]int, error) {
	usage := make(map[string]int, len(promotionIDs))
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || len(promotionIDs) == 0 {
		return usage, nil
	}
	docs, err := l.usage.Query(ctx, shopID, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID)
	})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(promotionIDs))
	for _, id := range promotionIDs {
		wanted[id] = struct{}{}
	}
	for _, doc := range docs {
		if _, ok := wanted[doc.Data.PromotionID]; ok && doc.Data.Count > 0 {
			usage[doc.Data.PromotionID] = doc.Data.Count
		}
	}
	return usage, nil
}

// Used implements repositories.CouponLedger. The promotion document carries the authoritative
// counter, so the counts are read straight from it.
func (l *CouponLedger) Used(ctx context.Context, shopID string, promotionIDs []string) (map[string]int, error) {
	used := make(map[string]int, len(promotionIDs))
	for _, id := range promotionIDs {
		doc, err := l.promotions.Get(ctx, shopID, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		if doc.Data.UsedCount > 0 {
			used[id] = doc.Data.UsedCount
		}
	}
	return used, nil
}
