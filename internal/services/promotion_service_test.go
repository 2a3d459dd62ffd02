package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories"
	"github.com/shopforge/engine/internal/repositories/memory"
)

const testShop = "shop-1"

func newPromotionServiceForTest(t *testing.T, repo *memory.PromotionRepository, ledger repositories.CouponLedger) PromotionService {
	t.Helper()
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: repo,
		Settings:   repo,
		Ledger:     ledger,
		Clock:      func() time.Time { return resolverNow },
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	return svc
}

func shopCoupon(id, code string, kind domain.PromotionKind, value float64) domain.Promotion {
	p := coupon(id, code, kind, value)
	p.ShopID = testShop
	return p
}

func TestNewPromotionService_RequiresDependencies(t *testing.T) {
	if _, err := NewPromotionService(PromotionServiceDeps{}); !errors.Is(err, ErrPromotionRepositoryMissing) {
		t.Fatalf("expected ErrPromotionRepositoryMissing got %v", err)
	}
	if _, err := NewPromotionService(PromotionServiceDeps{Promotions: memory.NewPromotionRepository()}); !errors.Is(err, ErrPromotionLedgerMissing) {
		t.Fatalf("expected ErrPromotionLedgerMissing got %v", err)
	}
}

func TestPromotionService_ResolveDiscounts_EndToEnd(t *testing.T) {
	repo := memory.NewPromotionRepository(shopCoupon("c10", "TEN", domain.PromotionPercentage, 10))
	repo.PutCustomerDiscount(testShop, domain.CustomerDiscountSettings{Enabled: true, Percent: 5})
	svc := newPromotionServiceForTest(t, repo, memory.NewCouponLedger())

	result, err := svc.ResolveDiscounts(context.Background(), ResolveDiscountsCommand{
		ShopID:     " " + testShop + " ",
		Cart:       singleLineCart(200, 1),
		CouponCode: "TEN",
		Customer:   &domain.CustomerRef{ID: "cust-1"},
	})
	if err != nil {
		t.Fatalf("ResolveDiscounts: %v", err)
	}
	if result.TotalDiscount != 30 {
		t.Fatalf("expected 30 got %d", result.TotalDiscount)
	}
}

func TestPromotionService_ResolveDiscounts_InactiveCouponRejected(t *testing.T) {
	inactive := shopCoupon("c10", "TEN", domain.PromotionPercentage, 10)
	inactive.IsActive = false
	svc := newPromotionServiceForTest(t, memory.NewPromotionRepository(inactive), memory.NewCouponLedger())

	result, err := svc.ResolveDiscounts(context.Background(), ResolveDiscountsCommand{
		ShopID:     testShop,
		Cart:       singleLineCart(200, 1),
		CouponCode: "TEN",
	})
	if err != nil {
		t.Fatalf("ResolveDiscounts: %v", err)
	}
	if result.RejectedCoupon == nil || result.RejectedCoupon.Reason != domain.RejectInactive {
		t.Fatalf("expected inactive rejection got %+v", result.RejectedCoupon)
	}
}

func TestPromotionService_ResolveDiscounts_UsesCustomerUsage(t *testing.T) {
	once := shopCoupon("once", "ONCE", domain.PromotionFixed, 10)
	once.UsesPerCustomer = intPtr(1)
	repo := memory.NewPromotionRepository(once)
	ledger := memory.NewCouponLedger()
	svc := newPromotionServiceForTest(t, repo, ledger)
	ctx := context.Background()

	redemption, err := svc.RedeemCoupon(ctx, RedeemCouponCommand{ShopID: testShop, Code: "ONCE", CustomerID: "cust-1", OrderID: "o-1"})
	if err != nil || !redemption.Redeemed {
		t.Fatalf("expected first redemption to succeed: %+v %v", redemption, err)
	}

	result, err := svc.ResolveDiscounts(ctx, ResolveDiscountsCommand{
		ShopID:     testShop,
		Cart:       singleLineCart(100, 1),
		CouponCode: "ONCE",
		Customer:   &domain.CustomerRef{ID: "cust-1"},
	})
	if err != nil {
		t.Fatalf("ResolveDiscounts: %v", err)
	}
	if result.RejectedCoupon == nil || result.RejectedCoupon.Reason != domain.RejectCustomerLimit {
		t.Fatalf("expected customer limit rejection got %+v", result.RejectedCoupon)
	}

	again, err := svc.RedeemCoupon(ctx, RedeemCouponCommand{ShopID: testShop, Code: "ONCE", CustomerID: "cust-1", OrderID: "o-2"})
	if err != nil {
		t.Fatalf("RedeemCoupon: %v", err)
	}
	if again.Redeemed || again.Reason != domain.RejectCustomerLimit {
		t.Fatalf("expected customer limit refusal got %+v", again)
	}
}

func TestPromotionService_ResolveDiscounts_ExhaustedInLedger(t *testing.T) {
	single := shopCoupon("single", "SOLO", domain.PromotionFixed, 10)
	single.MaxUses = intPtr(1)
	repo := memory.NewPromotionRepository(single)
	svc := newPromotionServiceForTest(t, repo, memory.NewCouponLedger())
	ctx := context.Background()

	first, err := svc.RedeemCoupon(ctx, RedeemCouponCommand{ShopID: testShop, Code: "SOLO", OrderID: "o-1"})
	if err != nil || !first.Redeemed {
		t.Fatalf("expected first redemption to succeed: %+v %v", first, err)
	}
	second, err := svc.RedeemCoupon(ctx, RedeemCouponCommand{ShopID: testShop, Code: "SOLO", OrderID: "o-2"})
	if err != nil || second.Redeemed || second.Reason != domain.RejectExhausted {
		t.Fatalf("expected exhausted refusal got %+v %v", second, err)
	}

	result, err := svc.ResolveDiscounts(ctx, ResolveDiscountsCommand{
		ShopID:     testShop,
		Cart:       singleLineCart(1000, 1),
		CouponCode: "SOLO",
	})
	if err != nil {
		t.Fatalf("ResolveDiscounts: %v", err)
	}
	if result.TotalDiscount != 0 || len(result.AppliedPromotions) != 0 {
		t.Fatalf("expected exhausted coupon not to apply, got %+v", result)
	}
	if result.RejectedCoupon == nil || result.RejectedCoupon.Reason != domain.RejectExhausted {
		t.Fatalf("expected exhausted rejection got %+v", result.RejectedCoupon)
	}
	stored, err := repo.FindByCode(ctx, testShop, "SOLO")
	if err != nil || stored.UsedCount != 0 {
		t.Fatalf("expected stored snapshot untouched, got %+v %v", stored, err)
	}
}

func TestPromotionService_ResolveDiscounts_LedgerFailure(t *testing.T) {
	capped := shopCoupon("capped", "CAP", domain.PromotionFixed, 10)
	capped.MaxUses = intPtr(5)
	svc := newPromotionServiceForTest(t, memory.NewPromotionRepository(capped), &failingLedger{err: &stubRepoError{unavailable: true}})

	_, err := svc.ResolveDiscounts(context.Background(), ResolveDiscountsCommand{ShopID: testShop, Cart: singleLineCart(100, 1), CouponCode: "CAP"})
	if !errors.Is(err, ErrPromotionRepositoryUnavailable) {
		t.Fatalf("expected ErrPromotionRepositoryUnavailable got %v", err)
	}
}

func TestPromotionService_CouponCodesMatchExactly(t *testing.T) {
	svc := newPromotionServiceForTest(t, memory.NewPromotionRepository(shopCoupon("c10", "SAVE10", domain.PromotionFixed, 10)), memory.NewCouponLedger())
	ctx := context.Background()

	for _, code := range []string{" SAVE10 ", "save10"} {
		result, err := svc.ResolveDiscounts(ctx, ResolveDiscountsCommand{ShopID: testShop, Cart: singleLineCart(100, 1), CouponCode: code})
		if err != nil {
			t.Fatalf("ResolveDiscounts(%q): %v", code, err)
		}
		if result.TotalDiscount != 0 || result.RejectedCoupon == nil || result.RejectedCoupon.Reason != domain.RejectInvalidCode {
			t.Fatalf("expected %q to be an invalid code, got %+v", code, result)
		}

		redemption, err := svc.RedeemCoupon(ctx, RedeemCouponCommand{ShopID: testShop, Code: code, OrderID: "o-1"})
		if err != nil {
			t.Fatalf("RedeemCoupon(%q): %v", code, err)
		}
		if redemption.Redeemed || redemption.Reason != domain.RejectInvalidCode {
			t.Fatalf("expected %q redemption to be refused, got %+v", code, redemption)
		}
	}
}

func TestPromotionService_ResolveDiscounts_LogsUnknownTargets(t *testing.T) {
	odd := automaticDiscount("odd", domain.PromotionPercentage, 10)
	odd.ShopID = testShop
	odd.Scope.Target = domain.ScopeTarget("EVERYTHING")
	odd.Scope.CustomerTarget = domain.CustomerTarget("VIPS")

	var events []map[string]any
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: memory.NewPromotionRepository(odd),
		Ledger:     memory.NewCouponLedger(),
		Clock:      func() time.Time { return resolverNow },
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if event == "promotions.scope_unknown" {
				events = append(events, fields)
			}
		},
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}

	result, err := svc.ResolveDiscounts(context.Background(), ResolveDiscountsCommand{ShopID: testShop, Cart: singleLineCart(100, 1)})
	if err != nil {
		t.Fatalf("ResolveDiscounts: %v", err)
	}
	if result.TotalDiscount != 0 {
		t.Fatalf("expected unknown targets never to match, got %d", result.TotalDiscount)
	}
	if len(events) != 1 || events[0]["promotionId"] != "odd" {
		t.Fatalf("expected one scope_unknown event, got %+v", events)
	}
	fields, _ := events[0]["fields"].([]string)
	if len(fields) != 2 || fields[0] != "target" || fields[1] != "customerTarget" {
		t.Fatalf("unexpected fields %v", events[0]["fields"])
	}
}

func TestPromotionService_ResolveDiscounts_RequiresShop(t *testing.T) {
	svc := newPromotionServiceForTest(t, memory.NewPromotionRepository(), memory.NewCouponLedger())
	if _, err := svc.ResolveDiscounts(context.Background(), ResolveDiscountsCommand{}); !errors.Is(err, ErrPromotionInvalidInput) {
		t.Fatalf("expected ErrPromotionInvalidInput got %v", err)
	}
}

func TestPromotionService_ResolveDiscounts_RepositoryUnavailable(t *testing.T) {
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: &failingPromotionRepository{err: &stubRepoError{unavailable: true}},
		Ledger:     memory.NewCouponLedger(),
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	_, err = svc.ResolveDiscounts(context.Background(), ResolveDiscountsCommand{ShopID: testShop})
	if !errors.Is(err, ErrPromotionRepositoryUnavailable) {
		t.Fatalf("expected ErrPromotionRepositoryUnavailable got %v", err)
	}
}

func TestPromotionService_RedeemCoupon_ConcurrentSingleUse(t *testing.T) {
	single := shopCoupon("single", "SOLO", domain.PromotionFixed, 10)
	single.MaxUses = intPtr(1)
	ledger := memory.NewCouponLedger()
	svc := newPromotionServiceForTest(t, memory.NewPromotionRepository(single), ledger)

	const attempts = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		redeemed  int
		exhausted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.RedeemCoupon(context.Background(), RedeemCouponCommand{
				ShopID:  testShop,
				Code:    "SOLO",
				OrderID: "order-" + string(rune('a'+i)),
			})
			if err != nil {
				t.Errorf("RedeemCoupon: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Redeemed {
				redeemed++
			} else if res.Reason == domain.RejectExhausted {
				exhausted++
			}
		}(i)
	}
	wg.Wait()

	if redeemed != 1 || exhausted != attempts-1 {
		t.Fatalf("expected 1 redeemed and %d exhausted, got %d / %d", attempts-1, redeemed, exhausted)
	}
	used, err := ledger.Used(context.Background(), testShop, []string{"single"})
	if err != nil || used["single"] != 1 {
		t.Fatalf("expected used count 1 got %v (%v)", used, err)
	}
}

func TestPromotionService_RedeemCoupon_Refusals(t *testing.T) {
	expired := shopCoupon("expired", "OLD", domain.PromotionFixed, 10)
	expired.EndDate = timePtr(resolverNow.Add(-time.Minute))
	future := shopCoupon("future", "SOON", domain.PromotionFixed, 10)
	future.StartDate = timePtr(resolverNow.Add(time.Hour))
	inactive := shopCoupon("inactive", "OFF", domain.PromotionFixed, 10)
	inactive.IsActive = false

	svc := newPromotionServiceForTest(t, memory.NewPromotionRepository(expired, future, inactive), memory.NewCouponLedger())
	cases := map[string]domain.RejectionReason{
		"OLD":     domain.RejectExpired,
		"SOON":    domain.RejectNotStarted,
		"OFF":     domain.RejectInactive,
		"MISSING": domain.RejectInvalidCode,
	}
	for code, want := range cases {
		res, err := svc.RedeemCoupon(context.Background(), RedeemCouponCommand{ShopID: testShop, Code: code})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", code, err)
		}
		if res.Redeemed || res.Reason != want {
			t.Fatalf("%s: expected %s got %+v", code, want, res)
		}
	}
}

func TestPromotionService_RedeemCoupon_LedgerFailurePropagates(t *testing.T) {
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: memory.NewPromotionRepository(shopCoupon("c", "CODE", domain.PromotionFixed, 1)),
		Ledger:     &failingLedger{err: &stubRepoError{unavailable: true}},
		Clock:      func() time.Time { return resolverNow },
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	_, err = svc.RedeemCoupon(context.Background(), RedeemCouponCommand{ShopID: testShop, Code: "CODE"})
	if !errors.Is(err, ErrPromotionRepositoryUnavailable) {
		t.Fatalf("expected ErrPromotionRepositoryUnavailable got %v", err)
	}
}

func TestPromotionService_ValidatePromotionDefinition(t *testing.T) {
	svc := newPromotionServiceForTest(t, memory.NewPromotionRepository(), memory.NewCouponLedger())

	bad := automaticDiscount("bad", domain.PromotionBuyXGetY, 0)
	err := svc.ValidatePromotionDefinition(context.Background(), bad)
	if !errors.Is(err, ErrPromotionInvalidDefinition) {
		t.Fatalf("expected ErrPromotionInvalidDefinition got %v", err)
	}
	var validation *domain.ValidationError
	if !errors.As(err, &validation) || len(validation.Problems) == 0 {
		t.Fatalf("expected validation problems got %v", err)
	}

	good := automaticDiscount("good", domain.PromotionPercentage, 15)
	good.ShopID = testShop
	if err := svc.ValidatePromotionDefinition(context.Background(), good); err != nil {
		t.Fatalf("expected valid promotion got %v", err)
	}
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "repository failure" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type failingPromotionRepository struct {
	err error
}

func (r *failingPromotionRepository) ListActive(context.Context, string) ([]domain.Promotion, error) {
	return nil, r.err
}

func (r *failingPromotionRepository) FindByCode(context.Context, string, string) (domain.Promotion, error) {
	return domain.Promotion{}, r.err
}

type failingLedger struct {
	err error
}

func (l *failingLedger) Redeem(context.Context, repositories.RedemptionRequest) (int, error) {
	return 0, l.err
}

func (l *failingLedger) CustomerUsage(context.Context, string, string, []string) (map[string]int, error) {
	return nil, l.err
}

func (l *failingLedger) Used(context.Context, string, []string) (map[string]int, error) {
	return nil, l.err
}
