//go:build integration

package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	pconfig "github.com/shopforge/engine/internal/platform/config"
	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
	"github.com/shopforge/engine/internal/platform/firestore/firestoretest"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories"
)

const itShop = "shop-it"

func newIntegrationProvider(t *testing.T, project string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	endpoint := firestoretest.Start(t)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestCouponLedgerIntegration(t *testing.T) {
	provider := newIntegrationProvider(t, "coupon-ledger-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		t.Fatalf("new promotion repository: %v", err)
	}
	ledger, err := NewCouponLedger(provider)
	if err != nil {
		t.Fatalf("new coupon ledger: %v", err)
	}

	maxUses, perCustomer := 2, 1
	if err := promotions.Put(ctx, domain.Promotion{
		ID: "welcome", ShopID: itShop, Type: domain.PromotionTypeCoupon, Code: "WELCOME10",
		Kind: domain.PromotionPercentage, Value: 10, IsActive: true,
		Scope: domain.ScopeSelector{Target: domain.ScopeAllProducts},
	}); err != nil {
		t.Fatalf("put promotion: %v", err)
	}
	found, err := promotions.FindByCode(ctx, itShop, "WELCOME10")
	if err != nil || found.ID != "welcome" {
		t.Fatalf("find by code: %+v %v", found, err)
	}
	if _, err := promotions.FindByCode(ctx, itShop, "welcome10"); !isNotFound(err) {
		t.Fatalf("expected codes to match exactly, got %v", err)
	}

	req := repositories.RedemptionRequest{
		ShopID: itShop, PromotionID: "welcome", CustomerID: "c1", OrderID: "o1",
		MaxUses: &maxUses, UsesPerCustomer: &perCustomer, RedeemedAt: time.Now(),
	}
	used, err := ledger.Redeem(ctx, req)
	if err != nil || used != 1 {
		t.Fatalf("first redeem: used=%d err=%v", used, err)
	}
	again, err := ledger.Redeem(ctx, req)
	if err != nil || again != 1 {
		t.Fatalf("replayed order should be idempotent: used=%d err=%v", again, err)
	}

	req.OrderID = "o2"
	if _, err := ledger.Redeem(ctx, req); repositories.CouponLedgerCode(err) != repositories.CouponLedgerCustomerLimit {
		t.Fatalf("expected customer limit, got %v", err)
	}

	req.CustomerID, req.OrderID = "c2", "o3"
	if _, err := ledger.Redeem(ctx, req); err != nil {
		t.Fatalf("second customer redeem: %v", err)
	}
	req.CustomerID, req.OrderID = "c3", "o4"
	if _, err := ledger.Redeem(ctx, req); repositories.CouponLedgerCode(err) != repositories.CouponLedgerExhausted {
		t.Fatalf("expected exhausted, got %v", err)
	}

	usage, err := ledger.CustomerUsage(ctx, itShop, "c1", []string{"welcome", "other"})
	if err != nil || usage["welcome"] != 1 || usage["other"] != 0 {
		t.Fatalf("customer usage: %v %v", usage, err)
	}
	totals, err := ledger.Used(ctx, itShop, []string{"welcome", "missing"})
	if err != nil || len(totals) != 1 || totals["welcome"] != 2 {
		t.Fatalf("used: %v %v", totals, err)
	}

	req.PromotionID, req.OrderID = "missing", "o5"
	if _, err := ledger.Redeem(ctx, req); repositories.CouponLedgerCode(err) != repositories.CouponLedgerNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogRepositoryIntegration(t *testing.T) {
	provider := newIntegrationProvider(t, "catalog-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	repo, err := NewCatalogRepository(provider)
	if err != nil {
		t.Fatalf("new catalog repository: %v", err)
	}
	for _, p := range []domain.Product{
		{ID: "p1", ShopID: itShop, Title: "Summer Dress", Tags: []string{"sale"}, Price: 4500},
		{ID: "p2", ShopID: itShop, Title: "Winter Coat", Price: 12000},
	} {
		if err := repo.PutProduct(ctx, p); err != nil {
			t.Fatalf("put product: %v", err)
		}
	}
	if err := repo.PutCollection(ctx, domain.Collection{
		ID: "summer", ShopID: itShop, Type: domain.CollectionAutomatic,
		Rules:   &domain.RuleTree{Combinator: domain.CombinatorAll},
		Members: []domain.CollectionMember{{ProductID: "p2", Position: 3}},
	}); err != nil {
		t.Fatalf("put collection: %v", err)
	}

	products, err := repo.ListProducts(ctx, itShop)
	if err != nil || len(products) != 2 || products[0].ID != "p1" {
		t.Fatalf("list products: %+v %v", products, err)
	}
	automatic, err := repo.ListAutomatic(ctx, itShop)
	if err != nil || len(automatic) != 1 {
		t.Fatalf("list automatic: %+v %v", automatic, err)
	}

	synced := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	diff, err := repo.SyncMembers(ctx, itShop, "summer", []string{"p1"}, synced)
	if err != nil {
		t.Fatalf("sync members: %v", err)
	}
	if len(diff.Insert) != 1 || diff.Insert[0].Position != 4 || len(diff.Delete) != 1 {
		t.Fatalf("unexpected diff %+v", diff)
	}
	again, err := repo.SyncMembers(ctx, itShop, "summer", []string{"p1"}, synced)
	if err != nil || !again.Empty() {
		t.Fatalf("second sync should be empty: %+v %v", again, err)
	}
	stored, err := repo.Get(ctx, itShop, "summer")
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if len(stored.Members) != 1 || stored.Members[0].ProductID != "p1" || stored.SyncedAt == nil {
		t.Fatalf("unexpected stored collection %+v", stored)
	}
	if _, err := repo.Get(ctx, itShop, "missing"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAutomationRepositoryIntegration(t *testing.T) {
	provider := newIntegrationProvider(t, "automation-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	repo, err := NewAutomationRepository(provider)
	if err != nil {
		t.Fatalf("new automation repository: %v", err)
	}
	for _, a := range []domain.Automation{
		{ID: "b", ShopID: itShop, IsActive: true, Trigger: domain.AutomationTrigger{EventType: "order.created"}},
		{ID: "a", ShopID: itShop, IsActive: true, Trigger: domain.AutomationTrigger{EventType: "order.created", Filters: map[string]any{"channel": "web"}}},
		{ID: "c", ShopID: itShop, IsActive: false, Trigger: domain.AutomationTrigger{EventType: "order.created"}},
	} {
		if err := repo.Put(ctx, a); err != nil {
			t.Fatalf("put automation: %v", err)
		}
	}
	active, err := repo.ListActiveByEvent(ctx, itShop, "order.created")
	if err != nil || len(active) != 2 || active[0].ID != "a" || active[0].Trigger.Filters["channel"] != "web" {
		t.Fatalf("list active: %+v %v", active, err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		if err := repo.Append(ctx, domain.AutomationRunLog{
			ID: id, ShopID: itShop, AutomationID: "a", Status: domain.RunStatusSuccess,
			TriggeredAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append run log: %v", err)
		}
	}

	first, err := repo.List(ctx, itShop, "a", domain.Pagination{PageSize: 2})
	if err != nil || len(first.Items) != 2 || first.Items[0].ID != "r5" || first.NextPageToken == "" {
		t.Fatalf("first page: %+v %v", first, err)
	}
	second, err := repo.List(ctx, itShop, "a", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	if err != nil || len(second.Items) != 2 || second.Items[0].ID != "r3" {
		t.Fatalf("second page: %+v %v", second, err)
	}

	deleted, err := repo.Trim(ctx, itShop, "a", 3)
	if err != nil || deleted != 2 {
		t.Fatalf("trim: deleted=%d err=%v", deleted, err)
	}
	rest, err := repo.List(ctx, itShop, "a", domain.Pagination{PageSize: 10})
	if err != nil || len(rest.Items) != 3 || rest.Items[2].ID != "r3" || rest.NextPageToken != "" {
		t.Fatalf("after trim: %+v %v", rest, err)
	}
}

func TestEntityWriterIntegration(t *testing.T) {
	provider := newIntegrationProvider(t, "entity-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	writer, err := NewEntityWriter(provider, nil)
	if err != nil {
		t.Fatalf("new entity writer: %v", err)
	}
	if err := writer.Create(ctx, itShop, "ticket", "t1", map[string]any{"subject": "late order"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := writer.Create(ctx, itShop, "ticket", "t1", map[string]any{}); !isConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
	if err := writer.Update(ctx, itShop, "ticket", "t1", map[string]any{"status": "open"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := writer.Update(ctx, itShop, "ticket", "missing", map[string]any{"status": "open"}); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	events, err := NewEventStore(provider)
	if err != nil {
		t.Fatalf("new event store: %v", err)
	}
	event := domain.ShopEvent{ID: "e1", ShopID: itShop, Type: "ticket.created", Payload: map[string]any{"id": "t1"}, CreatedAt: time.Now()}
	if err := events.Append(ctx, event); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := events.Append(ctx, event); !isConflict(err) {
		t.Fatalf("events must not be overwritten, got %v", err)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
