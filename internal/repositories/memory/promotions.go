package memory

import (
	"context"
	"sync"

	domain "github.com/shopforge/engine/internal/domain"
)

// PromotionRepository keeps promotions and customer discount settings in memory.
type PromotionRepository struct {
	mu         sync.RWMutex
	promotions map[string]domain.Promotion
	settings   map[string]domain.CustomerDiscountSettings
}

// NewPromotionRepository returns a repository seeded with the given promotions.
func NewPromotionRepository(promotions ...domain.Promotion) *PromotionRepository {
	repo := &PromotionRepository{
		promotions: make(map[string]domain.Promotion),
		settings:   make(map[string]domain.CustomerDiscountSettings),
	}
	for _, p := range promotions {
		repo.Put(p)
	}
	return repo
}

// Put inserts or replaces a promotion.
func (r *PromotionRepository) Put(p domain.Promotion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promotions[shopKey(p.ShopID, p.ID)] = p
}

// PutCustomerDiscount stores the shop's customer discount settings.
func (r *PromotionRepository) PutCustomerDiscount(shopID string, settings domain.CustomerDiscountSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[shopID] = settings
}

// ListActive implements repositories.PromotionRepository.
func (r *PromotionRepository) ListActive(_ context.Context, shopID string) ([]domain.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Promotion
	for _, p := range r.promotions {
		if p.ShopID == shopID && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindByCode implements repositories.PromotionRepository.
func (r *PromotionRepository) FindByCode(_ context.Context, shopID, code string) (domain.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.promotions {
		if p.ShopID == shopID && p.IsCoupon() && p.Code == code {
			return p, nil
		}
	}
	return domain.Promotion{}, notFound("promotions.find_by_code", "coupon %q not found", code)
}

// CustomerDiscount implements repositories.SettingsRepository.
func (r *PromotionRepository) CustomerDiscount(_ context.Context, shopID string) (domain.CustomerDiscountSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	settings, ok := r.settings[shopID]
	if !ok {
		return domain.CustomerDiscountSettings{}, notFound("settings.customer_discount", "shop %q has no settings", shopID)
	}
	return settings, nil
}
