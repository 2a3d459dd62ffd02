package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/shopforge/engine/internal/domain"
	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
)

// PromotionRepository reads promotions and discount settings from shops/{shopId}.
type PromotionRepository struct {
	promotions *pfirestore.ShopCollection[promotionDocument]
	settings   *pfirestore.ShopCollection[discountSettingsDocument]
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		promotions: pfirestore.NewShopCollection[promotionDocument](provider, promotionsCollection, nil),
		settings:   pfirestore.NewShopCollection[discountSettingsDocument](provider, settingsCollection, nil),
	}, nil
}

// Put writes a promotion document. Used by seeding and tests; the CRUD layer owns authoring.
func (r *PromotionRepository) Put(ctx context.Context, promotion domain.Promotion) error {
	return r.promotions.Set(ctx, promotion.ShopID, promotion.ID, promotionToDocument(promotion))
}

// ListActive implements repositories.PromotionRepository.
func (r *PromotionRepository) ListActive(ctx context.Context, shopID string) ([]domain.Promotion, error) {
	docs, err := r.promotions.Query(ctx, shopID, func(q firestore.Query) firestore.Query {
		return q.Where("isActive", "==", true)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Promotion, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(shopID, doc.ID))
	}
	return out, nil
}

// FindByCode implements repositories.PromotionRepository. Codes match exactly.
func (r *PromotionRepository) FindByCode(ctx context.Context, shopID, code string) (domain.Promotion, error) {
	if strings.TrimSpace(code) == "" {
		return domain.Promotion{}, pfirestore.NotFound("promotions.find_by_code", "coupon code is empty")
	}
	docs, err := r.promotions.Query(ctx, shopID, func(q firestore.Query) firestore.Query {
		return q.Where("type", "==", string(domain.PromotionTypeCoupon)).Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.NotFound("promotions.find_by_code", "coupon %q not found", code)
	}
	return docs[0].Data.toDomain(shopID, docs[0].ID), nil
}

// CustomerDiscount implements repositories.SettingsRepository.
func (r *PromotionRepository) CustomerDiscount(ctx context.Context, shopID string) (domain.CustomerDiscountSettings, error) {
	doc, err := r.settings.Get(ctx, shopID, discountSettingsDoc)
	if err != nil {
		return domain.CustomerDiscountSettings{}, err
	}
	return domain.CustomerDiscountSettings{Enabled: doc.Data.Enabled, Percent: doc.Data.Percent}, nil
}

// PutCustomerDiscount writes the shop's customer discount settings.
func (r *PromotionRepository) PutCustomerDiscount(ctx context.Context, shopID string, settings domain.CustomerDiscountSettings) error {
	return r.settings.Set(ctx, shopID, discountSettingsDoc, discountSettingsDocument{Enabled: settings.Enabled, Percent: settings.Percent})
}
