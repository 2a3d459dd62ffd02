package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
)

// CatalogRepository holds products and collections for a set of shops.
type CatalogRepository struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	collections map[string]domain.Collection
}

// NewCatalogRepository returns an empty catalog.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		products:    make(map[string]domain.Product),
		collections: make(map[string]domain.Collection),
	}
}

// PutProduct inserts or replaces a product.
func (r *CatalogRepository) PutProduct(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[shopKey(p.ShopID, p.ID)] = p
}

// DeleteProduct removes a product.
func (r *CatalogRepository) DeleteProduct(shopID, productID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, shopKey(shopID, productID))
}

// PutCollection inserts or replaces a collection.
func (r *CatalogRepository) PutCollection(c domain.Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Members = append([]domain.CollectionMember(nil), c.Members...)
	r.collections[shopKey(c.ShopID, c.ID)] = c
}

// ListProducts implements repositories.CatalogRepository.
func (r *CatalogRepository) ListProducts(_ context.Context, shopID string) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Product
	for _, p := range r.products {
		if p.ShopID == shopID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements repositories.CollectionRepository.
func (r *CatalogRepository) Get(_ context.Context, shopID, collectionID string) (domain.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[shopKey(shopID, collectionID)]
	if !ok {
		return domain.Collection{}, notFound("collections.get", "collection %q not found", collectionID)
	}
	c.Members = append([]domain.CollectionMember(nil), c.Members...)
	return c, nil
}

// ListAutomatic implements repositories.CollectionRepository.
func (r *CatalogRepository) ListAutomatic(_ context.Context, shopID string) ([]domain.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Collection
	for _, c := range r.collections {
		if c.ShopID == shopID && c.Type == domain.CollectionAutomatic {
			c.Members = append([]domain.CollectionMember(nil), c.Members...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SyncMembers implements repositories.CollectionRepository. The whole diff is applied under one lock.
func (r *CatalogRepository) SyncMembers(_ context.Context, shopID, collectionID string, productIDs []string, syncedAt time.Time) (domain.MembershipDiff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := shopKey(shopID, collectionID)
	c, ok := r.collections[key]
	if !ok {
		return domain.MembershipDiff{}, notFound("collections.sync_members", "collection %q not found", collectionID)
	}

	diff := domain.DiffMembership(c.Members, productIDs)
	stale := make(map[string]struct{}, len(diff.Delete))
	for _, id := range diff.Delete {
		stale[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(c.Members))
	members := make([]domain.CollectionMember, 0, len(c.Members)+len(diff.Insert))
	for _, m := range c.Members {
		if _, drop := stale[m.ProductID]; drop {
			continue
		}
		if _, dup := seen[m.ProductID]; dup {
			continue
		}
		seen[m.ProductID] = struct{}{}
		members = append(members, m)
	}
	members = append(members, diff.Insert...)

	c.Members = members
	synced := syncedAt.UTC()
	c.SyncedAt = &synced
	r.collections[key] = c
	return diff, nil
}
