package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shopforge/engine/internal/domain"
	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
)

// CatalogRepository serves the product snapshot and collection memberships from Firestore.
// Rule trees are evaluated in memory by the collection engine.
type CatalogRepository struct {
	provider    *pfirestore.Provider
	products    *pfirestore.ShopCollection[productDocument]
	collections *pfirestore.ShopCollection[collectionDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider:    provider,
		products:    pfirestore.NewShopCollection[productDocument](provider, productsCollection, nil),
		collections: pfirestore.NewShopCollection[collectionDocument](provider, collectionsCollection, nil),
	}, nil
}

// PutProduct writes a product snapshot.
func (r *CatalogRepository) PutProduct(ctx context.Context, product domain.Product) error {
	return r.products.Set(ctx, product.ShopID, product.ID, productToDocument(product))
}

// PutCollection writes a collection document including its members.
func (r *CatalogRepository) PutCollection(ctx context.Context, collection domain.Collection) error {
	return r.collections.Set(ctx, collection.ShopID, collection.ID, collectionToDocument(collection))
}

// ListProducts implements repositories.CatalogRepository.
func (r *CatalogRepository) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	docs, err := r.products.Query(ctx, shopID, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(shopID, doc.ID))
	}
	return out, nil
}

// Get implements repositories.CollectionRepository.
func (r *CatalogRepository) Get(ctx context.Context, shopID, collectionID string) (domain.Collection, error) {
	doc, err := r.collections.Get(ctx, shopID, collectionID)
	if err != nil {
		return domain.Collection{}, err
	}
	return doc.Data.toDomain(shopID, doc.ID), nil
}

// ListAutomatic implements repositories.CollectionRepository.
func (r *CatalogRepository) ListAutomatic(ctx context.Context, shopID string) ([]domain.Collection, error) {
	docs, err := r.collections.Query(ctx, shopID, func(q firestore.Query) firestore.Query {
		return q.Where("type", "==", string(domain.CollectionAutomatic))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Collection, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(shopID, doc.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SyncMembers implements repositories.CollectionRepository. The diff is computed against the
// members read inside the transaction, so a concurrent resync is retried rather than merged.
func (r *CatalogRepository) SyncMembers(ctx context.Context, shopID, collectionID string, productIDs []string, syncedAt time.Time) (domain.MembershipDiff, error) {
	var diff domain.MembershipDiff
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.collections.Doc(ctx, shopID, collectionID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		decoded, err := r.collections.Decode(snap)
		if err != nil {
			return err
		}
		current := decoded.Data.toDomain(shopID, collectionID)
		if current.Type != domain.CollectionAutomatic {
			return fmt.Errorf("collection %s is not automatic", collectionID)
		}

		diff = domain.DiffMembership(current.Members, productIDs)
		drop := make(map[string]struct{}, len(diff.Delete))
		for _, id := range diff.Delete {
			drop[id] = struct{}{}
		}
		members := make([]domain.CollectionMember, 0, len(current.Members)+len(diff.Insert))
		seen := make(map[string]struct{}, len(current.Members))
		for _, m := range current.Members {
			if _, ok := drop[m.ProductID]; ok {
				continue
			}
			if _, dup := seen[m.ProductID]; dup {
				continue
			}
			seen[m.ProductID] = struct{}{}
			members = append(members, m)
		}
		members = append(members, diff.Insert...)

		synced := syncedAt.UTC()
		return tx.Update(ref, []firestore.Update{
			{Path: "members", Value: membersToDocument(members)},
			{Path: "syncedAt", Value: synced},
			{Path: "updatedAt", Value: synced},
		})
	}, pfirestore.WithTxLabel("collections.sync_members"))
	if err != nil {
		return domain.MembershipDiff{}, pfirestore.WrapError("collections.sync_members", err)
	}
	return diff, nil
}
