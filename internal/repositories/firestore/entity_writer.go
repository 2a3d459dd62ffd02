package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
)

const entityItemsCollection = "items"

// EntityWriter stores automation-created entities at shops/{shopId}/entities/{type}/items/{id}.
type EntityWriter struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

// NewEntityWriter constructs a Firestore-backed entity writer.
func NewEntityWriter(provider *pfirestore.Provider, clock func() time.Time) (*EntityWriter, error) {
	if provider == nil {
		return nil, errors.New("entity writer requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &EntityWriter{provider: provider, clock: func() time.Time { return clock().UTC() }}, nil
}

// Create implements repositories.EntityWriter. Writing an existing id is a conflict.
func (w *EntityWriter) Create(ctx context.Context, shopID, entityType, entityID string, data map[string]any) error {
	ref, err := w.doc(ctx, shopID, entityType, entityID)
	if err != nil {
		return err
	}
	now := w.clock()
	doc := make(map[string]any, len(data)+2)
	for k, v := range data {
		doc[k] = v
	}
	doc["createdAt"] = now
	doc["updatedAt"] = now
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("entities.create", err)
	}
	return nil
}

// Update implements repositories.EntityWriter. Only the supplied top-level fields change; a
// missing entity surfaces as not found.
func (w *EntityWriter) Update(ctx context.Context, shopID, entityType, entityID string, data map[string]any) error {
	ref, err := w.doc(ctx, shopID, entityType, entityID)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	updates := make([]firestore.Update, 0, len(keys)+1)
	for _, k := range keys {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: data[k]})
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: w.clock()})
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("entities.update", err)
	}
	return nil
}

func (w *EntityWriter) doc(ctx context.Context, shopID, entityType, entityID string) (*firestore.DocumentRef, error) {
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" || strings.Contains(entityType, "/") || strings.Contains(entityID, "/") {
		return nil, pfirestore.WrapError("entities.document", errors.New("entity type and id must be non-empty path segments"))
	}
	shop, err := w.provider.Shop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return shop.Collection(entitiesCollection).Doc(entityType).Collection(entityItemsCollection).Doc(entityID), nil
}
