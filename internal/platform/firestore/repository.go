package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded Firestore document with its metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates the typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// ShopCollection gives typed access to one collection below shops/{shopId}.
type ShopCollection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewShopCollection binds a subcollection name. A nil decoder uses DataTo.
func NewShopCollection[T any](provider *Provider, name string, decode Decoder[T]) *ShopCollection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &ShopCollection[T]{provider: provider, name: strings.TrimSpace(name), decode: decode}
}

// Ref returns the collection reference for the shop.
func (c *ShopCollection[T]) Ref(ctx context.Context, shopID string) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	shop, err := c.provider.Shop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return shop.Collection(c.name), nil
}

// Doc returns the document reference for id inside the shop's collection.
func (c *ShopCollection[T]) Doc(ctx context.Context, shopID, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.Ref(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Set upserts a document.
func (c *ShopCollection[T]) Set(ctx context.Context, shopID, id string, value any, opts ...firestore.SetOption) error {
	doc, err := c.Doc(ctx, shopID, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value, opts...); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Create writes a document that must not exist yet.
func (c *ShopCollection[T]) Create(ctx context.Context, shopID, id string, value any) error {
	doc, err := c.Doc(ctx, shopID, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, value); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Get fetches and decodes a document.
func (c *ShopCollection[T]) Get(ctx context.Context, shopID, id string) (Document[T], error) {
	doc, err := c.Doc(ctx, shopID, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.Decode(snapshot)
}

// Query runs a query against the shop's collection and decodes every result.
func (c *ShopCollection[T]) Query(ctx context.Context, shopID string, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.Ref(ctx, shopID)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		decoded, err := c.Decode(snapshot)
		if err != nil {
			return nil, err
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// Decode converts a snapshot into a typed document.
func (c *ShopCollection[T]) Decode(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := c.decode(snapshot)
	if err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snapshot.Ref.ID, err)
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (c *ShopCollection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
