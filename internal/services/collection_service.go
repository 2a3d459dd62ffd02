package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories"
)

// CollectionServiceDeps bundles the dependencies of the collection rule engine.
type CollectionServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Collections repositories.CollectionRepository
	Clock       func() time.Time
	Logger      Logger
	Metrics     Metrics
}

type collectionService struct {
	catalog     repositories.CatalogRepository
	collections repositories.CollectionRepository
	clock       func() time.Time
	logger      Logger
	metrics     Metrics
}

// NewCollectionRuleEngine constructs the rule engine. Catalog backends implementing
// repositories.RuleQuerier evaluate rule trees natively; others are filtered in memory.
func NewCollectionRuleEngine(deps CollectionServiceDeps) (CollectionRuleEngine, error) {
	if deps.Catalog == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	if deps.Collections == nil {
		return nil, ErrCollectionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &collectionService{
		catalog:     deps.Catalog,
		collections: deps.Collections,
		clock:       func() time.Time { return clock().UTC() },
		logger:      loggerOrNoop(deps.Logger),
		metrics:     metricsOrNoop(deps.Metrics),
	}, nil
}

func (s *collectionService) ApplyCollectionRules(ctx context.Context, shopID string, rules RuleTree) ([]string, error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return nil, fmt.Errorf("%w: shop id is required", ErrCollectionInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "collections.apply_rules", trace.WithAttributes(
		attribute.String("shop.id", shopID),
		attribute.Int("rules.conditions", len(rules.Conditions)),
	))
	defer span.End()

	if len(rules.Conditions) == 0 {
		return []string{}, nil
	}

	if querier, ok := s.catalog.(repositories.RuleQuerier); ok {
		if err := domain.ValidateRuleTree(rules); err != nil {
			// A native query cannot skip a single bad leaf, so fall back to the compiled predicate.
			s.logger(ctx, "collections.rules_invalid", map[string]any{"shopId": shopID, "error": err.Error()})
		} else {
			ids, err := querier.MatchProductIDs(ctx, shopID, rules)
			if err != nil {
				return nil, wrapUnavailable(err, ErrCollectionRepositoryUnavailable)
			}
			return normalizeIDs(ids), nil
		}
	}

	predicate, warnings := CompileRuleTree(rules)
	for _, w := range warnings {
		s.logger(ctx, "collections.rule_skipped", map[string]any{
			"shopId":    shopID,
			"condition": w.Index,
			"reason":    w.Reason,
		})
	}

	products, err := s.catalog.ListProducts(ctx, shopID)
	if err != nil {
		return nil, wrapUnavailable(err, ErrCollectionRepositoryUnavailable)
	}
	ids := make([]string, 0, len(products))
	for _, product := range products {
		if predicate(product) {
			ids = append(ids, product.ID)
		}
	}
	return normalizeIDs(ids), nil
}

func (s *collectionService) ResyncCollection(ctx context.Context, collectionID, shopID string, rules RuleTree) (ResyncResult, error) {
	collectionID = strings.TrimSpace(collectionID)
	shopID = strings.TrimSpace(shopID)
	if collectionID == "" || shopID == "" {
		return ResyncResult{}, fmt.Errorf("%w: collection id and shop id are required", ErrCollectionInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "collections.resync", trace.WithAttributes(
		attribute.String("shop.id", shopID),
		attribute.String("collection.id", collectionID),
	))
	defer span.End()

	collection, err := s.collections.Get(ctx, shopID, collectionID)
	if err != nil {
		if isNotFound(err) {
			return ResyncResult{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return ResyncResult{}, wrapUnavailable(err, ErrCollectionRepositoryUnavailable)
	}
	if collection.Type != domain.CollectionAutomatic {
		return ResyncResult{}, fmt.Errorf("%w: %s", ErrCollectionNotAutomatic, collectionID)
	}

	matching, err := s.ApplyCollectionRules(ctx, shopID, rules)
	if err != nil {
		return ResyncResult{}, err
	}

	diff, err := s.collections.SyncMembers(ctx, shopID, collectionID, matching, s.clock())
	if err != nil {
		if isNotFound(err) {
			return ResyncResult{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return ResyncResult{}, wrapUnavailable(err, ErrCollectionRepositoryUnavailable)
	}

	s.logger(ctx, "collections.resynced", map[string]any{
		"shopId":       shopID,
		"collectionId": collectionID,
		"members":      len(matching),
		"inserted":     len(diff.Insert),
		"deleted":      len(diff.Delete),
	})
	s.metrics.ResyncChanges(ctx, shopID, len(diff.Insert), len(diff.Delete))
	return ResyncResult{CollectionID: collectionID, Members: matching, Diff: diff}, nil
}

func (s *collectionService) ResyncShop(ctx context.Context, shopID string) ([]ResyncResult, error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return nil, fmt.Errorf("%w: shop id is required", ErrCollectionInvalidInput)
	}
	collections, err := s.collections.ListAutomatic(ctx, shopID)
	if err != nil {
		return nil, wrapUnavailable(err, ErrCollectionRepositoryUnavailable)
	}

	results := make([]ResyncResult, 0, len(collections))
	for _, collection := range collections {
		var rules RuleTree
		if collection.Rules != nil {
			rules = *collection.Rules
		}
		result, err := s.ResyncCollection(ctx, collection.ID, shopID, rules)
		if err != nil {
			return results, fmt.Errorf("resync collection %s: %w", collection.ID, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
