//go:build property

package services

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories/memory"
)

func generatedPromotions(priorities []int, ages []int, combinable []bool) []domain.Promotion {
	n := len(priorities)
	if len(ages) < n {
		n = len(ages)
	}
	if len(combinable) < n {
		n = len(combinable)
	}
	promos := make([]domain.Promotion, 0, n)
	for i := 0; i < n; i++ {
		p := automaticDiscount(fmt.Sprintf("promo-%02d", i), domain.PromotionPercentage, float64(5+i%20))
		p.Priority = priorities[i]
		p.CreatedAt = resolverNow.Add(-time.Duration(ages[i]) * time.Hour)
		p.CanCombine = combinable[i]
		promos = append(promos, p)
	}
	return promos
}

func shuffled(promos []domain.Promotion, seed int64) []domain.Promotion {
	out := append([]domain.Promotion(nil), promos...)
	rand.New(rand.NewSource(seed)).Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func promotionIDs(promos []domain.Promotion) []string {
	ids := make([]string, len(promos))
	for i, p := range promos {
		ids[i] = p.ID
	}
	return ids
}

func TestOrderPromotionsIgnoresInputOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ordering is a pure function of the promotion set", prop.ForAll(
		func(priorities []int, ages []int, combinable []bool, seed int64) bool {
			promos := generatedPromotions(priorities, ages, combinable)
			a := shuffled(promos, seed)
			b := shuffled(promos, seed+1)
			OrderPromotions(a)
			OrderPromotions(b)
			return reflect.DeepEqual(promotionIDs(a), promotionIDs(b))
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.SliceOf(gen.IntRange(0, 4)),
		gen.SliceOf(gen.Bool()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestResolveDiscountsBoundedAndDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("total discount stays within the subtotal regardless of order", prop.ForAll(
		func(priorities []int, combinable []bool, price int64, qty int, seed int64) bool {
			ages := make([]int, len(priorities))
			for i := range ages {
				ages[i] = i
			}
			promos := generatedPromotions(priorities, ages, combinable)
			cart := singleLineCart(price, qty)

			first := ResolveDiscounts(ResolveInput{Cart: cart, Promotions: shuffled(promos, seed), Now: resolverNow})
			second := ResolveDiscounts(ResolveInput{Cart: cart, Promotions: shuffled(promos, seed+7), Now: resolverNow})

			if first.TotalDiscount < 0 || first.TotalDiscount > price*int64(qty) {
				return false
			}
			return first.TotalDiscount == second.TotalDiscount &&
				reflect.DeepEqual(appliedIDs(first), appliedIDs(second))
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.SliceOf(gen.Bool()),
		gen.Int64Range(1, 50000),
		gen.IntRange(1, 10),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func appliedIDs(result domain.DiscountApplicationResult) []string {
	ids := make([]string, len(result.AppliedPromotions))
	for i, applied := range result.AppliedPromotions {
		ids[i] = applied.ID
	}
	return ids
}

func TestResyncCollectionConverges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a second resync with unchanged rules is a no-op", prop.ForAll(
		func(prices []int64, initial []bool, threshold int64) bool {
			catalog := memory.NewCatalogRepository()
			var members []domain.CollectionMember
			for i, price := range prices {
				id := fmt.Sprintf("p%03d", i)
				catalog.PutProduct(domain.Product{ID: id, ShopID: testShop, Title: id, Status: "active", Price: price})
				if i < len(initial) && initial[i] {
					members = append(members, domain.CollectionMember{ProductID: id, Position: len(members)})
				}
			}
			catalog.PutCollection(domain.Collection{ID: "coll", ShopID: testShop, Type: domain.CollectionAutomatic, Members: members})

			engine, err := NewCollectionRuleEngine(CollectionServiceDeps{
				Catalog:     catalog,
				Collections: catalog,
				Clock:       func() time.Time { return resolverNow },
			})
			if err != nil {
				return false
			}
			rules := domain.RuleTree{Combinator: domain.CombinatorAll, Conditions: []domain.RuleCondition{
				{Field: domain.RuleFieldPrice, Operator: domain.RuleGreaterThan, Value: fmt.Sprint(threshold)},
			}}
			ctx := context.Background()
			if _, err := engine.ResyncCollection(ctx, "coll", testShop, rules); err != nil {
				return false
			}
			second, err := engine.ResyncCollection(ctx, "coll", testShop, rules)
			if err != nil || !second.Diff.Empty() {
				return false
			}
			want, err := engine.ApplyCollectionRules(ctx, testShop, rules)
			if err != nil {
				return false
			}
			stored, err := catalog.Get(ctx, testShop, "coll")
			return err == nil && reflect.DeepEqual(memberIDs(stored.Members), want)
		},
		gen.SliceOf(gen.Int64Range(0, 10000)),
		gen.SliceOf(gen.Bool()),
		gen.Int64Range(0, 10000),
	))

	properties.TestingRun(t)
}
