package services

import domain "github.com/shopforge/engine/internal/domain"

// ProductRef is the part of a product a scope selector inspects.
type ProductRef struct {
	ID            string
	CategoryIDs   []string
	CollectionIDs []string
}

// MatchesScope reports whether the product is eligible under the scope selector. Any overlap with
// an excluded id list vetoes the product whatever the target.
func MatchesScope(scope domain.ScopeSelector, product ProductRef) bool {
	if contains(scope.ExcludedProductIDs, product.ID) ||
		intersects(scope.ExcludedCategoryIDs, product.CategoryIDs) ||
		intersects(scope.ExcludedCollectionIDs, product.CollectionIDs) {
		return false
	}

	switch scope.Target {
	case domain.ScopeAllProducts:
		return true
	case domain.ScopeSpecificProducts:
		return contains(scope.InclusionIDs, product.ID)
	case domain.ScopeSpecificCategories:
		return intersects(scope.InclusionIDs, product.CategoryIDs)
	case domain.ScopeSpecificCollections:
		return intersects(scope.InclusionIDs, product.CollectionIDs)
	case domain.ScopeExcludeProducts:
		return !contains(scope.InclusionIDs, product.ID)
	case domain.ScopeExcludeCategories:
		return !intersects(scope.InclusionIDs, product.CategoryIDs)
	case domain.ScopeExcludeCollections:
		return !intersects(scope.InclusionIDs, product.CollectionIDs)
	}
	return false
}

// MatchesCustomer reports whether the customer passes the selector's customer target. A nil
// customer is a guest.
func MatchesCustomer(scope domain.ScopeSelector, customer *domain.CustomerRef) bool {
	switch scope.CustomerTarget {
	case domain.CustomersAll, "":
		return true
	case domain.CustomersRegistered:
		return customer != nil && customer.Registered()
	case domain.CustomersSpecific:
		return customer != nil && customer.Registered() && contains(scope.CustomerIDs, customer.ID)
	case domain.CustomersTiers:
		return customer != nil && customer.Tier != "" && contains(scope.CustomerTiers, customer.Tier)
	}
	return false
}

// UnknownScopeTargets names the selector fields whose value neither matcher recognises. A product
// target listed here never matches any product; a customer target never matches any customer.
func UnknownScopeTargets(scope domain.ScopeSelector) []string {
	var fields []string
	if !scope.Target.Valid() {
		fields = append(fields, "target")
	}
	if scope.CustomerTarget != "" && !scope.CustomerTarget.Valid() {
		fields = append(fields, "customerTarget")
	}
	return fields
}

func lineProduct(line domain.CartLine) ProductRef {
	return ProductRef{ID: line.ProductID, CategoryIDs: line.CategoryIDs, CollectionIDs: line.CollectionIDs}
}

func contains(list []string, id string) bool {
	if id == "" {
		return false
	}
	for _, item := range list {
		if item == id {
			return true
		}
	}
	return false
}

func intersects(list, ids []string) bool {
	for _, id := range ids {
		if contains(list, id) {
			return true
		}
	}
	return false
}
