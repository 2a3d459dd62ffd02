package domain

import (
	"sort"
	"time"
)

// Product is the catalog snapshot evaluated by scope selectors and collection rules.
type Product struct {
	ID                string
	ShopID            string
	Title             string
	ProductType       string
	Vendor            string
	Tags              []string
	Status            string
	Price             int64
	CompareAtPrice    int64
	InventoryQuantity int
	WeightGrams       int
	CategoryIDs       []string
	CollectionIDs     []string
	CreatedAt         time.Time
}

// CollectionType distinguishes curated from rule-derived collections.
type CollectionType string

const (
	CollectionManual    CollectionType = "MANUAL"
	CollectionAutomatic CollectionType = "AUTOMATIC"
)

// RuleCombinator joins the leaf conditions of a rule tree.
type RuleCombinator string

const (
	CombinatorAny RuleCombinator = "ANY"
	CombinatorAll RuleCombinator = "ALL"
)

// RuleField names the product attribute a collection rule inspects.
type RuleField string

const (
	RuleFieldTitle             RuleField = "title"
	RuleFieldProductType       RuleField = "product_type"
	RuleFieldVendor            RuleField = "vendor"
	RuleFieldTag               RuleField = "tag"
	RuleFieldStatus            RuleField = "status"
	RuleFieldPrice             RuleField = "price"
	RuleFieldCompareAtPrice    RuleField = "compare_at_price"
	RuleFieldInventoryQuantity RuleField = "inventory_quantity"
	RuleFieldWeight            RuleField = "weight"
	RuleFieldCategoryID        RuleField = "category_id"
)

// Numeric reports whether the field holds a number.
func (f RuleField) Numeric() bool {
	switch f {
	case RuleFieldPrice, RuleFieldCompareAtPrice, RuleFieldInventoryQuantity, RuleFieldWeight:
		return true
	}
	return false
}

// MultiValued reports whether the field holds a set of values.
func (f RuleField) MultiValued() bool {
	return f == RuleFieldTag || f == RuleFieldCategoryID
}

// RuleOperator compares a product field against a rule value.
type RuleOperator string

const (
	RuleEquals      RuleOperator = "equals"
	RuleNotEquals   RuleOperator = "not_equals"
	RuleGreaterThan RuleOperator = "greater_than"
	RuleLessThan    RuleOperator = "less_than"
	RuleContains    RuleOperator = "contains"
	RuleNotContains RuleOperator = "not_contains"
	RuleStartsWith  RuleOperator = "starts_with"
	RuleEndsWith    RuleOperator = "ends_with"
)

// RuleCondition is one leaf of a collection rule tree. Value is kept as text; numeric
// fields carry a decimal integer.
type RuleCondition struct {
	Field    RuleField
	Operator RuleOperator
	Value    string
}

// RuleTree is the declarative membership rule of an automatic collection.
type RuleTree struct {
	Combinator RuleCombinator
	Conditions []RuleCondition
}

// CollectionMember links a product to a collection at a display position.
type CollectionMember struct {
	ProductID string
	Position  int
}

// Collection groups products either manually or through a rule tree.
type Collection struct {
	ID        string
	ShopID    string
	Title     string
	Type      CollectionType
	Rules     *RuleTree
	Members   []CollectionMember
	SyncedAt  *time.Time
	UpdatedAt time.Time
}

// MembershipDiff is the change set that brings stored members to a desired match set.
type MembershipDiff struct {
	Insert []CollectionMember
	Delete []string
}

// Empty reports whether the diff carries no changes.
func (d MembershipDiff) Empty() bool {
	return len(d.Insert) == 0 && len(d.Delete) == 0
}

// DiffMembership computes the inserts and deletes needed for current to equal desired.
// Retained members keep their position; new members are appended after the highest
// existing position in ascending product id order. The result is deterministic, so applying
// it and recomputing yields an empty diff.
func DiffMembership(current []CollectionMember, desired []string) MembershipDiff {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if id != "" {
			want[id] = struct{}{}
		}
	}

	have := make(map[string]struct{}, len(current))
	maxPos := -1
	var diff MembershipDiff
	for _, member := range current {
		if _, seen := have[member.ProductID]; seen {
			continue
		}
		have[member.ProductID] = struct{}{}
		if _, ok := want[member.ProductID]; !ok {
			diff.Delete = append(diff.Delete, member.ProductID)
			continue
		}
		if member.Position > maxPos {
			maxPos = member.Position
		}
	}

	missing := make([]string, 0)
	for id := range want {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for i, id := range missing {
		diff.Insert = append(diff.Insert, CollectionMember{ProductID: id, Position: maxPos + 1 + i})
	}
	sort.Strings(diff.Delete)
	return diff
}
