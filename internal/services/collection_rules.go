package services

import (
	"fmt"
	"strconv"
	"strings"

	domain "github.com/shopforge/engine/internal/domain"
)

// ProductPredicate reports whether a product satisfies a compiled rule tree.
type ProductPredicate func(domain.Product) bool

// RuleWarning describes a rule condition that could not be compiled and therefore never matches.
type RuleWarning struct {
	Index  int
	Reason string
}

// CompileRuleTree turns a rule tree into a product predicate. Text comparisons ignore case;
// tag and category_id match when any of the product's values satisfies the operator, except
// not_equals and not_contains which require that none does. A tree without conditions matches
// nothing. Conditions that are malformed compile to a predicate that never matches and are
// reported as warnings.
func CompileRuleTree(tree domain.RuleTree) (ProductPredicate, []RuleWarning) {
	if len(tree.Conditions) == 0 {
		return func(domain.Product) bool { return false }, nil
	}

	var warnings []RuleWarning
	leaves := make([]ProductPredicate, 0, len(tree.Conditions))
	for i, cond := range tree.Conditions {
		leaf, err := compileCondition(cond)
		if err != nil {
			warnings = append(warnings, RuleWarning{Index: i, Reason: err.Error()})
			leaf = func(domain.Product) bool { return false }
		}
		leaves = append(leaves, leaf)
	}

	if tree.Combinator == domain.CombinatorAll {
		return func(p domain.Product) bool {
			for _, leaf := range leaves {
				if !leaf(p) {
					return false
				}
			}
			return true
		}, warnings
	}
	if tree.Combinator != domain.CombinatorAny {
		warnings = append(warnings, RuleWarning{Index: -1, Reason: fmt.Sprintf("unknown combinator %q", tree.Combinator)})
		return func(domain.Product) bool { return false }, warnings
	}
	return func(p domain.Product) bool {
		for _, leaf := range leaves {
			if leaf(p) {
				return true
			}
		}
		return false
	}, warnings
}

func compileCondition(cond domain.RuleCondition) (ProductPredicate, error) {
	if !cond.Field.Valid() {
		return nil, fmt.Errorf("unknown field %q", cond.Field)
	}
	if !cond.Operator.Valid() {
		return nil, fmt.Errorf("unknown operator %q", cond.Operator)
	}

	if cond.Field.Numeric() {
		want, err := strconv.ParseInt(strings.TrimSpace(cond.Value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s needs an integer value, got %q", cond.Field, cond.Value)
		}
		cmp, err := numericComparison(cond.Operator)
		if err != nil {
			return nil, err
		}
		get := numericGetter(cond.Field)
		return func(p domain.Product) bool { return cmp(get(p), want) }, nil
	}

	want := strings.ToLower(cond.Value)
	if cond.Field.MultiValued() {
		positive, negated := cond.Operator, false
		switch cond.Operator {
		case domain.RuleNotEquals:
			positive, negated = domain.RuleEquals, true
		case domain.RuleNotContains:
			positive, negated = domain.RuleContains, true
		}
		match, err := textComparison(positive)
		if err != nil {
			return nil, err
		}
		get := multiGetter(cond.Field)
		return func(p domain.Product) bool {
			for _, v := range get(p) {
				if match(strings.ToLower(v), want) {
					return !negated
				}
			}
			return negated
		}, nil
	}

	match, err := textComparison(cond.Operator)
	if err != nil {
		return nil, err
	}
	get := textGetter(cond.Field)
	return func(p domain.Product) bool { return match(strings.ToLower(get(p)), want) }, nil
}

func numericComparison(op domain.RuleOperator) (func(have, want int64) bool, error) {
	switch op {
	case domain.RuleEquals:
		return func(have, want int64) bool { return have == want }, nil
	case domain.RuleNotEquals:
		return func(have, want int64) bool { return have != want }, nil
	case domain.RuleGreaterThan:
		return func(have, want int64) bool { return have > want }, nil
	case domain.RuleLessThan:
		return func(have, want int64) bool { return have < want }, nil
	}
	return nil, fmt.Errorf("operator %s is not supported on numeric fields", op)
}

func textComparison(op domain.RuleOperator) (func(have, want string) bool, error) {
	switch op {
	case domain.RuleEquals:
		return func(have, want string) bool { return have == want }, nil
	case domain.RuleNotEquals:
		return func(have, want string) bool { return have != want }, nil
	case domain.RuleContains:
		return strings.Contains, nil
	case domain.RuleNotContains:
		return func(have, want string) bool { return !strings.Contains(have, want) }, nil
	case domain.RuleStartsWith:
		return strings.HasPrefix, nil
	case domain.RuleEndsWith:
		return strings.HasSuffix, nil
	}
	return nil, fmt.Errorf("operator %s is not supported on text fields", op)
}

func numericGetter(field domain.RuleField) func(domain.Product) int64 {
	switch field {
	case domain.RuleFieldPrice:
		return func(p domain.Product) int64 { return p.Price }
	case domain.RuleFieldCompareAtPrice:
		return func(p domain.Product) int64 { return p.CompareAtPrice }
	case domain.RuleFieldInventoryQuantity:
		return func(p domain.Product) int64 { return int64(p.InventoryQuantity) }
	default:
		return func(p domain.Product) int64 { return int64(p.WeightGrams) }
	}
}

func textGetter(field domain.RuleField) func(domain.Product) string {
	switch field {
	case domain.RuleFieldTitle:
		return func(p domain.Product) string { return p.Title }
	case domain.RuleFieldProductType:
		return func(p domain.Product) string { return p.ProductType }
	case domain.RuleFieldVendor:
		return func(p domain.Product) string { return p.Vendor }
	default:
		return func(p domain.Product) string { return p.Status }
	}
}

func multiGetter(field domain.RuleField) func(domain.Product) []string {
	if field == domain.RuleFieldTag {
		return func(p domain.Product) []string { return p.Tags }
	}
	return func(p domain.Product) []string { return p.CategoryIDs }
}
