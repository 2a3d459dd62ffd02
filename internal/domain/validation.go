package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldError describes one invalid field of an authored definition.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every problem found while validating a definition.
type ValidationError struct {
	Problems []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Field, p.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the names of the invalid fields in report order.
func (e *ValidationError) Fields() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Field)
	}
	return out
}

type problems []FieldError

func (p *problems) add(field, format string, args ...any) {
	*p = append(*p, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Problems: p}
}

// Valid reports whether the target is a known scope target.
func (t ScopeTarget) Valid() bool {
	switch t {
	case ScopeAllProducts, ScopeSpecificProducts, ScopeSpecificCategories, ScopeSpecificCollections,
		ScopeExcludeProducts, ScopeExcludeCategories, ScopeExcludeCollections:
		return true
	}
	return false
}

// Valid reports whether the target is a known customer target.
func (t CustomerTarget) Valid() bool {
	switch t {
	case CustomersAll, CustomersRegistered, CustomersSpecific, CustomersTiers:
		return true
	}
	return false
}

// Valid reports whether the kind is a known promotion kind.
func (k PromotionKind) Valid() bool {
	switch k {
	case PromotionPercentage, PromotionFixed, PromotionBuyXGetY, PromotionBuyXPayY,
		PromotionVolume, PromotionNthItem, PromotionFreeGift:
		return true
	}
	return false
}

// Valid reports whether the field is a known rule field.
func (f RuleField) Valid() bool {
	switch f {
	case RuleFieldTitle, RuleFieldProductType, RuleFieldVendor, RuleFieldTag, RuleFieldStatus,
		RuleFieldPrice, RuleFieldCompareAtPrice, RuleFieldInventoryQuantity, RuleFieldWeight,
		RuleFieldCategoryID:
		return true
	}
	return false
}

// Valid reports whether the operator is a known rule operator.
func (o RuleOperator) Valid() bool {
	switch o {
	case RuleEquals, RuleNotEquals, RuleGreaterThan, RuleLessThan, RuleContains, RuleNotContains,
		RuleStartsWith, RuleEndsWith:
		return true
	}
	return false
}

// Valid reports whether the operator is a known automation condition operator.
func (o ConditionOperator) Valid() bool {
	switch o {
	case ConditionEquals, ConditionNotEquals, ConditionGreaterThan, ConditionLessThan,
		ConditionContains, ConditionNotContains, ConditionIn, ConditionNotIn:
		return true
	}
	return false
}

// Valid reports whether the action type has a handler.
func (t ActionType) Valid() bool {
	switch t {
	case ActionSendNotification, ActionCallWebhook, ActionCreateEntity, ActionUpdateEntity:
		return true
	}
	return false
}

func validPercent(v float64) bool {
	return v >= 0 && v <= 100
}

// ValidatePromotion checks a promotion definition before it is stored.
func ValidatePromotion(p Promotion) error {
	var errs problems

	if strings.TrimSpace(p.ShopID) == "" {
		errs.add("shopId", "is required")
	}
	switch p.Type {
	case PromotionTypeDiscount:
	case PromotionTypeCoupon:
		if strings.TrimSpace(p.Code) == "" {
			errs.add("code", "is required for coupons")
		}
	default:
		errs.add("type", "unknown promotion type %q", p.Type)
	}
	if !p.Kind.Valid() {
		errs.add("kind", "unknown promotion kind %q", p.Kind)
	}
	if p.Value < 0 {
		errs.add("value", "must not be negative")
	}

	switch p.Kind {
	case PromotionPercentage, PromotionNthItem:
		if !validPercent(p.Value) {
			errs.add("value", "must be a percentage between 0 and 100")
		}
		if p.Kind == PromotionNthItem && p.NthItem < 1 {
			errs.add("nthItem", "must be at least 1")
		}
	case PromotionBuyXGetY:
		if p.BuyQuantity < 1 {
			errs.add("buyQuantity", "must be at least 1")
		}
		if p.GetQuantity < 1 || p.GetQuantity > p.BuyQuantity {
			errs.add("getQuantity", "must be between 1 and buyQuantity")
		}
		if !validPercent(p.GetDiscountPercent) {
			errs.add("getDiscountPercent", "must be between 0 and 100")
		}
	case PromotionBuyXPayY:
		if p.PayQuantity < 1 {
			errs.add("payQuantity", "must be at least 1")
		}
		if p.PayAmount < 0 {
			errs.add("payAmount", "must not be negative")
		}
	case PromotionVolume:
		if len(p.VolumeTiers) == 0 {
			errs.add("volumeTiers", "at least one tier is required")
		}
		for i, tier := range p.VolumeTiers {
			if tier.MinQty < 1 {
				errs.add(fmt.Sprintf("volumeTiers[%d].minQty", i), "must be at least 1")
			}
			if !validPercent(tier.DiscountPercent) {
				errs.add(fmt.Sprintf("volumeTiers[%d].discountPercent", i), "must be between 0 and 100")
			}
		}
	case PromotionFreeGift:
		if !p.HasGift() {
			errs.add("giftProductId", "free gift promotions need a gift product and condition")
		}
	}

	validateScope(&errs, p.Scope)

	if p.GiftCondition != "" {
		if strings.TrimSpace(p.GiftProductID) == "" {
			errs.add("giftProductId", "is required when a gift condition is set")
		}
		switch p.GiftCondition {
		case GiftOnMinOrderAmount:
			if p.GiftConditionAmount == nil || *p.GiftConditionAmount < 0 {
				errs.add("giftConditionAmount", "is required for MIN_ORDER_AMOUNT gifts")
			}
		case GiftOnSpecificProduct:
			if strings.TrimSpace(p.GiftConditionProductID) == "" {
				errs.add("giftConditionProductId", "is required for SPECIFIC_PRODUCT gifts")
			}
		default:
			errs.add("giftCondition", "unknown gift condition %q", p.GiftCondition)
		}
	}

	if p.MinOrderAmount != nil && *p.MinOrderAmount < 0 {
		errs.add("minOrderAmount", "must not be negative")
	}
	if p.MaxDiscountAmount != nil && *p.MaxDiscountAmount < 0 {
		errs.add("maxDiscountAmount", "must not be negative")
	}
	if p.StartDate != nil && p.EndDate != nil && p.StartDate.After(*p.EndDate) {
		errs.add("endDate", "must not precede startDate")
	}
	if p.MaxUses != nil {
		if *p.MaxUses < 0 {
			errs.add("maxUses", "must not be negative")
		} else if p.UsedCount > *p.MaxUses {
			errs.add("usedCount", "exceeds maxUses")
		}
	}
	if p.UsesPerCustomer != nil && *p.UsesPerCustomer < 1 {
		errs.add("usesPerCustomer", "must be at least 1")
	}
	return errs.err()
}

func validateScope(errs *problems, scope ScopeSelector) {
	if !scope.Target.Valid() {
		errs.add("scope.target", "unknown scope target %q", scope.Target)
	}
	switch scope.Target {
	case ScopeSpecificProducts, ScopeSpecificCategories, ScopeSpecificCollections:
		if len(scope.InclusionIDs) == 0 {
			errs.add("scope.inclusionIds", "at least one id is required for %s", scope.Target)
		}
	}
	if scope.CustomerTarget != "" && !scope.CustomerTarget.Valid() {
		errs.add("scope.customerTarget", "unknown customer target %q", scope.CustomerTarget)
	}
	switch scope.CustomerTarget {
	case CustomersSpecific:
		if len(scope.CustomerIDs) == 0 {
			errs.add("scope.customerIds", "at least one customer is required")
		}
	case CustomersTiers:
		if len(scope.CustomerTiers) == 0 {
			errs.add("scope.customerTiers", "at least one tier is required")
		}
	}
}

// ValidateRuleTree checks a collection rule tree before it is stored.
func ValidateRuleTree(tree RuleTree) error {
	var errs problems
	if tree.Combinator != CombinatorAll && tree.Combinator != CombinatorAny {
		errs.add("combinator", "must be ANY or ALL")
	}
	for i, cond := range tree.Conditions {
		prefix := fmt.Sprintf("conditions[%d]", i)
		if !cond.Field.Valid() {
			errs.add(prefix+".field", "unknown field %q", cond.Field)
			continue
		}
		if !cond.Operator.Valid() {
			errs.add(prefix+".operator", "unknown operator %q", cond.Operator)
			continue
		}
		if cond.Field.Numeric() {
			if _, err := strconv.ParseInt(strings.TrimSpace(cond.Value), 10, 64); err != nil {
				errs.add(prefix+".value", "must be an integer for %s", cond.Field)
			}
			switch cond.Operator {
			case RuleContains, RuleNotContains, RuleStartsWith, RuleEndsWith:
				errs.add(prefix+".operator", "%s does not apply to numeric field %s", cond.Operator, cond.Field)
			}
			continue
		}
		if cond.Operator == RuleGreaterThan || cond.Operator == RuleLessThan {
			errs.add(prefix+".operator", "%s applies to numeric fields only", cond.Operator)
		}
	}
	return errs.err()
}

// ValidateCollection checks the type and rules of a collection definition.
func ValidateCollection(c Collection) error {
	switch c.Type {
	case CollectionManual:
		if c.Rules != nil {
			return &ValidationError{Problems: []FieldError{{Field: "rules", Message: "manual collections carry no rules"}}}
		}
		return nil
	case CollectionAutomatic:
		if c.Rules == nil {
			return &ValidationError{Problems: []FieldError{{Field: "rules", Message: "automatic collections require rules"}}}
		}
		return ValidateRuleTree(*c.Rules)
	}
	return &ValidationError{Problems: []FieldError{{Field: "type", Message: fmt.Sprintf("unknown collection type %q", c.Type)}}}
}

// ValidateAutomation checks an automation definition before it is stored.
func ValidateAutomation(a Automation) error {
	var errs problems
	if strings.TrimSpace(a.ShopID) == "" {
		errs.add("shopId", "is required")
	}
	if strings.TrimSpace(a.Trigger.EventType) == "" {
		errs.add("trigger.eventType", "is required")
	}
	for i, cond := range a.Conditions {
		prefix := fmt.Sprintf("conditions[%d]", i)
		if strings.TrimSpace(cond.Field) == "" {
			errs.add(prefix+".field", "is required")
		}
		if !cond.Operator.Valid() {
			errs.add(prefix+".operator", "unknown operator %q", cond.Operator)
		}
		if i > 0 && cond.LogicalOperator != LogicalAnd && cond.LogicalOperator != LogicalOr {
			errs.add(prefix+".logicalOperator", "must be AND or OR")
		}
		if cond.Operator == ConditionIn || cond.Operator == ConditionNotIn {
			if _, ok := cond.Value.([]any); !ok {
				if _, ok := cond.Value.([]string); !ok {
					errs.add(prefix+".value", "must be a list for %s", cond.Operator)
				}
			}
		}
	}
	if len(a.Actions) == 0 {
		errs.add("actions", "at least one action is required")
	}
	for i, action := range a.Actions {
		prefix := fmt.Sprintf("actions[%d]", i)
		if !action.Type.Valid() {
			errs.add(prefix+".type", "unknown action type %q", action.Type)
			continue
		}
		for _, key := range requiredActionKeys(action.Type) {
			if s, _ := action.Config[key].(string); strings.TrimSpace(s) == "" {
				errs.add(prefix+".config."+key, "is required")
			}
		}
	}
	return errs.err()
}

func requiredActionKeys(t ActionType) []string {
	switch t {
	case ActionSendNotification:
		return []string{"channel", "recipient", "template"}
	case ActionCallWebhook:
		return []string{"url"}
	case ActionCreateEntity:
		return []string{"entityType"}
	case ActionUpdateEntity:
		return []string{"entityType", "entityId"}
	}
	return nil
}
